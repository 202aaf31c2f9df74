package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/internal/plugin"
	"github.com/spf13/cobra"
)

var (
	sendAccount  string
	sendTo       string
	sendWebhook  string
	sendMedia    string
	sendMarkdown bool
)

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a message through a robot webhook",
	Long: `Send a message to a DingTalk robot webhook.

With --webhook the message is posted to that URL. Otherwise it goes to the
account's configured webhookUrl.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := plugin.New(plugin.API{Config: cfg, Logger: logger.GetLogger()}, plugin.Options{})
		text := strings.Join(args, " ")

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var (
			ok     bool
			errMsg string
		)
		if sendWebhook != "" {
			res := p.DingTalk().Sender.SendToWebhook(ctx, sendWebhook, text, dingtalk.SendOptions{
				AccountID: sendAccount,
				MediaURL:  sendMedia,
				Markdown:  sendMarkdown,
			})
			ok, errMsg = res.OK, res.Error
		} else {
			req := plugin.OutboundRequest{To: sendTo, Text: text, MediaURL: sendMedia, AccountID: sendAccount}
			var res plugin.OutboundResult
			if sendMedia != "" {
				res = p.SendMedia(ctx, req)
			} else {
				res = p.SendText(ctx, req)
			}
			ok, errMsg = res.OK, res.Error
		}

		if !ok {
			return errors.New(errMsg)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Message sent")
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendAccount, "account", "a", "", "Account id (default account when empty)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Target conversation (dingtalk:user:ID, dingtalk:channel:ID or a raw id)")
	sendCmd.Flags().StringVar(&sendWebhook, "webhook", "", "Robot webhook URL")
	sendCmd.Flags().StringVar(&sendMedia, "media-url", "", "Image URL appended to the message")
	sendCmd.Flags().BoolVar(&sendMarkdown, "markdown", false, "Send as markdown")
}
