package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/gateway"
	"github.com/keepmind9/dingtalk-channel/internal/host/local"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/internal/plugin"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errNothingToServe = errors.New("no enabled DingTalk account is configured")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DingTalk channel",
	Long: `Connect every enabled stream-mode account and, when callback_server.enabled is set,
accept outgoing-robot callbacks for webhook-mode accounts. Stops on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

// serve runs until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger()

	hostRuntime, err := local.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create host runtime: %w", err)
	}
	p := plugin.RegisterWithOptions(plugin.API{
		Config:  cfg,
		Logger:  log,
		Runtime: hostRuntime,
	}, plugin.Options{MediaWorkDir: cfg.Media.WorkDir})

	var (
		starts   errgroup.Group
		started  int
		webhooks int
	)
	for _, id := range p.ListAccountIDs(cfg) {
		acct := p.ResolveAccount(cfg, id)
		fields := logrus.Fields{"account_id": id, "mode": acct.Mode()}
		if !acct.Enabled || !acct.Configured {
			log.WithFields(fields).Info("skipping-account")
			continue
		}
		if acct.Mode() == config.ModeWebhook {
			webhooks++
			continue
		}
		started++
		starts.Go(func() error {
			return p.StartAccount(ctx, plugin.StartRequest{Config: cfg, Account: acct})
		})
	}
	if err := starts.Wait(); err != nil {
		log.WithField("error", err).Error("failed-to-start-account")
	}

	if webhooks > 0 && !cfg.CallbackServer.Enabled {
		log.WithField("accounts", webhooks).Warn("webhook-accounts-need-callback-server")
	}
	if started == 0 && !cfg.CallbackServer.Enabled {
		return errNothingToServe
	}

	serverErr := make(chan error, 1)
	if cfg.CallbackServer.Enabled {
		srv := gateway.NewCallbackServer(p.Gateway(), cfg.CallbackServer.Addr, p.Config)
		go func() {
			serverErr <- srv.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting-down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("callback server: %w", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		p.Gateway().Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(constants.ShutdownTimeout):
		log.Warn("in-flight-replies-abandoned")
	}

	log.Info("dingtalk-channel-stopped")
	return nil
}
