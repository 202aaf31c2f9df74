package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/internal/plugin"
	"github.com/spf13/cobra"
)

var (
	statusJSON    bool
	statusNoProbe bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show DingTalk account status",
	Long:  "Resolve every configured account and verify its credentials against the DingTalk API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := plugin.New(plugin.API{Config: cfg, Logger: logger.GetLogger()}, plugin.Options{})
		snapshots := collectStatus(cmd.Context(), p, cfg, !statusNoProbe, statusTimeout)
		return outputStatus(cmd.OutOrStdout(), snapshots, statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	statusCmd.Flags().BoolVar(&statusNoProbe, "no-probe", false, "Skip the credential check")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 0, "Credential check timeout (default 5s)")
}

func collectStatus(ctx context.Context, p *plugin.Plugin, cfg *config.Config, probe bool, timeout time.Duration) []plugin.AccountSnapshot {
	if ctx == nil {
		ctx = context.Background()
	}
	ids := p.ListAccountIDs(cfg)
	if len(ids) == 0 {
		ids = []string{p.DefaultAccountID(cfg)}
	}

	snapshots := make([]plugin.AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		acct := p.ResolveAccount(cfg, id)
		var result *dingtalk.ProbeResult
		if probe {
			r := p.ProbeAccount(ctx, acct, timeout)
			result = &r
		}
		runtime := p.RuntimeStatus(id)
		snapshots = append(snapshots, p.BuildAccountSnapshot(acct, &runtime, result))
	}
	return snapshots
}

func outputStatus(w io.Writer, snapshots []plugin.AccountSnapshot, jsonFormat bool) error {
	if jsonFormat {
		output, err := json.MarshalIndent(snapshots, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	fmt.Fprintln(w, "DingTalk accounts:")
	for _, s := range snapshots {
		state := "disabled"
		if s.Enabled {
			state = "enabled"
		}
		if !s.Configured {
			state += ", not configured"
		}
		fmt.Fprintf(w, "  - %s (%s, %s, credentials from %s)\n", s.AccountID, state, s.Mode, s.TokenSource)
		if s.Name != "" {
			fmt.Fprintf(w, "    Name:  %s\n", s.Name)
		}
		if s.Probe != nil {
			if s.Probe.OK {
				fmt.Fprintln(w, "    Probe: ✓ credentials verified")
			} else {
				fmt.Fprintf(w, "    Probe: ❌ %s\n", s.Probe.Error)
			}
		}
	}
	return nil
}
