package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/spf13/cobra"
)

var validateJSON bool

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	Accounts int      `json:"accounts"`
	Enabled  int      `json:"enabled"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without connecting to DingTalk.

This command checks:
  - YAML syntax and environment variable expansion
  - Field constraints (modes, policies, verbose levels, URLs)
  - Account credentials
  - Callback server settings for webhook-mode accounts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		result := validateFile(configFile)
		if err := outputValidationResult(cmd.OutOrStdout(), result, validateJSON); err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("configuration %s is invalid", configFile)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}

func validateFile(path string) ValidationResult {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return ValidationResult{Valid: false, Config: path, Errors: []string{err.Error()}}
	}

	ids := config.ListAccountIDs(cfg)
	result := ValidationResult{Valid: true, Config: path, Accounts: len(ids)}
	for _, id := range ids {
		if config.ResolveAccount(cfg, id).Enabled {
			result.Enabled++
		}
	}
	result.Warnings = validateConfigDetails(cfg)
	return result
}

func validateConfigDetails(cfg *config.Config) []string {
	var warnings []string

	ids := config.ListAccountIDs(cfg)
	if len(ids) == 0 && !config.ResolveAccount(cfg, "").Configured {
		warnings = append(warnings, "No DingTalk account is configured")
	}

	webhookAccounts := 0
	for _, id := range ids {
		acct := config.ResolveAccount(cfg, id)
		if !acct.Enabled {
			continue
		}
		if !acct.Configured {
			warnings = append(warnings, fmt.Sprintf("Account '%s' is enabled but has no clientId/clientSecret", id))
		}
		if acct.Mode() == config.ModeWebhook {
			webhookAccounts++
		}
		if policy := config.ResolveDMPolicy(cfg, acct); policy.Policy == "allowlist" && len(policy.AllowFrom) == 0 {
			warnings = append(warnings, fmt.Sprintf("Account '%s' uses a DM allowlist with no entries", id))
		}
	}
	if webhookAccounts > 0 && !cfg.CallbackServer.Enabled {
		warnings = append(warnings, "Webhook-mode accounts are configured but callback_server is disabled")
	}
	return warnings
}

func outputValidationResult(w io.Writer, result ValidationResult, jsonFormat bool) error {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal json: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	if !result.Valid {
		fmt.Fprintln(w, "❌ Configuration validation failed:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", errMsg)
		}
		return nil
	}

	fmt.Fprintln(w, "✓ Configuration is valid")
	fmt.Fprintf(w, "  - Config: %s\n", result.Config)
	fmt.Fprintf(w, "  - Accounts: %d (%d enabled)\n", result.Accounts, result.Enabled)
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\n⚠️  Warnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
	return nil
}
