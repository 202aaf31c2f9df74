package main

import (
	"encoding/json"
	"fmt"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/plugin"
	"github.com/spf13/cobra"
)

var (
	accountsJSON bool

	addName         string
	addClientID     string
	addClientSecret string
	addUseEnv       bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage DingTalk accounts in the configuration file",
	Long: `List, add, enable, disable and delete DingTalk robot accounts.

Edits are written back to the configuration file. Environment variable
references in the file are kept as written.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.ReadFile(configFile)
		if err != nil {
			return err
		}
		p := plugin.New(plugin.API{Config: cfg}, plugin.Options{})

		var descriptions []plugin.AccountDescription
		for _, id := range p.ListAccountIDs(cfg) {
			descriptions = append(descriptions, p.DescribeAccount(p.ResolveAccount(cfg, id)))
		}

		out := cmd.OutOrStdout()
		if accountsJSON {
			data, err := json.MarshalIndent(descriptions, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal accounts: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		if len(descriptions) == 0 {
			fmt.Fprintln(out, "No DingTalk accounts configured")
			return nil
		}
		for _, d := range descriptions {
			state := "enabled"
			if !d.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(out, "%s\t%s\tconfigured=%v\tsource=%s\t%s\n", d.AccountID, state, d.Configured, d.TokenSource, d.Name)
		}
		return nil
	},
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <account>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig(cmd, func(p *plugin.Plugin, cfg *config.Config, id string) (*config.Config, error) {
			return p.SetAccountEnabled(cfg, id, true), nil
		}, args[0], "enabled")
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <account>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig(cmd, func(p *plugin.Plugin, cfg *config.Config, id string) (*config.Config, error) {
			return p.SetAccountEnabled(cfg, id, false), nil
		}, args[0], "disabled")
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <account>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig(cmd, func(p *plugin.Plugin, cfg *config.Config, id string) (*config.Config, error) {
			next := p.DeleteAccount(cfg, id)
			if next == cfg {
				return nil, fmt.Errorf("account %q not found", id)
			}
			return next, nil
		}, args[0], "deleted")
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add [account]",
	Short: "Add or update an account",
	Long: `Add an account, or update the credentials of an existing one.
Without an account id the default account is set up.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID := ""
		if len(args) > 0 {
			accountID = args[0]
		}
		input := config.SetupInput{
			Name:         addName,
			ClientID:     addClientID,
			ClientSecret: addClientSecret,
			UseEnv:       addUseEnv,
		}
		return editConfig(cmd, func(p *plugin.Plugin, cfg *config.Config, id string) (*config.Config, error) {
			if err := p.ValidateSetupInput(id, input); err != nil {
				return nil, err
			}
			return p.ApplyAccountConfig(cfg, id, input), nil
		}, accountID, "saved")
	},
}

func init() {
	accountsListCmd.Flags().BoolVar(&accountsJSON, "json", false, "Output in JSON format")

	accountsAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	accountsAddCmd.Flags().StringVar(&addClientID, "client-id", "", "Robot AppKey (clientId)")
	accountsAddCmd.Flags().StringVar(&addClientSecret, "client-secret", "", "Robot AppSecret (clientSecret)")
	accountsAddCmd.Flags().BoolVar(&addUseEnv, "use-env", false, "Read credentials from DINGTALK_CLIENT_ID/DINGTALK_CLIENT_SECRET")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsEnableCmd)
	accountsCmd.AddCommand(accountsDisableCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
}

// editConfig reads the raw config file, applies edit and writes the result back
func editConfig(cmd *cobra.Command, edit func(*plugin.Plugin, *config.Config, string) (*config.Config, error), accountID, verb string) error {
	cfg, err := config.ReadFile(configFile)
	if err != nil {
		return err
	}
	p := plugin.New(plugin.API{Config: cfg}, plugin.Options{})
	id := p.ResolveSetupAccountID(accountID)

	next, err := edit(p, cfg, id)
	if err != nil {
		return err
	}
	if err := config.Validate(next); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := config.WriteFile(configFile, next); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s %s\n", id, verb)
	return nil
}
