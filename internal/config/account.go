package config

import (
	"regexp"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// ResolvedAccount is an account with credentials and computed fields filled in.
// It is recomputed from the live configuration on every lookup.
type ResolvedAccount struct {
	AccountID    string
	Name         string
	Enabled      bool
	Configured   bool // Both credentials non-empty after trimming
	ClientID     string
	ClientSecret string
	TokenSource  TokenSource
	VerboseLevel VerboseLevel
	Config       AccountConfig
}

// Mode returns the connection mode, defaulting to stream
func (a ResolvedAccount) Mode() string {
	if a.Config.Mode == "" {
		return ModeStream
	}
	return a.Config.Mode
}

// WebhookURL returns the statically configured reply webhook, if any
func (a ResolvedAccount) WebhookURL() string {
	return a.Config.WebhookURL
}

// envCredentials holds the default account's environment fallback
type envCredentials struct {
	ClientID     string `env:"DINGTALK_CLIENT_ID"`
	ClientSecret string `env:"DINGTALK_CLIENT_SECRET"`
	WebhookURL   string `env:"DINGTALK_WEBHOOK_URL"`
}

// readEnvCredentials is swapped in tests
var readEnvCredentials = func() envCredentials {
	var creds envCredentials
	if err := env.Parse(&creds); err != nil {
		return envCredentials{}
	}
	return creds
}

// ResolveAccount derives the account identified by accountID from cfg.
//
// For the default account the precedence is: top-level channel credentials (when both are
// present), then accounts.default, then the DINGTALK_* environment variables. Named accounts
// only consult their own accounts entry.
func ResolveAccount(cfg *Config, accountID string) ResolvedAccount {
	if accountID == "" {
		accountID = constants.DefaultAccountID
	}
	channel := cfg.Channel()

	var (
		acct   *AccountConfig
		source = TokenSourceNone
	)

	if accountID == constants.DefaultAccountID {
		switch {
		case channel != nil && channel.ClientID != "" && channel.ClientSecret != "":
			top := channel.AccountConfig.clone()
			acct = &top
			source = TokenSourceConfig
		case channel != nil && hasAccount(channel, constants.DefaultAccountID):
			named := channel.Accounts[constants.DefaultAccountID].clone()
			acct = &named
			source = TokenSourceConfig
		default:
			creds := readEnvCredentials()
			if creds.ClientID != "" && creds.ClientSecret != "" {
				acct = &AccountConfig{
					Enabled:      Bool(true),
					ClientID:     creds.ClientID,
					ClientSecret: creds.ClientSecret,
					WebhookURL:   creds.WebhookURL,
				}
				source = TokenSourceEnv
			}
		}
	} else if channel != nil && hasAccount(channel, accountID) {
		named := channel.Accounts[accountID].clone()
		acct = &named
		source = TokenSourceConfig
	}

	if acct == nil {
		acct = &AccountConfig{}
	}

	enabled := true
	if acct.Enabled != nil {
		enabled = *acct.Enabled
	}

	verbose := acct.VerboseLevel
	if verbose == "" && channel != nil {
		verbose = channel.VerboseLevel
	}
	if verbose == "" {
		verbose = VerboseOff
	}

	return ResolvedAccount{
		AccountID:    accountID,
		Name:         acct.Name,
		Enabled:      enabled,
		Configured:   strings.TrimSpace(acct.ClientID) != "" && strings.TrimSpace(acct.ClientSecret) != "",
		ClientID:     acct.ClientID,
		ClientSecret: acct.ClientSecret,
		TokenSource:  source,
		VerboseLevel: verbose,
		Config:       *acct,
	}
}

// ListAccountIDs returns the default account (when top-level credentials exist) followed by
// named accounts in sorted order
func ListAccountIDs(cfg *Config) []string {
	channel := cfg.Channel()
	if channel == nil {
		return nil
	}

	var ids []string
	if channel.ClientID != "" && channel.ClientSecret != "" {
		ids = append(ids, constants.DefaultAccountID)
	}

	named := make([]string, 0, len(channel.Accounts))
	for id := range channel.Accounts {
		if id == constants.DefaultAccountID && len(ids) > 0 {
			continue
		}
		named = append(named, id)
	}
	sort.Strings(named)
	return append(ids, named...)
}

// DefaultAccountID returns the default sentinel when it is listed, else the first account
func DefaultAccountID(cfg *Config) string {
	ids := ListAccountIDs(cfg)
	for _, id := range ids {
		if id == constants.DefaultAccountID {
			return id
		}
	}
	if len(ids) > 0 {
		return ids[0]
	}
	return constants.DefaultAccountID
}

var accountIDInvalidChars = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeAccountID lower-cases an account id and replaces unsupported characters
func NormalizeAccountID(accountID string) string {
	if accountID == "" || accountID == constants.DefaultAccountID {
		return constants.DefaultAccountID
	}
	return accountIDInvalidChars.ReplaceAllString(strings.ToLower(accountID), "_")
}

func hasAccount(channel *ChannelConfig, accountID string) bool {
	if channel == nil || channel.Accounts == nil {
		return false
	}
	_, ok := channel.Accounts[accountID]
	return ok
}
