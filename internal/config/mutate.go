package config

import "github.com/keepmind9/dingtalk-channel/pkg/constants"

// usesTopLevel reports whether accountID is stored in the top-level channel block
func usesTopLevel(channel *ChannelConfig, accountID string) bool {
	return accountID == constants.DefaultAccountID && channel != nil && channel.ClientID != ""
}

// patchAccount clones cfg and applies patch to the block that stores accountID
func patchAccount(cfg *Config, accountID string, patch func(*AccountConfig)) *Config {
	next := cfg.Clone()
	if next.Channels.DingTalk == nil {
		next.Channels.DingTalk = &ChannelConfig{}
	}
	channel := next.Channels.DingTalk

	if usesTopLevel(channel, accountID) {
		patch(&channel.AccountConfig)
		return next
	}

	if channel.Accounts == nil {
		channel.Accounts = make(map[string]AccountConfig)
	}
	acct := channel.Accounts[accountID]
	patch(&acct)
	channel.Accounts[accountID] = acct
	return next
}

// SetAccountEnabled returns a copy of cfg with the account's enabled flag set
func SetAccountEnabled(cfg *Config, accountID string, enabled bool) *Config {
	return patchAccount(cfg, accountID, func(a *AccountConfig) {
		a.Enabled = Bool(enabled)
	})
}

// ApplyAccountName returns a copy of cfg with the account's display name set.
// An empty name leaves cfg untouched.
func ApplyAccountName(cfg *Config, accountID, name string) *Config {
	if name == "" {
		return cfg
	}
	return patchAccount(cfg, accountID, func(a *AccountConfig) {
		a.Name = name
	})
}

// DeleteAccount returns a copy of cfg without the account.
//
// For the default account stored at top level only the credential and name fields are
// stripped, so channel-wide settings survive. Named accounts lose their whole entry.
// Unknown accounts return cfg unchanged.
func DeleteAccount(cfg *Config, accountID string) *Config {
	channel := cfg.Channel()
	if channel == nil {
		return cfg
	}

	if usesTopLevel(channel, accountID) {
		next := cfg.Clone()
		top := &next.Channels.DingTalk.AccountConfig
		top.ClientID = ""
		top.ClientSecret = ""
		top.WebhookURL = ""
		top.Name = ""
		return next
	}

	if !hasAccount(channel, accountID) {
		return cfg
	}
	next := cfg.Clone()
	delete(next.Channels.DingTalk.Accounts, accountID)
	return next
}

// ApplyAccountConfig returns a copy of cfg with the setup input written for accountID.
// The channel is enabled as a side effect. Environment-backed setup (UseEnv) only applies
// to the default account and leaves credentials out of the file.
func ApplyAccountConfig(cfg *Config, accountID string, input SetupInput) *Config {
	named := ApplyAccountName(cfg, accountID, input.Name)
	next := named.Clone()
	if next.Channels.DingTalk == nil {
		next.Channels.DingTalk = &ChannelConfig{}
	}
	channel := next.Channels.DingTalk
	channel.Enabled = Bool(true)

	if accountID == constants.DefaultAccountID {
		if !input.UseEnv {
			channel.ClientID = input.ClientID
			channel.ClientSecret = input.ClientSecret
		}
		return next
	}

	if channel.Accounts == nil {
		channel.Accounts = make(map[string]AccountConfig)
	}
	acct := channel.Accounts[accountID]
	acct.Enabled = Bool(true)
	acct.ClientID = input.ClientID
	acct.ClientSecret = input.ClientSecret
	channel.Accounts[accountID] = acct
	return next
}
