package config

import (
	"regexp"
	"strings"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// Default policy values
const (
	DefaultDMPolicy    = "open"
	DefaultGroupPolicy = "open"
)

// DMPolicy is the resolved direct-message policy for one account
type DMPolicy struct {
	Policy        string
	AllowFrom     []string
	AllowFromPath string // Config path where allowFrom entries are edited
}

// ResolveDMPolicy returns the account's DM policy with defaults applied
func ResolveDMPolicy(cfg *Config, account ResolvedAccount) DMPolicy {
	policy := DMPolicy{Policy: DefaultDMPolicy}
	if dm := account.Config.DM; dm != nil {
		if dm.Policy != "" {
			policy.Policy = dm.Policy
		}
		policy.AllowFrom = append([]string(nil), dm.AllowFrom...)
	}

	channel := cfg.Channel()
	if channel != nil && hasAccount(channel, account.AccountID) {
		policy.AllowFromPath = "channels." + constants.ChannelID + ".accounts." + account.AccountID + ".dm."
	} else {
		policy.AllowFromPath = "channels." + constants.ChannelID + ".dm."
	}
	return policy
}

var allowEntryPrefix = regexp.MustCompile(`(?i)^dingtalk:`)

// NormalizeAllowEntry strips the channel prefix from an allowFrom entry
func NormalizeAllowEntry(entry string) string {
	return allowEntryPrefix.ReplaceAllString(strings.TrimSpace(entry), "")
}

// RequireMention reports whether group messages must mention the bot. Defaults to true.
func RequireMention(account ResolvedAccount) bool {
	if account.Config.RequireMention == nil {
		return true
	}
	return *account.Config.RequireMention
}

// GroupPolicy returns the account's group policy, falling back to the host default
func GroupPolicy(cfg *Config, account ResolvedAccount) string {
	if account.Config.GroupPolicy != "" {
		return account.Config.GroupPolicy
	}
	if cfg != nil && cfg.Channels.Defaults.GroupPolicy != "" {
		return cfg.Channels.Defaults.GroupPolicy
	}
	return DefaultGroupPolicy
}
