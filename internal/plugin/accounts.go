package plugin

import (
	"regexp"
	"strings"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// AccountDescription is the short account summary shown in host listings
type AccountDescription struct {
	AccountID   string             `json:"accountId"`
	Name        string             `json:"name,omitempty"`
	Enabled     bool               `json:"enabled"`
	Configured  bool               `json:"configured"`
	TokenSource config.TokenSource `json:"tokenSource"`
}

// TargetHint tells users what an outbound target looks like
const TargetHint = "<conversationId|user:ID>"

var targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ListAccountIDs returns the configured account ids, default first and named ones sorted
func (p *Plugin) ListAccountIDs(cfg *config.Config) []string {
	return config.ListAccountIDs(cfg)
}

// ResolveAccount resolves accountID against cfg. It never fails.
func (p *Plugin) ResolveAccount(cfg *config.Config, accountID string) config.ResolvedAccount {
	return config.ResolveAccount(cfg, accountID)
}

// DefaultAccountID returns the account used when a request names none
func (p *Plugin) DefaultAccountID(cfg *config.Config) string {
	return config.DefaultAccountID(cfg)
}

// SetAccountEnabled returns a copy of cfg with the account's enabled flag set
func (p *Plugin) SetAccountEnabled(cfg *config.Config, accountID string, enabled bool) *config.Config {
	return config.SetAccountEnabled(cfg, accountID, enabled)
}

// DeleteAccount returns a copy of cfg without the account
func (p *Plugin) DeleteAccount(cfg *config.Config, accountID string) *config.Config {
	return config.DeleteAccount(cfg, accountID)
}

// IsConfigured reports whether the account has both credentials
func (p *Plugin) IsConfigured(account config.ResolvedAccount) bool {
	return account.Configured
}

// DescribeAccount summarizes an account for listings
func (p *Plugin) DescribeAccount(account config.ResolvedAccount) AccountDescription {
	return AccountDescription{
		AccountID:   account.AccountID,
		Name:        account.Name,
		Enabled:     account.Enabled,
		Configured:  account.Configured,
		TokenSource: account.TokenSource,
	}
}

// ResolveDMPolicy returns the DM policy of account. accountID overrides the account's own id
// when choosing the allowFrom config path.
func (p *Plugin) ResolveDMPolicy(cfg *config.Config, accountID string, account config.ResolvedAccount) config.DMPolicy {
	if accountID != "" {
		account.AccountID = accountID
	}
	if account.AccountID == "" {
		account.AccountID = constants.DefaultAccountID
	}
	return config.ResolveDMPolicy(cfg, account)
}

// NormalizeAllowEntry strips the dingtalk: prefix from an allowFrom entry
func (p *Plugin) NormalizeAllowEntry(entry string) string {
	return config.NormalizeAllowEntry(entry)
}

// MentionStripPatterns are removed from group messages before they reach the agent
func (p *Plugin) MentionStripPatterns() []string {
	return []string{`@\S+\s*`}
}

// ResolveRequireMention reports whether group messages must mention the bot
func (p *Plugin) ResolveRequireMention(cfg *config.Config, accountID string) bool {
	return config.RequireMention(config.ResolveAccount(cfg, accountID))
}

// ResolveGroupPolicy returns the group policy of the account: open or allowlist
func (p *Plugin) ResolveGroupPolicy(cfg *config.Config, accountID string) string {
	return config.GroupPolicy(cfg, config.ResolveAccount(cfg, accountID))
}

// NormalizeTarget namespaces a target under dingtalk:
func (p *Plugin) NormalizeTarget(target string) string {
	if strings.HasPrefix(target, constants.TargetPrefix+":") {
		return target
	}
	return constants.TargetPrefix + ":" + target
}

// LooksLikeID reports whether id could be a raw conversation or user id
func (p *Plugin) LooksLikeID(id string) bool {
	return targetIDPattern.MatchString(id)
}

// ResolveSetupAccountID normalizes the account id given to setup
func (p *Plugin) ResolveSetupAccountID(accountID string) string {
	return config.NormalizeAccountID(accountID)
}

// ApplyAccountName returns a copy of cfg with the account's display name set
func (p *Plugin) ApplyAccountName(cfg *config.Config, accountID, name string) *config.Config {
	return config.ApplyAccountName(cfg, accountID, name)
}

// ValidateSetupInput rejects setup input that cannot produce a working account
func (p *Plugin) ValidateSetupInput(accountID string, input config.SetupInput) error {
	return config.ValidateSetupInput(accountID, input)
}

// ApplyAccountConfig names the account, enables the channel and stores the credentials
func (p *Plugin) ApplyAccountConfig(cfg *config.Config, accountID string, input config.SetupInput) *config.Config {
	return config.ApplyAccountConfig(cfg, accountID, input)
}
