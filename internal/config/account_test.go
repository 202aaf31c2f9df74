package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearDingTalkEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DINGTALK_CLIENT_ID", "")
	t.Setenv("DINGTALK_CLIENT_SECRET", "")
	t.Setenv("DINGTALK_WEBHOOK_URL", "")
}

func TestResolveAccount_DefaultPrecedence(t *testing.T) {
	clearDingTalkEnv(t)

	t.Run("top-level credentials win", func(t *testing.T) {
		cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
			AccountConfig: AccountConfig{ClientID: "top", ClientSecret: "top-secret"},
			Accounts: map[string]AccountConfig{
				"default": {ClientID: "named", ClientSecret: "named-secret"},
			},
		}}}

		acct := ResolveAccount(cfg, "default")
		assert.Equal(t, "top", acct.ClientID)
		assert.Equal(t, TokenSourceConfig, acct.TokenSource)
		assert.True(t, acct.Configured)
	})

	t.Run("accounts.default used without top-level pair", func(t *testing.T) {
		cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
			AccountConfig: AccountConfig{ClientID: "top-only-id"},
			Accounts: map[string]AccountConfig{
				"default": {ClientID: "named", ClientSecret: "named-secret", Name: "Main"},
			},
		}}}

		acct := ResolveAccount(cfg, "")
		assert.Equal(t, "default", acct.AccountID)
		assert.Equal(t, "named", acct.ClientID)
		assert.Equal(t, "Main", acct.Name)
	})

	t.Run("environment is the last resort", func(t *testing.T) {
		t.Setenv("DINGTALK_CLIENT_ID", "env-id")
		t.Setenv("DINGTALK_CLIENT_SECRET", "env-secret")
		t.Setenv("DINGTALK_WEBHOOK_URL", "https://hooks.example/env")

		acct := ResolveAccount(&Config{}, "default")
		assert.Equal(t, TokenSourceEnv, acct.TokenSource)
		assert.Equal(t, "env-id", acct.ClientID)
		assert.Equal(t, "https://hooks.example/env", acct.WebhookURL())
		assert.True(t, acct.Enabled)
		assert.True(t, acct.Configured)
	})

	t.Run("nothing configured", func(t *testing.T) {
		acct := ResolveAccount(&Config{}, "default")
		assert.Equal(t, TokenSourceNone, acct.TokenSource)
		assert.False(t, acct.Configured)
		assert.True(t, acct.Enabled)
	})
}

func TestResolveAccount_NamedAccountIgnoresEnvAndTopLevel(t *testing.T) {
	t.Setenv("DINGTALK_CLIENT_ID", "env-id")
	t.Setenv("DINGTALK_CLIENT_SECRET", "env-secret")

	cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		AccountConfig: AccountConfig{ClientID: "top", ClientSecret: "top-secret"},
	}}}

	acct := ResolveAccount(cfg, "sales")
	assert.Equal(t, "sales", acct.AccountID)
	assert.Empty(t, acct.ClientID)
	assert.Equal(t, TokenSourceNone, acct.TokenSource)
	assert.False(t, acct.Configured)
}

func TestResolveAccount_ConfiguredRequiresBothTrimmedCredentials(t *testing.T) {
	tests := []struct {
		name       string
		id, secret string
		configured bool
	}{
		{"both present", "id", "secret", true},
		{"missing id", "", "secret", false},
		{"missing secret", "id", "", false},
		{"whitespace id", "   ", "secret", false},
		{"whitespace secret", "id", "\t", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
				Accounts: map[string]AccountConfig{"a": {ClientID: tt.id, ClientSecret: tt.secret}},
			}}}
			assert.Equal(t, tt.configured, ResolveAccount(cfg, "a").Configured)
		})
	}
}

func TestResolveAccount_EnabledAndVerboseDefaults(t *testing.T) {
	cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		AccountConfig: AccountConfig{VerboseLevel: VerboseFull},
		Accounts: map[string]AccountConfig{
			"off":     {Enabled: Bool(false)},
			"inherit": {},
			"own":     {VerboseLevel: VerboseOn},
		},
	}}}

	assert.False(t, ResolveAccount(cfg, "off").Enabled)
	assert.True(t, ResolveAccount(cfg, "inherit").Enabled)
	assert.Equal(t, VerboseFull, ResolveAccount(cfg, "inherit").VerboseLevel)
	assert.Equal(t, VerboseOn, ResolveAccount(cfg, "own").VerboseLevel)
	assert.Equal(t, VerboseOff, ResolveAccount(&Config{}, "x").VerboseLevel)
}

func TestResolveAccount_ModeDefaultsToStream(t *testing.T) {
	cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		Accounts: map[string]AccountConfig{"hook": {Mode: ModeWebhook}},
	}}}

	assert.Equal(t, ModeWebhook, ResolveAccount(cfg, "hook").Mode())
	assert.Equal(t, ModeStream, ResolveAccount(cfg, "other").Mode())
}

func TestResolveAccount_ReturnsIndependentCopy(t *testing.T) {
	cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		Accounts: map[string]AccountConfig{"a": {DM: &DMConfig{AllowFrom: []string{"u1"}}}},
	}}}

	acct := ResolveAccount(cfg, "a")
	acct.Config.DM.AllowFrom[0] = "changed"

	assert.Equal(t, "u1", cfg.Channel().Accounts["a"].DM.AllowFrom[0])
}

func TestListAccountIDs(t *testing.T) {
	assert.Nil(t, ListAccountIDs(&Config{}))

	cfg := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		AccountConfig: AccountConfig{ClientID: "top", ClientSecret: "s"},
		Accounts: map[string]AccountConfig{
			"zeta":    {},
			"alpha":   {},
			"default": {},
		},
	}}}
	assert.Equal(t, []string{"default", "alpha", "zeta"}, ListAccountIDs(cfg))

	named := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		Accounts: map[string]AccountConfig{"beta": {}, "alpha": {}},
	}}}
	assert.Equal(t, []string{"alpha", "beta"}, ListAccountIDs(named))
}

func TestDefaultAccountID(t *testing.T) {
	assert.Equal(t, "default", DefaultAccountID(&Config{}))

	named := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		Accounts: map[string]AccountConfig{"beta": {}, "alpha": {}},
	}}}
	assert.Equal(t, "alpha", DefaultAccountID(named))

	withTop := &Config{Channels: ChannelsConfig{DingTalk: &ChannelConfig{
		AccountConfig: AccountConfig{ClientID: "top", ClientSecret: "s"},
		Accounts:      map[string]AccountConfig{"alpha": {}},
	}}}
	assert.Equal(t, "default", DefaultAccountID(withTop))
}

func TestNormalizeAccountID(t *testing.T) {
	assert.Equal(t, "default", NormalizeAccountID(""))
	assert.Equal(t, "default", NormalizeAccountID("default"))
	assert.Equal(t, "sales_team", NormalizeAccountID("Sales Team"))
	assert.Equal(t, "a-b_c", NormalizeAccountID("A-B_C"))
	require.Equal(t, "___", NormalizeAccountID("@#!"))
}
