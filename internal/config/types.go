package config

// VerboseLevel controls how much tool-call information is echoed into a chat
type VerboseLevel string

const (
	VerboseOff  VerboseLevel = "off"  // Tool calls are not shown
	VerboseOn   VerboseLevel = "on"   // Tool summaries are shown
	VerboseFull VerboseLevel = "full" // Tool summaries and output are shown
)

// TokenSource records where an account's credentials came from
type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceEnv    TokenSource = "env"
	TokenSourceNone   TokenSource = "none"
)

// Connection modes
const (
	ModeStream  = "stream"  // Persistent stream socket
	ModeWebhook = "webhook" // Outgoing-robot HTTP callbacks
)

// Config represents the host configuration object shared by the runtime and its channels.
// Only the channels.dingtalk-stream block belongs to this channel; the remaining sections
// configure the bundled local host.
type Config struct {
	Channels       ChannelsConfig       `yaml:"channels"`
	Agent          AgentConfig          `yaml:"agent"`
	Session        SessionConfig        `yaml:"session"`
	CallbackServer CallbackServerConfig `yaml:"callback_server"`
	Media          MediaConfig          `yaml:"media"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ChannelsConfig holds per-channel blocks keyed by channel id
type ChannelsConfig struct {
	DingTalk *ChannelConfig  `yaml:"dingtalk-stream,omitempty"`
	Defaults ChannelDefaults `yaml:"defaults,omitempty"`
}

// ChannelDefaults are host-wide defaults applied to every channel
type ChannelDefaults struct {
	GroupPolicy string `yaml:"groupPolicy,omitempty" validate:"omitempty,oneof=open allowlist"`
}

// AccountConfig is the raw per-account configuration
type AccountConfig struct {
	Enabled        *bool        `yaml:"enabled,omitempty"`
	ClientID       string       `yaml:"clientId,omitempty"`
	ClientSecret   string       `yaml:"clientSecret,omitempty"`
	WebhookURL     string       `yaml:"webhookUrl,omitempty" validate:"omitempty,url"`
	Name           string       `yaml:"name,omitempty"`
	Mode           string       `yaml:"mode,omitempty" validate:"omitempty,oneof=stream webhook"`
	GroupPolicy    string       `yaml:"groupPolicy,omitempty" validate:"omitempty,oneof=open allowlist"`
	RequireMention *bool        `yaml:"requireMention,omitempty"`
	DM             *DMConfig    `yaml:"dm,omitempty"`
	VerboseLevel   VerboseLevel `yaml:"verboseLevel,omitempty" validate:"omitempty,oneof=off on full"`
}

// DMConfig represents direct message access settings
type DMConfig struct {
	Policy    string   `yaml:"policy,omitempty" validate:"omitempty,oneof=open pairing allowlist"`
	AllowFrom []string `yaml:"allowFrom,omitempty"`
}

// ChannelConfig is the channel block: top-level fields describe the default account,
// Accounts holds named accounts
type ChannelConfig struct {
	AccountConfig `yaml:",inline"`
	Accounts      map[string]AccountConfig `yaml:"accounts,omitempty" validate:"omitempty,dive"`
}

// AgentConfig configures the local host's agent backend
type AgentConfig struct {
	ID      string `yaml:"id"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	Timeout string `yaml:"timeout"`
}

// SessionConfig configures the local host's session store
type SessionConfig struct {
	StoreDir    string `yaml:"store_dir"`
	HistorySize int    `yaml:"history_size" validate:"gte=0"`
}

// CallbackServerConfig configures the push-webhook HTTP server
type CallbackServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MediaConfig configures where inbound media is stored
type MediaConfig struct {
	WorkDir string `yaml:"work_dir"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File         string `yaml:"file"`
	MaxSize      int    `yaml:"max_size"`    // Single file max size in MB (default: 100)
	MaxBackups   int    `yaml:"max_backups"` // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age"`     // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress"`
	EnableStdout bool   `yaml:"enable_stdout"`
}

// Channel returns the DingTalk channel block, or nil when absent
func (c *Config) Channel() *ChannelConfig {
	if c == nil {
		return nil
	}
	return c.Channels.DingTalk
}

// Clone returns a deep copy of the configuration so mutators never touch their input
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	out.Channels.DingTalk = c.Channels.DingTalk.Clone()
	return &out
}

// Clone returns a deep copy of the channel block
func (c *ChannelConfig) Clone() *ChannelConfig {
	if c == nil {
		return nil
	}
	out := &ChannelConfig{AccountConfig: c.AccountConfig.clone()}
	if c.Accounts != nil {
		out.Accounts = make(map[string]AccountConfig, len(c.Accounts))
		for id, acct := range c.Accounts {
			out.Accounts[id] = acct.clone()
		}
	}
	return out
}

func (a AccountConfig) clone() AccountConfig {
	out := a
	if a.Enabled != nil {
		v := *a.Enabled
		out.Enabled = &v
	}
	if a.RequireMention != nil {
		v := *a.RequireMention
		out.RequireMention = &v
	}
	if a.DM != nil {
		dm := *a.DM
		dm.AllowFrom = append([]string(nil), a.DM.AllowFrom...)
		out.DM = &dm
	}
	return out
}

// Bool returns a pointer to v, for optional config fields
func Bool(v bool) *bool {
	return &v
}
