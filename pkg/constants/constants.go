package constants

import "time"

// Channel identity
const (
	// ChannelID is the key of the channel block under `channels` in the host configuration
	ChannelID = "dingtalk-stream"
	// ChannelLabel is the human readable channel name
	ChannelLabel = "DingTalk"
	// DefaultAccountID is the sentinel id of the default account
	DefaultAccountID = "default"
	// TargetPrefix namespaces outbound targets ("dingtalk:user:xxx")
	TargetPrefix = "dingtalk"
)

// Environment variables consulted for the default account
const (
	EnvClientID     = "DINGTALK_CLIENT_ID"
	EnvClientSecret = "DINGTALK_CLIENT_SECRET"
	EnvWebhookURL   = "DINGTALK_WEBHOOK_URL"
)

// DingTalk open API
const (
	// DefaultAPIBaseURL is the DingTalk open platform endpoint
	DefaultAPIBaseURL = "https://api.dingtalk.com"
	// AccessTokenPath exchanges appKey/appSecret for an access token
	AccessTokenPath = "/v1.0/oauth2/accessToken"
	// MessageFileDownloadPath exchanges a download code for a signed URL
	MessageFileDownloadPath = "/v1.0/robot/messageFiles/download"
	// AccessTokenHeader carries the access token on open API requests
	AccessTokenHeader = "x-acs-dingtalk-access-token"
	// BotMessageTopic is the stream callback topic for robot messages
	BotMessageTopic = "/v1.0/im/bot/messages/get"
)

// Message length limits
const (
	// DingTalkTextChunkLimit is the character limit of one outbound reply chunk
	DingTalkTextChunkLimit = 2000
	// MarkdownTitleMaxLength is the rune limit of a markdown message title
	MarkdownTitleMaxLength = 30
	// LogPreviewLength is how many runes of a reply are logged
	LogPreviewLength = 50
	// MaxMediaBytes caps one inbound media download
	MaxMediaBytes int64 = 20 << 20
)

// Timeouts and delays
const (
	// OutboundTimeout bounds one webhook POST
	OutboundTimeout = 10 * time.Second
	// DefaultProbeTimeout bounds a status probe
	DefaultProbeTimeout = 5 * time.Second
	// GatewayProbeTimeout bounds the credential probe done before connecting
	GatewayProbeTimeout = 2500 * time.Millisecond
	// TokenRefreshBuffer is subtracted from a token's expiry before reuse
	TokenRefreshBuffer = 60 * time.Second
	// MediaDownloadTimeout bounds a media exchange + fetch
	MediaDownloadTimeout = 30 * time.Second
	// CallbackMaxClockSkew is the accepted age of a signed outgoing-robot callback
	CallbackMaxClockSkew = time.Hour
	// ShutdownTimeout bounds graceful shutdown of the callback server
	ShutdownTimeout = 5 * time.Second
)

// Secret masking
const (
	// MinSecretLengthForMasking is the minimum length before a prefix/suffix is shown
	MinSecretLengthForMasking = 8
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
	// DefaultLogMaxBackups is the default number of rotated files kept
	DefaultLogMaxBackups = 5
)

// Local host defaults
const (
	// DefaultAgentID is used when the host config names no agent
	DefaultAgentID = "main"
	// DefaultSessionHistorySize is how many records a session file keeps
	DefaultSessionHistorySize = 50
	// DefaultCallbackAddr is the listen address of the push-webhook server
	DefaultCallbackAddr = ":8080"
)
