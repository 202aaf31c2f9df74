// Package host declares the services a chatbot host runtime provides to a channel.
//
// The DingTalk channel only calls these contracts: agent routing, envelope formatting, context
// finalization, session recording, buffered reply dispatch and text chunking. The host owns their
// behavior. internal/host/local ships a small implementation used by the standalone binary.
package host

import (
	"context"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
)

// Peer identifies the other side of a conversation
type Peer struct {
	Kind string // "direct" or "group"
	ID   string
}

// RouteRequest asks the host which agent handles a peer
type RouteRequest struct {
	Config    *config.Config
	Channel   string
	AccountID string
	Peer      Peer
}

// Route is the agent and session selected for an inbound message
type Route struct {
	AgentID    string
	SessionKey string
	AccountID  string
}

// Router resolves agent routes
type Router interface {
	ResolveAgentRoute(req RouteRequest) Route
}

// EnvelopeRequest carries the raw pieces of an agent envelope
type EnvelopeRequest struct {
	Channel   string
	From      string
	Timestamp time.Time
	Body      string
}

// EnvelopeFormatter renders the body an agent sees
type EnvelopeFormatter interface {
	FormatAgentEnvelope(req EnvelopeRequest) string
}

// InboundContext is the record handed from a channel to the host reply pipeline
type InboundContext struct {
	Body               string `json:"body"`
	RawBody            string `json:"raw_body"`
	CommandBody        string `json:"command_body"`
	From               string `json:"from"`
	To                 string `json:"to"`
	SessionKey         string `json:"session_key"`
	AccountID          string `json:"account_id"`
	ChatType           string `json:"chat_type"`
	ConversationLabel  string `json:"conversation_label,omitempty"`
	SenderName         string `json:"sender_name,omitempty"`
	SenderID           string `json:"sender_id"`
	SenderUsername     string `json:"sender_username,omitempty"`
	Provider           string `json:"provider"`
	Surface            string `json:"surface"`
	MessageSid         string `json:"message_sid"`
	Timestamp          int64  `json:"timestamp"` // Epoch milliseconds
	GroupSubject       string `json:"group_subject,omitempty"`
	OriginatingChannel string `json:"originating_channel"`
	OriginatingTo      string `json:"originating_to"`
	MediaPath          string `json:"media_path,omitempty"`
	MediaType          string `json:"media_type,omitempty"`
}

// ContextFinalizer fills host defaults into an inbound context
type ContextFinalizer interface {
	FinalizeInboundContext(ctx InboundContext) InboundContext
}

// RecordRequest asks the host to persist an inbound message into a session
type RecordRequest struct {
	StorePath     string
	SessionKey    string
	Context       InboundContext
	OnRecordError func(err error)
}

// SessionStore persists inbound messages per session
type SessionStore interface {
	ResolveStorePath(cfg config.SessionConfig, agentID string) string
	RecordInboundSession(ctx context.Context, req RecordRequest)
}

// ReplyPayload is one block of a reply
type ReplyPayload struct {
	Text      string
	MediaURLs []string
}

// DeliverFunc sends one reply block to the channel
type DeliverFunc func(ctx context.Context, payload ReplyPayload) error

// DispatchRequest drives the host reply pipeline for one inbound context
type DispatchRequest struct {
	Context      InboundContext
	Config       *config.Config
	Deliver      DeliverFunc
	OnError      func(err error, kind string)
	VerboseLevel config.VerboseLevel
	OnToolResult DeliverFunc // Receives tool summaries when VerboseLevel is not off
}

// ReplyDispatcher runs the agent and delivers its buffered reply blocks
type ReplyDispatcher interface {
	DispatchReply(ctx context.Context, req DispatchRequest) error
}

// ChunkMode selects how long text is split
type ChunkMode string

const (
	ChunkModeText     ChunkMode = "text"     // Split at line boundaries
	ChunkModeMarkdown ChunkMode = "markdown" // Split at paragraph boundaries
)

// TextChunker splits replies to a channel's length limit
type TextChunker interface {
	ResolveChunkMode(cfg *config.Config, channel, accountID string) ChunkMode
	ChunkText(text string, limit int, mode ChunkMode) []string
}

// Runtime is everything a channel consumes from the host
type Runtime interface {
	Router
	EnvelopeFormatter
	ContextFinalizer
	SessionStore
	ReplyDispatcher
	TextChunker
}

// StatusPatch updates a running account's status snapshot. Zero fields are left unchanged.
type StatusPatch struct {
	LastInboundAt  time.Time
	LastOutboundAt time.Time
	LastError      string
}
