// Package local implements the host contracts for running the DingTalk channel on its own.
package local

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// Router sends every peer to one agent with a per-peer session key
type Router struct {
	AgentID string
}

// ResolveAgentRoute returns agent:<agent>:<channel>:<kind>:<peer> as the session key
func (r Router) ResolveAgentRoute(req host.RouteRequest) host.Route {
	agentID := r.AgentID
	if agentID == "" {
		agentID = constants.DefaultAgentID
	}
	kind := req.Peer.Kind
	if kind == "" {
		kind = "direct"
	}
	return host.Route{
		AgentID:    agentID,
		SessionKey: fmt.Sprintf("agent:%s:%s:%s:%s", agentID, req.Channel, kind, strings.ToLower(req.Peer.ID)),
		AccountID:  req.AccountID,
	}
}

// Envelope renders "[<channel> <from> <time>] <body>"
type Envelope struct{}

// FormatAgentEnvelope formats body with its sender and time
func (Envelope) FormatAgentEnvelope(req host.EnvelopeRequest) string {
	parts := []string{req.Channel}
	if req.From != "" {
		parts = append(parts, req.From)
	}
	if !req.Timestamp.IsZero() {
		parts = append(parts, req.Timestamp.UTC().Format(time.RFC3339))
	}
	return "[" + strings.Join(parts, " ") + "] " + req.Body
}

// Finalizer fills missing context fields
type Finalizer struct {
	now func() time.Time
}

// FinalizeInboundContext sets CommandBody, Timestamp, MessageSid and Provider when missing
func (f Finalizer) FinalizeInboundContext(ctx host.InboundContext) host.InboundContext {
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	if ctx.CommandBody == "" {
		ctx.CommandBody = ctx.RawBody
	}
	if ctx.Timestamp == 0 {
		ctx.Timestamp = now().UnixMilli()
	}
	if ctx.MessageSid == "" {
		ctx.MessageSid = uuid.NewString()
	}
	if ctx.Provider == "" {
		ctx.Provider = constants.TargetPrefix
	}
	if ctx.Surface == "" {
		ctx.Surface = ctx.Provider
	}
	return ctx
}
