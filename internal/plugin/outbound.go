package plugin

import (
	"context"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// DeliveryMode is how the host hands outbound messages to the channel
const DeliveryMode = "direct"

// TextChunkLimit is the longest text the host should pass to SendText
const TextChunkLimit = constants.DingTalkTextChunkLimit

// OutboundRequest is a host-initiated message
type OutboundRequest struct {
	To        string
	Text      string
	MediaURL  string
	AccountID string
}

// OutboundResult reports a host-initiated send
type OutboundResult struct {
	Channel string              `json:"channel"`
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Via     dingtalk.ResolveVia `json:"via,omitempty"`
}

// SendText delivers text to the session webhook registered for req.To
func (p *Plugin) SendText(ctx context.Context, req OutboundRequest) OutboundResult {
	req.MediaURL = ""
	return p.send(ctx, req)
}

// SendMedia delivers text with an inline image
func (p *Plugin) SendMedia(ctx context.Context, req OutboundRequest) OutboundResult {
	return p.send(ctx, req)
}

func (p *Plugin) send(ctx context.Context, req OutboundRequest) OutboundResult {
	opts := dingtalk.SendOptions{
		AccountID: req.AccountID,
		MediaURL:  req.MediaURL,
	}
	if cfg := p.Config(); cfg != nil {
		opts.FallbackWebhook = config.ResolveAccount(cfg, req.AccountID).WebhookURL()
	}

	result := p.dt.Sender.Send(ctx, req.To, req.Text, opts)
	if result.OK {
		p.gateway.Status().Patch(accountOrDefault(req.AccountID), host.StatusPatch{LastOutboundAt: time.Now()})
	}
	return OutboundResult{
		Channel: p.ID,
		OK:      result.OK,
		Error:   result.Error,
		Via:     result.Via,
	}
}

func accountOrDefault(accountID string) string {
	if accountID == "" {
		return constants.DefaultAccountID
	}
	return accountID
}
