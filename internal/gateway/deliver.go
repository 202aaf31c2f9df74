package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// toolOutputPattern splits a tool summary into its header line and output body
var toolOutputPattern = regexp.MustCompile(`(?s)^(🛠️\s*\w+:\s*[^\n]+)\n(.+)$`)

// deliverer sends reply blocks for one inbound message back into its conversation
type deliverer struct {
	sender   *dingtalk.Sender
	chunker  host.TextChunker
	cfg      *config.Config
	account  config.ResolvedAccount
	target   string
	fallback string
	sink     func(host.StatusPatch)
	log      logrus.FieldLogger
	now      func() time.Time
}

// deliver chunks a reply block and sends the chunks in order. A failed chunk is logged and the
// remaining chunks are still attempted.
func (d *deliverer) deliver(ctx context.Context, payload host.ReplyPayload) error {
	text := payload.Text
	if text == "" {
		d.log.Warn("dingtalk-empty-reply-payload")
		return nil
	}
	d.log.WithField("text", preview(text)).Info("dingtalk-sending-reply")

	mode := d.chunker.ResolveChunkMode(d.cfg, constants.ChannelID, d.account.AccountID)
	chunks := d.chunker.ChunkText(text, constants.DingTalkTextChunkLimit, mode)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	var mediaURL string
	if len(payload.MediaURLs) > 0 {
		mediaURL = payload.MediaURLs[0]
	}

	for i, chunk := range chunks {
		if chunk == "" {
			continue
		}
		opts := dingtalk.SendOptions{
			AccountID:       d.account.AccountID,
			FallbackWebhook: d.fallback,
		}
		if i == len(chunks)-1 {
			opts.MediaURL = mediaURL
		}
		d.record(d.sender.Send(ctx, d.target, chunk, opts), "dingtalk-reply")
	}
	return nil
}

// deliverToolResult sends a tool summary as markdown, fencing the tool output
func (d *deliverer) deliverToolResult(ctx context.Context, payload host.ReplyPayload) error {
	if payload.Text == "" {
		return nil
	}
	result := d.sender.Send(ctx, d.target, FormatToolResult(payload.Text), dingtalk.SendOptions{
		AccountID:       d.account.AccountID,
		Markdown:        true,
		FallbackWebhook: d.fallback,
	})
	d.record(result, "dingtalk-tool-result")
	return nil
}

func (d *deliverer) record(result dingtalk.SendResult, event string) {
	if result.OK {
		d.log.WithField("via", result.Via).Info(event + "-sent")
		d.sink(host.StatusPatch{LastOutboundAt: d.now()})
		return
	}
	d.log.WithField("error", result.Error).Error(event + "-failed")
	d.sink(host.StatusPatch{LastError: result.Error})
}

// FormatToolResult wraps the output of a "🛠️ tool: summary\noutput" block in a code fence.
// Text without an output body is returned unchanged.
func FormatToolResult(text string) string {
	m := toolOutputPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "" || m[2] == "" {
		return text
	}
	return fmt.Sprintf("%s\n```\n%s\n```", m[1], strings.TrimSpace(m[2]))
}
