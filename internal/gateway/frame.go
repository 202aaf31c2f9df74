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

// mentionPattern matches @mentions in a group message body
var mentionPattern = regexp.MustCompile(`@\S+\s*`)

// accountRun is the per-start state shared by every frame of one account
type accountRun struct {
	cfg     *config.Config
	account config.ResolvedAccount
	sink    func(host.StatusPatch)
	log     logrus.FieldLogger
}

// inbound is a parsed frame ready for reply dispatch
type inbound struct {
	msg      *dingtalk.InboundMessage
	content  dingtalk.MessageContent
	chatType string
	route    host.Route
	ctx      host.InboundContext
}

// handleFrame runs the synchronous half of the pipeline and schedules the reply. The frame is
// acknowledged when this returns, before the reply is produced. Errors are logged, never returned,
// so one bad frame cannot break the connection.
func (g *Gateway) handleFrame(ctx context.Context, run *accountRun, frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			run.log.WithFields(logrus.Fields{
				"message_id": frame.MessageID,
				"panic":      r,
			}).Error("dingtalk-frame-handler-panic")
			err = nil
		}
	}()

	in, ok := g.accept(ctx, run, frame)
	if !ok {
		return nil
	}

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				run.log.WithField("panic", r).Error("dingtalk-reply-panic")
			}
		}()
		g.reply(context.WithoutCancel(ctx), run, in)
	}()
	return nil
}

// accept parses the frame, registers reply webhooks and records the session
func (g *Gateway) accept(ctx context.Context, run *accountRun, frame Frame) (*inbound, bool) {
	acct := run.account
	log := run.log

	msg, err := dingtalk.ParseInboundMessage(frame.Data)
	if err != nil {
		terr := &dingtalk.TransportError{AccountID: acct.AccountID, Op: "decode", Err: err}
		log.WithFields(logrus.Fields{
			"message_id": frame.MessageID,
			"error":      terr,
		}).Error("dingtalk-frame-decode-failed")
		return nil, false
	}

	content := dingtalk.Normalize(msg)
	log.WithFields(logrus.Fields{
		"from":     firstNonEmpty(msg.SenderNick, msg.SenderID),
		"msg_type": content.MessageType,
		"text":     preview(content.Text),
	}).Info("dingtalk-message-received")
	run.sink(host.StatusPatch{LastInboundAt: g.now()})

	if content.Text == "" {
		return nil, false
	}

	chatType := msg.ChatType()
	g.registerWebhooks(msg, chatType)

	rawBody := content.Text
	cleaned := strings.TrimSpace(mentionPattern.ReplaceAllString(rawBody, ""))

	peer := host.Peer{Kind: chatType, ID: msg.SenderID}
	if chatType == dingtalk.ChatGroup {
		peer.ID = msg.ConversationID
	}
	route := g.host.ResolveAgentRoute(host.RouteRequest{
		Config:    run.cfg,
		Channel:   constants.ChannelID,
		AccountID: acct.AccountID,
		Peer:      peer,
	})

	sentAt := g.now()
	if msg.CreateAt > 0 {
		sentAt = time.UnixMilli(msg.CreateAt)
	}
	body := g.host.FormatAgentEnvelope(host.EnvelopeRequest{
		Channel:   constants.ChannelLabel,
		From:      firstNonEmpty(msg.SenderNick, msg.SenderID),
		Timestamp: sentAt,
		Body:      cleaned,
	})

	to := fmt.Sprintf("%s:user:%s", constants.TargetPrefix, msg.SenderID)
	inCtx := host.InboundContext{
		Body:               body,
		RawBody:            rawBody,
		CommandBody:        cleaned,
		From:               to,
		To:                 to,
		SessionKey:         route.SessionKey,
		AccountID:          route.AccountID,
		ChatType:           chatType,
		SenderName:         msg.SenderNick,
		SenderID:           msg.SenderID,
		SenderUsername:     msg.SenderNick,
		Provider:           constants.TargetPrefix,
		Surface:            constants.TargetPrefix,
		MessageSid:         msg.MsgID,
		Timestamp:          msg.CreateAt,
		OriginatingChannel: constants.ChannelID,
		OriginatingTo:      to,
	}
	if chatType == dingtalk.ChatGroup {
		channelTarget := fmt.Sprintf("%s:channel:%s", constants.TargetPrefix, msg.ConversationID)
		inCtx.To = channelTarget
		inCtx.OriginatingTo = channelTarget
		inCtx.ConversationLabel = msg.ConversationID
		inCtx.GroupSubject = msg.ConversationID
	}
	if inCtx.AccountID == "" {
		inCtx.AccountID = acct.AccountID
	}
	inCtx = g.host.FinalizeInboundContext(inCtx)

	var sessionCfg config.SessionConfig
	if run.cfg != nil {
		sessionCfg = run.cfg.Session
	}
	storePath := g.host.ResolveStorePath(sessionCfg, route.AgentID)
	g.host.RecordInboundSession(ctx, host.RecordRequest{
		StorePath:  storePath,
		SessionKey: route.SessionKey,
		Context:    inCtx,
		OnRecordError: func(err error) {
			log.WithField("error", err).Error("dingtalk-record-session-failed")
		},
	})

	return &inbound{
		msg:      msg,
		content:  content,
		chatType: chatType,
		route:    route,
		ctx:      inCtx,
	}, true
}

// registerWebhooks stores the session webhook under every alias an outbound send may use
func (g *Gateway) registerWebhooks(msg *dingtalk.InboundMessage, chatType string) {
	if msg.SessionWebhook == "" {
		return
	}
	hooks := g.dt.Webhooks
	hooks.Set(msg.ConversationID, msg.SessionWebhook)
	switch chatType {
	case dingtalk.ChatDirect:
		if msg.SenderID != "" {
			hooks.Set(msg.SenderID, msg.SessionWebhook)
			hooks.Set(fmt.Sprintf("%s:user:%s", constants.TargetPrefix, msg.SenderID), msg.SessionWebhook)
		}
	case dingtalk.ChatGroup:
		if msg.ConversationID != "" {
			hooks.Set(fmt.Sprintf("%s:channel:%s", constants.TargetPrefix, msg.ConversationID), msg.SessionWebhook)
		}
	}
}

// reply downloads any attachment and drives the host reply pipeline
func (g *Gateway) reply(ctx context.Context, run *accountRun, in *inbound) {
	acct := run.account
	log := run.log

	if in.content.HasMedia() {
		file, err := g.dt.Media.Download(ctx, dingtalk.MediaRequest{
			AccountID:    acct.AccountID,
			ClientID:     acct.ClientID,
			ClientSecret: acct.ClientSecret,
			RobotCode:    firstNonEmpty(in.msg.RobotCode, acct.ClientID),
			DownloadCode: in.content.MediaDownloadCode,
			WorkDir:      g.mediaWorkDir,
		})
		if err == nil {
			in.ctx.MediaPath = file.Path
			in.ctx.MediaType = file.ContentType
		}
	}

	d := &deliverer{
		sender:   g.dt.Sender,
		chunker:  g.host,
		cfg:      run.cfg,
		account:  acct,
		target:   in.msg.ConversationID,
		sink:     run.sink,
		log:      log,
		now:      g.now,
		fallback: acct.WebhookURL(),
	}

	err := g.host.DispatchReply(ctx, host.DispatchRequest{
		Context: in.ctx,
		Config:  run.cfg,
		Deliver: d.deliver,
		OnError: func(err error, kind string) {
			log.WithFields(logrus.Fields{
				"kind":  kind,
				"error": err,
			}).Error("dingtalk-reply-failed")
			run.sink(host.StatusPatch{LastError: err.Error()})
		},
		VerboseLevel: acct.VerboseLevel,
		OnToolResult: d.deliverToolResult,
	})
	if err != nil {
		log.WithField("error", err).Error("dingtalk-dispatch-reply-failed")
		return
	}
	log.Debug("dingtalk-dispatch-reply-completed")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= constants.LogPreviewLength {
		return text
	}
	return string(runes[:constants.LogPreviewLength]) + "..."
}
