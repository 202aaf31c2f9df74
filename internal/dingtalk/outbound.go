package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// SendOptions tunes a single outbound delivery
type SendOptions struct {
	AccountID       string
	MediaURL        string // Appended as an inline image; forces markdown
	Markdown        bool
	FallbackWebhook string // Used when the registry has no match
}

// SendResult is the outcome of a delivery. Failures never surface as errors.
type SendResult struct {
	OK    bool
	Error string
	Via   ResolveVia
	Err   error `json:"-"`
}

// WebhookMessage is the JSON body posted to a robot webhook
type WebhookMessage struct {
	MsgType  string           `json:"msgtype"`
	Text     *WebhookText     `json:"text,omitempty"`
	Markdown *WebhookMarkdown `json:"markdown,omitempty"`
}

type WebhookText struct {
	Content string `json:"content"`
}

type WebhookMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type webhookResponse struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Sender delivers replies to session webhooks
type Sender struct {
	registry   *WebhookRegistry
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewSender creates a sender that resolves targets through registry
func NewSender(registry *WebhookRegistry, httpClient *http.Client, log logrus.FieldLogger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.OutboundTimeout}
	}
	return &Sender{registry: registry, httpClient: httpClient, log: logger.Or(log)}
}

// Send posts text to the webhook resolved for target
func (s *Sender) Send(ctx context.Context, target, text string, opts SendOptions) SendResult {
	log := logger.ForAccount(s.log, opts.AccountID)

	res, ok := s.registry.Resolve(target)
	if !ok && opts.FallbackWebhook != "" {
		res, ok = Resolution{URL: opts.FallbackWebhook, Via: ViaStatic}, true
	}
	if !ok {
		log.WithFields(logrus.Fields{
			"target":         target,
			"normalized":     NormalizeTarget(target),
			"available_keys": s.registry.Keys(),
		}).Warn("dingtalk-no-webhook-for-target")
		err := fmt.Errorf("%w: %s", ErrNoWebhook, target)
		return SendResult{OK: false, Error: err.Error(), Err: err}
	}

	msg := BuildMessage(text, opts)
	if err := s.post(ctx, res.URL, msg); err != nil {
		derr := &DeliveryError{Target: target, Err: err}
		log.WithFields(logrus.Fields{
			"target": target,
			"via":    res.Via,
			"error":  err,
		}).Error("dingtalk-send-failed")
		return SendResult{OK: false, Error: err.Error(), Via: res.Via, Err: derr}
	}

	log.WithFields(logrus.Fields{
		"target":  target,
		"via":     res.Via,
		"msgtype": msg.MsgType,
	}).Debug("dingtalk-message-sent")
	return SendResult{OK: true, Via: res.Via}
}

// SendToWebhook posts text directly to a webhook URL without a registry lookup
func (s *Sender) SendToWebhook(ctx context.Context, webhookURL, text string, opts SendOptions) SendResult {
	if err := s.post(ctx, webhookURL, BuildMessage(text, opts)); err != nil {
		return SendResult{OK: false, Error: err.Error(), Via: ViaStatic, Err: &DeliveryError{Target: webhookURL, Err: err}}
	}
	return SendResult{OK: true, Via: ViaStatic}
}

// BuildMessage chooses between a text and a markdown payload
func BuildMessage(text string, opts SendOptions) WebhookMessage {
	if !opts.Markdown && opts.MediaURL == "" && !IsMarkdown(text) {
		return WebhookMessage{MsgType: "text", Text: &WebhookText{Content: text}}
	}

	body := text
	if opts.MediaURL != "" {
		body = fmt.Sprintf("%s\n\n![image](%s)", text, opts.MediaURL)
	}
	return WebhookMessage{
		MsgType:  "markdown",
		Markdown: &WebhookMarkdown{Title: MarkdownTitle(text), Text: body},
	}
}

func (s *Sender) post(ctx context.Context, webhookURL string, msg WebhookMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.OutboundTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var result webhookResponse
	if json.Unmarshal(data, &result) == nil && result.ErrCode != nil && *result.ErrCode != 0 {
		return fmt.Errorf("dingtalk error %d: %s", *result.ErrCode, result.ErrMsg)
	}
	return nil
}
