// Package dingtalk implements the DingTalk protocol pieces shared by every account: the open API
// client, the access token cache, the session webhook registry, the inbound message normalizer,
// the media fetcher and the outbound webhook sender.
package dingtalk

import (
	"net/http"

	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/sirupsen/logrus"
)

// Options configures a Runtime
type Options struct {
	BaseURL    string       // Open API base URL; defaults to the public endpoint
	HTTPClient *http.Client // Shared by the API client, sender and media fetcher
	Logger     logrus.FieldLogger
}

// Runtime owns the process-wide stores. Create one per process, or one per test.
type Runtime struct {
	API      *Client
	Tokens   *TokenCache
	Webhooks *WebhookRegistry
	Sender   *Sender
	Media    *MediaFetcher
}

// NewRuntime wires the API client, caches, sender and media fetcher together
func NewRuntime(opts Options) *Runtime {
	log := logger.Or(opts.Logger)
	api := NewClient(opts.BaseURL, opts.HTTPClient)
	tokens := NewTokenCache(api)
	webhooks := NewWebhookRegistry()

	return &Runtime{
		API:      api,
		Tokens:   tokens,
		Webhooks: webhooks,
		Sender:   NewSender(webhooks, opts.HTTPClient, log),
		Media:    NewMediaFetcher(api, tokens, opts.HTTPClient, log),
	}
}
