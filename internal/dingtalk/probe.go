package dingtalk

import (
	"context"
	"time"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// BotInfo describes the bot behind a credential pair
type BotInfo struct {
	Name string `json:"name,omitempty"`
}

// ProbeResult is the outcome of a credential probe
type ProbeResult struct {
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Bot   *BotInfo `json:"bot,omitempty"`
}

// Probe verifies credentials by performing a token exchange bounded by timeout.
// The token cache is bypassed.
func (c *Client) Probe(ctx context.Context, clientID, clientSecret string, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = constants.DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := c.ExchangeToken(ctx, clientID, clientSecret); err != nil {
		return ProbeResult{OK: false, Error: err.Error()}
	}
	return ProbeResult{OK: true, Bot: &BotInfo{Name: "DingTalk Bot"}}
}
