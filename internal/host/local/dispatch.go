package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// BlockKind distinguishes reply text from tool activity
type BlockKind string

const (
	BlockText BlockKind = "text"
	BlockTool BlockKind = "tool"
)

// Block is one piece of an agent reply
type Block struct {
	Kind      BlockKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Output    string    `json:"output,omitempty"`
	MediaURLs []string  `json:"media_urls,omitempty"`
}

// AgentRequest is what an agent receives for one inbound message
type AgentRequest struct {
	AgentID    string          `json:"agent_id"`
	SessionKey string          `json:"session_key"`
	Message    string          `json:"message"`
	Envelope   string          `json:"envelope"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name,omitempty"`
	ChatType   string          `json:"chat_type"`
	MediaPath  string          `json:"media_path,omitempty"`
	History    []SessionRecord `json:"history,omitempty"`
}

// Agent produces reply blocks for a message
type Agent interface {
	Reply(ctx context.Context, req AgentRequest) ([]Block, error)
}

// EchoAgent repeats the message back
type EchoAgent struct{}

// Reply returns the message as a single text block
func (EchoAgent) Reply(_ context.Context, req AgentRequest) ([]Block, error) {
	return []Block{{Kind: BlockText, Text: req.Message}}, nil
}

// HTTPAgent posts AgentRequest as JSON to URL and expects {"blocks":[...]} or {"text":"..."}
type HTTPAgent struct {
	URL    string
	Client *http.Client
}

// NewHTTPAgent creates an agent client from the agent config
func NewHTTPAgent(cfg config.AgentConfig) (*HTTPAgent, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid agent timeout %q: %w", cfg.Timeout, err)
	}
	return &HTTPAgent{URL: cfg.URL, Client: &http.Client{Timeout: timeout}}, nil
}

type agentResponse struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Reply posts the request to the agent endpoint
func (a *HTTPAgent) Reply(ctx context.Context, req AgentRequest) ([]Block, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var out agentResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse agent response: %w", err)
	}
	if len(out.Blocks) == 0 && out.Text != "" {
		out.Blocks = []Block{{Kind: BlockText, Text: out.Text}}
	}
	return out.Blocks, nil
}

// Dispatcher runs the agent and delivers its reply as one buffered block
type Dispatcher struct {
	agent    Agent
	agentID  string
	sessions *SessionStore
	log      logrus.FieldLogger
}

// NewDispatcher creates a dispatcher. sessions may be nil, in which case no history is sent.
func NewDispatcher(agent Agent, agentID string, sessions *SessionStore, log logrus.FieldLogger) *Dispatcher {
	if agentID == "" {
		agentID = constants.DefaultAgentID
	}
	return &Dispatcher{agent: agent, agentID: agentID, sessions: sessions, log: logger.Or(log)}
}

// DispatchReply asks the agent for a reply. Tool blocks are forwarded to OnToolResult according to
// the verbose level; text blocks are joined and delivered once.
func (d *Dispatcher) DispatchReply(ctx context.Context, req host.DispatchRequest) error {
	in := req.Context
	agentReq := AgentRequest{
		AgentID:    d.agentID,
		SessionKey: in.SessionKey,
		Message:    in.CommandBody,
		Envelope:   in.Body,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		ChatType:   in.ChatType,
		MediaPath:  in.MediaPath,
	}
	if d.sessions != nil && req.Config != nil {
		storePath := d.sessions.ResolveStorePath(req.Config.Session, d.agentID)
		history, err := d.sessions.History(storePath, in.SessionKey, req.Config.Session.HistorySize)
		if err != nil {
			d.log.WithFields(logrus.Fields{"session_key": in.SessionKey, "error": err}).Warn("session-history-unavailable")
		}
		agentReq.History = history
	}

	blocks, err := d.agent.Reply(ctx, agentReq)
	if err != nil {
		if req.OnError != nil {
			req.OnError(err, "agent")
		}
		return err
	}

	var (
		texts []string
		media []string
	)
	for _, block := range blocks {
		switch block.Kind {
		case BlockTool:
			d.forwardTool(ctx, req, block)
		default:
			if strings.TrimSpace(block.Text) != "" {
				texts = append(texts, block.Text)
			}
			media = append(media, block.MediaURLs...)
		}
	}

	if len(texts) == 0 && len(media) == 0 {
		return nil
	}
	payload := host.ReplyPayload{Text: strings.Join(texts, "\n\n"), MediaURLs: media}
	if err := req.Deliver(ctx, payload); err != nil {
		if req.OnError != nil {
			req.OnError(err, "final")
		}
		return err
	}
	return nil
}

func (d *Dispatcher) forwardTool(ctx context.Context, req host.DispatchRequest, block Block) {
	if req.OnToolResult == nil || req.VerboseLevel == "" || req.VerboseLevel == config.VerboseOff {
		return
	}
	text := FormatToolHeader(block.Tool, block.Summary)
	if req.VerboseLevel == config.VerboseFull && strings.TrimSpace(block.Output) != "" {
		text += "\n" + block.Output
	}
	if err := req.OnToolResult(ctx, host.ReplyPayload{Text: text, MediaURLs: block.MediaURLs}); err != nil && req.OnError != nil {
		req.OnError(err, "tool")
	}
}

// FormatToolHeader renders "🛠️ <tool>: <summary>"
func FormatToolHeader(tool, summary string) string {
	if tool == "" {
		tool = "tool"
	}
	if summary == "" {
		summary = "done"
	}
	return "🛠️ " + tool + ": " + summary
}
