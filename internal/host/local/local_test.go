package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ResolveAgentRoute(t *testing.T) {
	route := Router{}.ResolveAgentRoute(host.RouteRequest{
		Channel:   "dingtalk-stream",
		AccountID: "sales",
		Peer:      host.Peer{Kind: "group", ID: "CID-ABC"},
	})

	assert.Equal(t, "main", route.AgentID)
	assert.Equal(t, "agent:main:dingtalk-stream:group:cid-abc", route.SessionKey)
	assert.Equal(t, "sales", route.AccountID)

	direct := Router{AgentID: "ops"}.ResolveAgentRoute(host.RouteRequest{Channel: "dingtalk-stream", Peer: host.Peer{ID: "u1"}})
	assert.Equal(t, "agent:ops:dingtalk-stream:direct:u1", direct.SessionKey)
}

func TestEnvelope_FormatAgentEnvelope(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := Envelope{}.FormatAgentEnvelope(host.EnvelopeRequest{Channel: "DingTalk", From: "Alice", Timestamp: ts, Body: "hi"})
	assert.Equal(t, "[DingTalk Alice 2024-01-02T03:04:05Z] hi", got)

	assert.Equal(t, "[DingTalk] hi", Envelope{}.FormatAgentEnvelope(host.EnvelopeRequest{Channel: "DingTalk", Body: "hi"}))
}

func TestFinalizer_FillsDefaults(t *testing.T) {
	f := Finalizer{now: func() time.Time { return time.UnixMilli(42) }}

	got := f.FinalizeInboundContext(host.InboundContext{RawBody: "raw"})

	assert.Equal(t, "raw", got.CommandBody)
	assert.Equal(t, int64(42), got.Timestamp)
	assert.NotEmpty(t, got.MessageSid)
	assert.Equal(t, "dingtalk", got.Provider)
	assert.Equal(t, "dingtalk", got.Surface)

	kept := f.FinalizeInboundContext(host.InboundContext{CommandBody: "cmd", Timestamp: 7, MessageSid: "m1", Provider: "p"})
	assert.Equal(t, "cmd", kept.CommandBody)
	assert.Equal(t, int64(7), kept.Timestamp)
	assert.Equal(t, "m1", kept.MessageSid)
}

func TestSessionStore_RecordAndHistory(t *testing.T) {
	store := NewSessionStore(3)
	dir := store.ResolveStorePath(config.SessionConfig{StoreDir: t.TempDir()}, "main")
	key := "agent:main:dingtalk-stream:direct:u1"

	for i := 0; i < 5; i++ {
		store.RecordInboundSession(context.Background(), host.RecordRequest{
			StorePath:  dir,
			SessionKey: key,
			Context:    host.InboundContext{Body: fmt.Sprintf("msg-%d", i)},
			OnRecordError: func(err error) {
				t.Errorf("unexpected record error: %v", err)
			},
		})
	}

	records, err := store.History(dir, key, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "msg-2", records[0].Context.Body)
	assert.Equal(t, "msg-4", records[2].Context.Body)
	assert.Equal(t, key, records[0].SessionKey)

	last, err := store.History(dir, key, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "msg-4", last[0].Context.Body)

	_, err = os.Stat(filepath.Join(dir, "agent_main_dingtalk-stream_direct_u1.jsonl"))
	assert.NoError(t, err)
}

func TestSessionStore_HistorySkipsCorruptLines(t *testing.T) {
	store := NewSessionStore(10)
	dir := t.TempDir()
	content := `{"timestamp":1,"session_key":"k","context":{"body":"ok"}}` + "\nnot json\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k.jsonl"), []byte(content), 0644))

	records, err := store.History(dir, "k", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Context.Body)

	empty, err := store.History(dir, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionStore_RecordErrorsGoToCallback(t *testing.T) {
	var got error
	NewSessionStore(0).RecordInboundSession(context.Background(), host.RecordRequest{
		SessionKey:    "k",
		OnRecordError: func(err error) { got = err },
	})
	assert.EqualError(t, got, "store path is empty")
}

func TestChunker(t *testing.T) {
	c := Chunker{}
	assert.Equal(t, host.ChunkModeMarkdown, c.ResolveChunkMode(nil, "dingtalk-stream", "default"))
	assert.Equal(t, host.ChunkModeText, Chunker{Mode: host.ChunkModeText}.ResolveChunkMode(nil, "", ""))

	assert.Nil(t, c.ChunkText("   ", 10, host.ChunkModeText))
	assert.Equal(t, []string{"short"}, c.ChunkText("short", 10, host.ChunkModeText))

	lines := c.ChunkText("aaaa\nbbbb\ncccc", 9, host.ChunkModeText)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, lines)

	paras := c.ChunkText("para one\n\npara two\n\npara three", 20, host.ChunkModeMarkdown)
	assert.Equal(t, []string{"para one\n\npara two", "para three"}, paras)
}

func TestChunker_LongLineSplitsByRunes(t *testing.T) {
	text := strings.Repeat("钉", 25)
	chunks := ChunkLines(text, 10)

	require.Len(t, chunks, 3)
	assert.Equal(t, 10, len([]rune(chunks[0])))
	assert.Equal(t, 5, len([]rune(chunks[2])))
	assert.Equal(t, text, strings.Join(chunks, ""))
}

type recordingDelivery struct {
	payloads []host.ReplyPayload
	tools    []host.ReplyPayload
	errs     []string
}

func (r *recordingDelivery) request(verbose config.VerboseLevel) host.DispatchRequest {
	return host.DispatchRequest{
		Context:      host.InboundContext{CommandBody: "hi", SessionKey: "k"},
		VerboseLevel: verbose,
		Deliver: func(_ context.Context, p host.ReplyPayload) error {
			r.payloads = append(r.payloads, p)
			return nil
		},
		OnToolResult: func(_ context.Context, p host.ReplyPayload) error {
			r.tools = append(r.tools, p)
			return nil
		},
		OnError: func(err error, kind string) {
			r.errs = append(r.errs, kind+": "+err.Error())
		},
	}
}

type staticAgent struct {
	blocks []Block
	err    error
}

func (a staticAgent) Reply(context.Context, AgentRequest) ([]Block, error) {
	return a.blocks, a.err
}

func TestDispatcher_BuffersTextBlocks(t *testing.T) {
	log, _ := test.NewNullLogger()
	d := NewDispatcher(staticAgent{blocks: []Block{
		{Kind: BlockText, Text: "first"},
		{Kind: BlockTool, Tool: "exec", Summary: "ls -la", Output: "total 0"},
		{Kind: BlockText, Text: "second"},
	}}, "", nil, log)

	for _, tt := range []struct {
		verbose config.VerboseLevel
		tools   []string
	}{
		{config.VerboseOff, nil},
		{config.VerboseOn, []string{"🛠️ exec: ls -la"}},
		{config.VerboseFull, []string{"🛠️ exec: ls -la\ntotal 0"}},
	} {
		t.Run(string(tt.verbose), func(t *testing.T) {
			rec := &recordingDelivery{}
			require.NoError(t, d.DispatchReply(context.Background(), rec.request(tt.verbose)))

			require.Len(t, rec.payloads, 1)
			assert.Equal(t, "first\n\nsecond", rec.payloads[0].Text)
			var tools []string
			for _, p := range rec.tools {
				tools = append(tools, p.Text)
			}
			assert.Equal(t, tt.tools, tools)
		})
	}
}

func TestDispatcher_AgentErrorReported(t *testing.T) {
	log, _ := test.NewNullLogger()
	d := NewDispatcher(staticAgent{err: errors.New("agent down")}, "main", nil, log)
	rec := &recordingDelivery{}

	err := d.DispatchReply(context.Background(), rec.request(config.VerboseOff))

	assert.Error(t, err)
	assert.Equal(t, []string{"agent: agent down"}, rec.errs)
	assert.Empty(t, rec.payloads)
}

func TestDispatcher_DeliverErrorReported(t *testing.T) {
	log, _ := test.NewNullLogger()
	d := NewDispatcher(EchoAgent{}, "main", nil, log)
	rec := &recordingDelivery{}
	req := rec.request(config.VerboseOff)
	req.Deliver = func(context.Context, host.ReplyPayload) error { return errors.New("no webhook") }

	err := d.DispatchReply(context.Background(), req)

	assert.Error(t, err)
	assert.Equal(t, []string{"final: no webhook"}, rec.errs)
}

func TestHTTPAgent_Reply(t *testing.T) {
	var got AgentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"text":"pong"}`))
	}))
	defer srv.Close()

	agent, err := NewHTTPAgent(config.AgentConfig{URL: srv.URL, Timeout: "5s"})
	require.NoError(t, err)

	blocks, err := agent.Reply(context.Background(), AgentRequest{Message: "ping", SessionKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []Block{{Kind: BlockText, Text: "pong"}}, blocks)
	assert.Equal(t, "ping", got.Message)

	_, err = NewHTTPAgent(config.AgentConfig{URL: srv.URL, Timeout: "soon"})
	assert.Error(t, err)
}

func TestHTTPAgent_ReplyStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := (&HTTPAgent{URL: srv.URL, Client: srv.Client()}).Reply(context.Background(), AgentRequest{})
	assert.ErrorContains(t, err, "status 502")
}

func TestNew_SelectsAgent(t *testing.T) {
	log, _ := test.NewNullLogger()

	rt, err := New(&config.Config{}, log)
	require.NoError(t, err)
	assert.IsType(t, EchoAgent{}, rt.Dispatcher.agent)

	rt, err = New(&config.Config{Agent: config.AgentConfig{URL: "http://agent", Timeout: "1s"}}, log)
	require.NoError(t, err)
	assert.IsType(t, &HTTPAgent{}, rt.Dispatcher.agent)

	_, err = New(&config.Config{Agent: config.AgentConfig{URL: "http://agent", Timeout: ""}}, log)
	assert.Error(t, err)
}

func TestRuntime_DispatchIncludesHistory(t *testing.T) {
	var seen AgentRequest
	agent := agentFunc(func(_ context.Context, req AgentRequest) ([]Block, error) {
		seen = req
		return nil, nil
	})
	cfg := &config.Config{Session: config.SessionConfig{StoreDir: t.TempDir(), HistorySize: 5}}
	log, _ := test.NewNullLogger()
	rt := NewWithAgent(cfg, agent, log)

	route := rt.ResolveAgentRoute(host.RouteRequest{Channel: "dingtalk-stream", Peer: host.Peer{Kind: "direct", ID: "u1"}})
	rt.RecordInboundSession(context.Background(), host.RecordRequest{
		StorePath:  rt.ResolveStorePath(cfg.Session, route.AgentID),
		SessionKey: route.SessionKey,
		Context:    host.InboundContext{Body: "earlier"},
	})

	rec := &recordingDelivery{}
	req := rec.request(config.VerboseOff)
	req.Config = cfg
	req.Context.SessionKey = route.SessionKey
	require.NoError(t, rt.DispatchReply(context.Background(), req))

	require.Len(t, seen.History, 1)
	assert.Equal(t, "earlier", seen.History[0].Context.Body)
	assert.Empty(t, rec.payloads)
}

type agentFunc func(ctx context.Context, req AgentRequest) ([]Block, error)

func (f agentFunc) Reply(ctx context.Context, req AgentRequest) ([]Block, error) { return f(ctx, req) }
