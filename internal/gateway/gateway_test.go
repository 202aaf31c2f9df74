package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/internal/host/local"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport captures the registered handler so tests can push frames
type fakeTransport struct {
	mu          sync.Mutex
	handlers    map[string]FrameHandler
	connectErr  error
	connected   bool
	disconnects int32
}

func (t *fakeTransport) RegisterCallbackListener(topic string, handler FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers = make(map[string]FrameHandler)
	}
	t.handlers[topic] = handler
}

func (t *fakeTransport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Disconnect() {
	atomic.AddInt32(&t.disconnects, 1)
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *fakeTransport) push(ctx context.Context, data []byte) error {
	t.mu.Lock()
	handler := t.handlers["/v1.0/im/bot/messages/get"]
	t.mu.Unlock()
	return handler(ctx, Frame{MessageID: "frame-1", Topic: "/v1.0/im/bot/messages/get", Data: data})
}

// fakeHost uses the local routing, envelope and chunking with scripted sessions and dispatch
type fakeHost struct {
	local.Router
	local.Envelope
	local.Finalizer
	local.Chunker

	mu         sync.Mutex
	recorded   []host.RecordRequest
	dispatched []host.DispatchRequest
	dispatch   func(ctx context.Context, req host.DispatchRequest) error
	panicRoute bool
}

func (h *fakeHost) ResolveAgentRoute(req host.RouteRequest) host.Route {
	if h.panicRoute {
		panic("route exploded")
	}
	return h.Router.ResolveAgentRoute(req)
}

func (h *fakeHost) ResolveStorePath(_ config.SessionConfig, agentID string) string {
	return "/sessions/" + agentID
}

func (h *fakeHost) RecordInboundSession(_ context.Context, req host.RecordRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, req)
}

func (h *fakeHost) DispatchReply(ctx context.Context, req host.DispatchRequest) error {
	h.mu.Lock()
	h.dispatched = append(h.dispatched, req)
	fn := h.dispatch
	h.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, req)
}

func (h *fakeHost) records() []host.RecordRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.RecordRequest(nil), h.recorded...)
}

func (h *fakeHost) dispatches() []host.DispatchRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.DispatchRequest(nil), h.dispatched...)
}

// replyWith returns a dispatch func delivering one text block
func replyWith(text string) func(context.Context, host.DispatchRequest) error {
	return func(ctx context.Context, req host.DispatchRequest) error {
		return req.Deliver(ctx, host.ReplyPayload{Text: text})
	}
}

// newAPIServer fakes the DingTalk open API: token exchange, media download and file bytes
func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["appSecret"] == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalidClientSecret"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expireIn": 7200})
	})
	mux.HandleFunc("/v1.0/robot/messageFiles/download", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"downloadUrl": srv.URL + "/files/pic"})
	})
	mux.HandleFunc("/files/pic", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// webhookSink is a fake session webhook. Requests listed in failOn answer 500.
type webhookSink struct {
	mu       sync.Mutex
	messages []dingtalk.WebhookMessage
	failOn   map[int]bool
}

func newWebhookSink(t *testing.T, failOn ...int) (*webhookSink, *httptest.Server) {
	t.Helper()
	sink := &webhookSink{failOn: make(map[int]bool)}
	for _, n := range failOn {
		sink.failOn[n] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg dingtalk.WebhookMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		sink.mu.Lock()
		sink.messages = append(sink.messages, msg)
		fail := sink.failOn[len(sink.messages)]
		sink.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return sink, srv
}

func (s *webhookSink) all() []dingtalk.WebhookMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dingtalk.WebhookMessage(nil), s.messages...)
}

type harness struct {
	gw         *Gateway
	host       *fakeHost
	transport  *fakeTransport
	factoryHit int32
	api        *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{
		host:      &fakeHost{},
		transport: &fakeTransport{},
		api:       newAPIServer(t),
	}
	h.gw = New(Options{
		DingTalk: dingtalk.NewRuntime(dingtalk.Options{BaseURL: h.api.URL, Logger: log}),
		Host:     h.host,
		NewTransport: func(clientID, clientSecret string) Transport {
			atomic.AddInt32(&h.factoryHit, 1)
			return h.transport
		},
		Logger:       log,
		MediaWorkDir: t.TempDir(),
		ProbeTimeout: time.Second,
	})
	return h
}

func testAccount(id string) config.ResolvedAccount {
	return config.ResolvedAccount{
		AccountID:    id,
		Enabled:      true,
		Configured:   true,
		ClientID:     "ding-app",
		ClientSecret: "secret",
		VerboseLevel: config.VerboseOff,
	}
}

func (h *harness) start(t *testing.T, ctx context.Context, acct config.ResolvedAccount) {
	t.Helper()
	require.NoError(t, h.gw.StartAccount(ctx, StartRequest{Config: &config.Config{}, Account: acct}))
}

func TestGateway_StartAccount_Connects(t *testing.T) {
	h := newHarness(t)
	var probed []dingtalk.ProbeResult

	err := h.gw.StartAccount(context.Background(), StartRequest{
		Config:  &config.Config{},
		Account: testAccount("default"),
		SetStatus: func(accountID string, probe dingtalk.ProbeResult) {
			assert.Equal(t, "default", accountID)
			probed = append(probed, probe)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, StateConnected, h.gw.State("default"))
	client, ok := h.gw.Client("default")
	require.True(t, ok)
	assert.Same(t, h.transport, client)
	require.Len(t, probed, 1)
	assert.True(t, probed[0].OK)

	status := h.gw.Status().Get("default")
	assert.True(t, status.Running)
	assert.False(t, status.LastStartAt.IsZero())
	require.NotNil(t, status.Probe)
	assert.True(t, status.Probe.OK)
}

func TestGateway_StartAccount_MissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"no client id", "", "secret"},
		{"no secret", "ding-app", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			acct := testAccount("default")
			acct.ClientID, acct.ClientSecret = tt.id, tt.secret

			var patches []host.StatusPatch
			err := h.gw.StartAccount(context.Background(), StartRequest{
				Account:    acct,
				StatusSink: func(p host.StatusPatch) { patches = append(patches, p) },
			})

			assert.NoError(t, err)
			assert.Equal(t, int32(0), atomic.LoadInt32(&h.factoryHit))
			assert.Equal(t, StateIdle, h.gw.State("default"))
			assert.Equal(t, "account default: Missing clientId or clientSecret", h.gw.Status().Get("default").LastError)
			require.Len(t, patches, 1)
			assert.Equal(t, h.gw.Status().Get("default").LastError, patches[0].LastError)
		})
	}
}

func TestGateway_StartAccount_NoHost(t *testing.T) {
	gw := New(Options{NewTransport: func(string, string) Transport { return &fakeTransport{} }})

	err := gw.StartAccount(context.Background(), StartRequest{Account: testAccount("default")})

	assert.ErrorIs(t, err, ErrHostUnavailable)
}

func TestGateway_StartAccount_RejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.start(t, context.Background(), testAccount("default"))

	err := h.gw.StartAccount(context.Background(), StartRequest{Account: testAccount("default")})

	assert.ErrorIs(t, err, ErrAccountRunning)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.factoryHit))
}

func TestGateway_StartAccount_ProbeFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	acct := testAccount("default")
	acct.ClientSecret = "bad"
	called := false

	err := h.gw.StartAccount(context.Background(), StartRequest{
		Account:   acct,
		SetStatus: func(string, dingtalk.ProbeResult) { called = true },
	})

	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, StateConnected, h.gw.State("default"))
	status := h.gw.Status().Get("default")
	require.NotNil(t, status.Probe)
	assert.False(t, status.Probe.OK)
}

func TestGateway_StartAccount_ConnectError(t *testing.T) {
	h := newHarness(t)
	h.transport.connectErr = errors.New("dial refused")

	err := h.gw.StartAccount(context.Background(), StartRequest{Account: testAccount("ops")})

	var terr *dingtalk.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "ops", terr.AccountID)
	assert.Equal(t, StateIdle, h.gw.State("ops"))
	_, ok := h.gw.Client("ops")
	assert.False(t, ok)
	assert.Contains(t, h.gw.Status().Get("ops").LastError, "dial refused")

	h.transport.connectErr = nil
	assert.NoError(t, h.gw.StartAccount(context.Background(), StartRequest{Account: testAccount("ops")}))
}

func TestGateway_CancelDisconnects(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(t, ctx, testAccount("default"))

	cancel()

	require.Eventually(t, func() bool {
		return h.gw.State("default") == StateDisconnected
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.transport.disconnects))
	_, ok := h.gw.Client("default")
	assert.False(t, ok)
	status := h.gw.Status().Get("default")
	assert.False(t, status.Running)
	assert.False(t, status.LastStopAt.IsZero())

	assert.NoError(t, h.gw.StartAccount(context.Background(), StartRequest{Account: testAccount("default")}))
}

func TestGateway_IndependentAccounts(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(t, ctx, testAccount("a"))
	h.start(t, context.Background(), testAccount("b"))

	cancel()

	require.Eventually(t, func() bool {
		return h.gw.State("a") == StateDisconnected
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, h.gw.State("b"))
}
