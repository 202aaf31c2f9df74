package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/gateway"
	"github.com/keepmind9/dingtalk-channel/internal/host/local"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) RegisterCallbackListener(string, gateway.FrameHandler) {}
func (nopTransport) Connect(context.Context) error                         { return nil }
func (nopTransport) Disconnect()                                           {}

func newTestPlugin(t *testing.T, cfg *config.Config) *Plugin {
	t.Helper()
	log, _ := test.NewNullLogger()
	return New(API{
		Config:  cfg,
		Logger:  log,
		Runtime: local.NewWithAgent(cfg, local.EchoAgent{}, log),
	}, Options{
		DingTalk:     dingtalk.NewRuntime(dingtalk.Options{Logger: log}),
		NewTransport: func(string, string) gateway.Transport { return nopTransport{} },
	})
}

func newRobotWebhook(t *testing.T) (*httptest.Server, func() []dingtalk.WebhookMessage) {
	t.Helper()
	var (
		mu   sync.Mutex
		msgs []dingtalk.WebhookMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg dingtalk.WebhookMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"errcode":0}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []dingtalk.WebhookMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]dingtalk.WebhookMessage(nil), msgs...)
	}
}

func TestRegister(t *testing.T) {
	var registered *Plugin
	cfg := &config.Config{}

	p := Register(API{
		Config:          cfg,
		RegisterChannel: func(p *Plugin) { registered = p },
	})

	require.Same(t, p, registered)
	assert.Equal(t, "dingtalk-stream", p.ID)
	assert.Equal(t, "DingTalk", p.Meta.Label)
	assert.Equal(t, []string{"dt", "ding", "dingtalk"}, p.Meta.Aliases)
	assert.Equal(t, []string{"direct", "group"}, p.Capabilities.ChatTypes)
	assert.True(t, p.Capabilities.Media)
	assert.False(t, p.Capabilities.Threads)
	assert.Equal(t, []string{"channels.dingtalk-stream"}, p.ReloadPrefixes)
	assert.Same(t, cfg, p.Config())
}

func TestPlugin_NormalizeTarget(t *testing.T) {
	p := newTestPlugin(t, &config.Config{})

	tests := []struct {
		in, want string
	}{
		{"dingtalk:user:u1", "dingtalk:user:u1"},
		{"group:g1", "dingtalk:group:g1"},
		{"user:u1", "dingtalk:user:u1"},
		{"cid123", "dingtalk:cid123"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, p.NormalizeTarget(tt.in))
		})
	}

	assert.True(t, p.LooksLikeID("cid_abc-123"))
	assert.False(t, p.LooksLikeID("cid abc"))
	assert.False(t, p.LooksLikeID("user:u1"))
	assert.Equal(t, []string{`@\S+\s*`}, p.MentionStripPatterns())
}

func TestPlugin_ResolveDMPolicy(t *testing.T) {
	cfg := &config.Config{Channels: config.ChannelsConfig{DingTalk: &config.ChannelConfig{
		AccountConfig: config.AccountConfig{ClientID: "id", ClientSecret: "s"},
		Accounts: map[string]config.AccountConfig{
			"ops": {ClientID: "id2", ClientSecret: "s2", DM: &config.DMConfig{Policy: "allowlist", AllowFrom: []string{"dingtalk:u1"}}},
		},
	}}}
	p := newTestPlugin(t, cfg)

	ops := p.ResolveDMPolicy(cfg, "", p.ResolveAccount(cfg, "ops"))
	assert.Equal(t, "allowlist", ops.Policy)
	assert.Equal(t, "channels.dingtalk-stream.accounts.ops.dm.", ops.AllowFromPath)
	assert.Equal(t, "u1", p.NormalizeAllowEntry(ops.AllowFrom[0]))

	def := p.ResolveDMPolicy(cfg, "", p.ResolveAccount(cfg, ""))
	assert.Equal(t, "open", def.Policy)
	assert.Equal(t, "channels.dingtalk-stream.dm.", def.AllowFromPath)
}

func TestPlugin_ResolveRequireMention(t *testing.T) {
	cfg := &config.Config{Channels: config.ChannelsConfig{DingTalk: &config.ChannelConfig{
		Accounts: map[string]config.AccountConfig{
			"quiet": {RequireMention: config.Bool(false)},
		},
	}}}
	p := newTestPlugin(t, cfg)

	assert.False(t, p.ResolveRequireMention(cfg, "quiet"))
	assert.True(t, p.ResolveRequireMention(cfg, "other"))
}

func TestPlugin_ResolveGroupPolicy(t *testing.T) {
	cfg := &config.Config{Channels: config.ChannelsConfig{
		Defaults: config.ChannelDefaults{GroupPolicy: "allowlist"},
		DingTalk: &config.ChannelConfig{
			Accounts: map[string]config.AccountConfig{
				"public": {GroupPolicy: "open"},
			},
		},
	}}
	p := newTestPlugin(t, cfg)

	assert.Equal(t, "open", p.ResolveGroupPolicy(cfg, "public"))
	assert.Equal(t, "allowlist", p.ResolveGroupPolicy(cfg, "other"))
}

func TestPlugin_Setup(t *testing.T) {
	p := newTestPlugin(t, &config.Config{})
	input := config.SetupInput{Name: "Ops bot", ClientID: "id", ClientSecret: "secret"}

	id := p.ResolveSetupAccountID("Ops Team")
	require.NoError(t, p.ValidateSetupInput(id, input))
	assert.ErrorIs(t, p.ValidateSetupInput(id, config.SetupInput{UseEnv: true}), config.ErrEnvOnlyDefault)

	orig := &config.Config{}
	next := p.ApplyAccountConfig(orig, id, input)

	assert.Nil(t, orig.Channels.DingTalk)
	acct := p.ResolveAccount(next, id)
	assert.Equal(t, "Ops bot", acct.Name)
	assert.True(t, acct.Configured)
	assert.Equal(t, []string{id}, p.ListAccountIDs(next))

	desc := p.DescribeAccount(acct)
	assert.Equal(t, config.TokenSourceConfig, desc.TokenSource)

	disabled := p.SetAccountEnabled(next, id, false)
	assert.False(t, p.ResolveAccount(disabled, id).Enabled)
	assert.Empty(t, p.ListAccountIDs(p.DeleteAccount(next, id)))
}

func TestPlugin_SendText(t *testing.T) {
	srv, sent := newRobotWebhook(t)
	p := newTestPlugin(t, &config.Config{})
	p.DingTalk().Webhooks.Set("dingtalk:user:u1", srv.URL)

	res := p.SendText(context.Background(), OutboundRequest{To: "u1", Text: "hello", MediaURL: "ignored"})

	require.True(t, res.OK, res.Error)
	assert.Equal(t, "dingtalk-stream", res.Channel)
	assert.Equal(t, dingtalk.ViaSubstring, res.Via)
	msgs := sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "text", msgs[0].MsgType)
	assert.False(t, p.RuntimeStatus("").LastOutboundAt.IsZero())
}

func TestPlugin_SendText_NoWebhook(t *testing.T) {
	p := newTestPlugin(t, &config.Config{})

	res := p.SendText(context.Background(), OutboundRequest{To: "nobody", Text: "hello"})

	assert.False(t, res.OK)
	assert.Equal(t, "no webhook for target: nobody", res.Error)
}

func TestPlugin_SendText_ConfiguredWebhook(t *testing.T) {
	srv, sent := newRobotWebhook(t)
	cfg := &config.Config{Channels: config.ChannelsConfig{DingTalk: &config.ChannelConfig{
		AccountConfig: config.AccountConfig{ClientID: "id", ClientSecret: "s", WebhookURL: srv.URL},
	}}}
	p := newTestPlugin(t, cfg)

	res := p.SendText(context.Background(), OutboundRequest{To: "anyone", Text: "hello"})

	require.True(t, res.OK, res.Error)
	assert.Equal(t, dingtalk.ViaStatic, res.Via)
	assert.Len(t, sent(), 1)
}

func TestPlugin_SendMedia(t *testing.T) {
	srv, sent := newRobotWebhook(t)
	p := newTestPlugin(t, &config.Config{})
	p.DingTalk().Webhooks.Set("c1", srv.URL)

	res := p.SendMedia(context.Background(), OutboundRequest{To: "c1", Text: "chart", MediaURL: "https://img/c.png"})

	require.True(t, res.OK, res.Error)
	msgs := sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "markdown", msgs[0].MsgType)
	assert.Equal(t, "chart\n\n![image](https://img/c.png)", msgs[0].Markdown.Text)
}

func TestPlugin_ProbeAccount_MissingCredentials(t *testing.T) {
	p := newTestPlugin(t, &config.Config{})

	res := p.ProbeAccount(context.Background(), config.ResolvedAccount{AccountID: "x", ClientID: "id"}, 0)

	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "Missing clientId or clientSecret")
}

func TestPlugin_BuildAccountSnapshot(t *testing.T) {
	p := newTestPlugin(t, &config.Config{})
	acct := config.ResolvedAccount{AccountID: "ops", Name: "Ops", Enabled: true, Configured: true, TokenSource: config.TokenSourceConfig}

	idle := p.BuildAccountSnapshot(acct, nil, nil)
	assert.False(t, idle.Running)
	assert.Equal(t, gateway.StateIdle, idle.State)
	assert.Equal(t, "stream", idle.Mode)

	runtime := gateway.AccountStatus{AccountID: "ops", Running: true, State: gateway.StateConnected, LastError: "x"}
	probe := &dingtalk.ProbeResult{OK: true}
	snap := p.BuildAccountSnapshot(acct, &runtime, probe)
	assert.True(t, snap.Running)
	assert.Equal(t, gateway.StateConnected, snap.State)
	assert.Equal(t, "x", snap.LastError)
	assert.Same(t, probe, snap.Probe)

	assert.Equal(t, "default", p.DefaultRuntime().AccountID)
	assert.False(t, p.DefaultRuntime().Running)
}

func TestPlugin_StartAccount(t *testing.T) {
	cfg := &config.Config{Channels: config.ChannelsConfig{DingTalk: &config.ChannelConfig{
		AccountConfig: config.AccountConfig{ClientID: "id", ClientSecret: "s"},
	}}}
	p := newTestPlugin(t, cfg)
	p.DingTalk().API.BaseURL = "http://127.0.0.1:1"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.StartAccount(ctx, StartRequest{Account: p.ResolveAccount(cfg, "")})

	require.NoError(t, err)
	status := p.RuntimeStatus("default")
	assert.True(t, status.Running)
	assert.Equal(t, gateway.StateConnected, status.State)
	assert.ErrorIs(t, p.StartAccount(ctx, StartRequest{Account: p.ResolveAccount(cfg, "")}), gateway.ErrAccountRunning)
}
