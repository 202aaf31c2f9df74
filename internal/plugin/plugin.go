// Package plugin exposes the DingTalk channel to a chatbot host. A host calls Register with its
// API; the returned Plugin answers the host's account, policy, setup, outbound, status and
// gateway questions for the dingtalk-stream channel.
package plugin

import (
	"sync"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/gateway"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// Meta describes the channel in host selection menus and docs
type Meta struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	SelectionLabel string   `json:"selectionLabel"`
	DocsPath       string   `json:"docsPath"`
	DocsLabel      string   `json:"docsLabel"`
	Blurb          string   `json:"blurb"`
	Order          int      `json:"order"`
	Aliases        []string `json:"aliases"`
}

// Capabilities lists what the channel supports
type Capabilities struct {
	ChatTypes []string `json:"chatTypes"`
	Media     bool     `json:"media"`
	Threads   bool     `json:"threads"`
}

// API is what the host hands to Register
type API struct {
	Config          *config.Config
	Logger          logrus.FieldLogger
	Runtime         host.Runtime
	RegisterChannel func(p *Plugin)
}

// Options tunes the DingTalk side of a plugin. Zero values use production defaults.
type Options struct {
	DingTalk     *dingtalk.Runtime
	NewTransport gateway.TransportFactory
	MediaWorkDir string
}

// Plugin is the dingtalk-stream channel
type Plugin struct {
	ID           string
	Meta         Meta
	Capabilities Capabilities
	// ReloadPrefixes are the config paths whose change requires restarting accounts
	ReloadPrefixes []string

	mu      sync.RWMutex
	cfg     *config.Config
	dt      *dingtalk.Runtime
	gateway *gateway.Gateway
	log     logrus.FieldLogger
}

// Register creates the plugin and hands it to the host
func Register(api API) *Plugin {
	return RegisterWithOptions(api, Options{})
}

// RegisterWithOptions is Register with explicit DingTalk wiring
func RegisterWithOptions(api API, opts Options) *Plugin {
	p := New(api, opts)
	if api.RegisterChannel != nil {
		api.RegisterChannel(p)
	}
	p.log.WithField("channel", p.ID).Info("channel-plugin-registered")
	return p
}

// New builds the plugin without registering it
func New(api API, opts Options) *Plugin {
	log := logger.Or(api.Logger)
	dt := opts.DingTalk
	if dt == nil {
		dt = dingtalk.NewRuntime(dingtalk.Options{Logger: log})
	}

	return &Plugin{
		ID: constants.ChannelID,
		Meta: Meta{
			ID:             constants.ChannelID,
			Label:          constants.ChannelLabel,
			SelectionLabel: "DingTalk Bot (Stream)",
			DocsPath:       "/channels/dingtalk",
			DocsLabel:      "dingtalk",
			Blurb:          "DingTalk bot channel plugin (Stream mode)",
			Order:          100,
			Aliases:        []string{"dt", "ding", "dingtalk"},
		},
		Capabilities: Capabilities{
			ChatTypes: []string{dingtalk.ChatDirect, dingtalk.ChatGroup},
			Media:     true,
			Threads:   false,
		},
		ReloadPrefixes: []string{"channels." + constants.ChannelID},
		cfg:            api.Config,
		dt:             dt,
		gateway: gateway.New(gateway.Options{
			DingTalk:     dt,
			Host:         api.Runtime,
			NewTransport: opts.NewTransport,
			Logger:       log,
			MediaWorkDir: opts.MediaWorkDir,
		}),
		log: log,
	}
}

// Config returns the configuration the plugin currently sees
func (p *Plugin) Config() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetConfig replaces the configuration after a host reload
func (p *Plugin) SetConfig(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Gateway returns the stream gateway owned by the plugin
func (p *Plugin) Gateway() *gateway.Gateway {
	return p.gateway
}

// DingTalk returns the shared DingTalk runtime
func (p *Plugin) DingTalk() *dingtalk.Runtime {
	return p.dt
}
