package local

import (
	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/sirupsen/logrus"
)

// Runtime bundles the local implementations into a host.Runtime
type Runtime struct {
	Router
	Envelope
	Finalizer
	Chunker
	*SessionStore
	*Dispatcher
}

var _ host.Runtime = (*Runtime)(nil)

// New builds a runtime from cfg. An empty agent URL selects the echo agent.
func New(cfg *config.Config, log logrus.FieldLogger) (*Runtime, error) {
	var agent Agent = EchoAgent{}
	if cfg.Agent.URL != "" {
		httpAgent, err := NewHTTPAgent(cfg.Agent)
		if err != nil {
			return nil, err
		}
		agent = httpAgent
	}
	return NewWithAgent(cfg, agent, log), nil
}

// NewWithAgent builds a runtime around a caller-supplied agent
func NewWithAgent(cfg *config.Config, agent Agent, log logrus.FieldLogger) *Runtime {
	sessions := NewSessionStore(cfg.Session.HistorySize)
	return &Runtime{
		Router:       Router{AgentID: cfg.Agent.ID},
		SessionStore: sessions,
		Dispatcher:   NewDispatcher(agent, cfg.Agent.ID, sessions, log),
	}
}
