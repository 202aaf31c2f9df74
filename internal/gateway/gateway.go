// Package gateway runs DingTalk accounts: it owns one stream connection per account, turns
// inbound frames into host inbound contexts and delivers the host's replies.
//
// Account lifecycle:
//
//	Idle -> Probing -> Connected -> Disconnected
//
// A start request without credentials stays Idle. The credential probe is diagnostic only; a
// failed probe is logged and the connection is attempted anyway. Cancelling the start context
// disconnects the account. Replies already being produced for earlier frames are not cancelled.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of one account
type State string

const (
	StateIdle         State = "idle"
	StateProbing      State = "probing"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

var (
	// ErrAccountRunning is returned when an account already has an active connection
	ErrAccountRunning = errors.New("account already running")
	// ErrHostUnavailable is returned when no host runtime was provided
	ErrHostUnavailable = errors.New("host runtime not available")
)

// Options configures a Gateway
type Options struct {
	DingTalk     *dingtalk.Runtime
	Host         host.Runtime
	NewTransport TransportFactory // Defaults to NewStreamTransport
	Status       *StatusTracker   // Defaults to a new tracker
	Logger       logrus.FieldLogger
	MediaWorkDir string
	ProbeTimeout time.Duration
}

// StartRequest describes one account to start
type StartRequest struct {
	Config     *config.Config
	Account    config.ResolvedAccount
	SetStatus  func(accountID string, probe dingtalk.ProbeResult) // Called after a successful probe
	StatusSink func(patch host.StatusPatch)
}

// Gateway owns the active stream connections
type Gateway struct {
	mu      sync.Mutex
	clients map[string]Transport
	states  map[string]State

	dt           *dingtalk.Runtime
	host         host.Runtime
	newTransport TransportFactory
	status       *StatusTracker
	log          logrus.FieldLogger
	mediaWorkDir string
	probeTimeout time.Duration

	inflight sync.WaitGroup
	now      func() time.Time
}

// New creates a gateway
func New(opts Options) *Gateway {
	g := &Gateway{
		clients:      make(map[string]Transport),
		states:       make(map[string]State),
		dt:           opts.DingTalk,
		host:         opts.Host,
		newTransport: opts.NewTransport,
		status:       opts.Status,
		log:          logger.Or(opts.Logger),
		mediaWorkDir: opts.MediaWorkDir,
		probeTimeout: opts.ProbeTimeout,
		now:          time.Now,
	}
	if g.dt == nil {
		g.dt = dingtalk.NewRuntime(dingtalk.Options{Logger: opts.Logger})
	}
	if g.newTransport == nil {
		g.newTransport = NewStreamTransport
	}
	if g.status == nil {
		g.status = NewStatusTracker()
	}
	if g.probeTimeout <= 0 {
		g.probeTimeout = constants.GatewayProbeTimeout
	}
	return g
}

// Status returns the tracker holding per-account runtime status
func (g *Gateway) Status() *StatusTracker {
	return g.status
}

// DingTalk returns the shared DingTalk runtime
func (g *Gateway) DingTalk() *dingtalk.Runtime {
	return g.dt
}

// State returns the lifecycle state of an account
func (g *Gateway) State(accountID string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.states[accountID]; ok {
		return s
	}
	return StateIdle
}

// Client returns the active transport of an account
func (g *Gateway) Client(accountID string) (Transport, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.clients[accountID]
	return t, ok
}

// Wait blocks until every in-flight reply has finished
func (g *Gateway) Wait() {
	g.inflight.Wait()
}

// StartAccount probes and connects one account, then returns. The connection stays up until ctx
// is cancelled. Missing credentials are recorded as a ConfigError in status and skipped
// without error.
func (g *Gateway) StartAccount(ctx context.Context, req StartRequest) error {
	acct := req.Account
	log := logger.ForAccount(g.log, acct.AccountID)

	if acct.ClientID == "" || acct.ClientSecret == "" {
		cfgErr := dingtalk.MissingCredentials(acct.AccountID)
		log.WithError(cfgErr).Warn("dingtalk-missing-client-id-or-secret")
		g.sinkFor(acct.AccountID, req.StatusSink)(host.StatusPatch{LastError: cfgErr.Error()})
		return nil
	}
	if g.host == nil {
		log.Error("dingtalk-host-runtime-not-available")
		return ErrHostUnavailable
	}

	if !g.transition(acct.AccountID, StateProbing) {
		log.Warn("dingtalk-account-already-running")
		return fmt.Errorf("%w: %s", ErrAccountRunning, acct.AccountID)
	}

	log.WithField("client_id", logger.MaskSecret(acct.ClientID)).Info("starting-dingtalk-stream-client")
	g.probe(ctx, req, log)

	transport := g.newTransport(acct.ClientID, acct.ClientSecret)
	run := &accountRun{
		cfg:     req.Config,
		account: acct,
		sink:    g.sinkFor(acct.AccountID, req.StatusSink),
		log:     log,
	}
	transport.RegisterCallbackListener(constants.BotMessageTopic, func(frameCtx context.Context, frame Frame) error {
		return g.handleFrame(frameCtx, run, frame)
	})

	if err := transport.Connect(ctx); err != nil {
		terr := &dingtalk.TransportError{AccountID: acct.AccountID, Op: "connect", Err: err}
		log.WithField("error", err).Error("dingtalk-stream-connect-failed")
		g.mu.Lock()
		delete(g.states, acct.AccountID)
		g.mu.Unlock()
		g.status.setState(acct.AccountID, StateIdle, g.now())
		g.status.Patch(acct.AccountID, host.StatusPatch{LastError: terr.Error()})
		return terr
	}

	g.mu.Lock()
	g.clients[acct.AccountID] = transport
	g.states[acct.AccountID] = StateConnected
	g.mu.Unlock()
	g.status.setState(acct.AccountID, StateConnected, g.now())
	log.Info("dingtalk-stream-client-connected")

	go func() {
		<-ctx.Done()
		g.stop(acct.AccountID, transport, log)
	}()
	return nil
}

// transition moves an account into Probing unless it is already Probing or Connected
func (g *Gateway) transition(accountID string, to State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.states[accountID] {
	case StateProbing, StateConnected:
		return false
	}
	g.states[accountID] = to
	return true
}

func (g *Gateway) probe(ctx context.Context, req StartRequest, log logrus.FieldLogger) {
	acct := req.Account
	g.status.setState(acct.AccountID, StateProbing, g.now())

	result := g.dt.API.Probe(ctx, acct.ClientID, acct.ClientSecret, g.probeTimeout)
	g.status.setProbe(acct.AccountID, result)
	if !result.OK {
		log.WithField("error", result.Error).Warn("dingtalk-credential-verification-failed")
		return
	}

	log.Info("dingtalk-credentials-verified")
	if req.SetStatus != nil {
		req.SetStatus(acct.AccountID, result)
	}
}

func (g *Gateway) stop(accountID string, transport Transport, log logrus.FieldLogger) {
	log.Info("stopping-dingtalk-stream-client")
	transport.Disconnect()

	g.mu.Lock()
	if g.clients[accountID] == transport {
		delete(g.clients, accountID)
	}
	g.states[accountID] = StateDisconnected
	g.mu.Unlock()

	g.status.setState(accountID, StateDisconnected, g.now())
	log.Info("dingtalk-stream-client-stopped")
}

// sinkFor combines the tracker with the caller's status sink
func (g *Gateway) sinkFor(accountID string, external func(host.StatusPatch)) func(host.StatusPatch) {
	return func(patch host.StatusPatch) {
		g.status.Patch(accountID, patch)
		if external != nil {
			external(patch)
		}
	}
}
