package plugin

import (
	"context"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/gateway"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// AccountSnapshot is the account view shown by host status commands
type AccountSnapshot struct {
	AccountID   string                `json:"accountId"`
	Name        string                `json:"name,omitempty"`
	Enabled     bool                  `json:"enabled"`
	Configured  bool                  `json:"configured"`
	TokenSource config.TokenSource    `json:"tokenSource"`
	Mode        string                `json:"mode"`
	Running     bool                  `json:"running"`
	State       gateway.State         `json:"state"`
	LastStartAt time.Time             `json:"lastStartAt,omitzero"`
	LastStopAt  time.Time             `json:"lastStopAt,omitzero"`
	LastError   string                `json:"lastError,omitempty"`
	Probe       *dingtalk.ProbeResult `json:"probe,omitempty"`
}

// DefaultRuntime is the status of an account that was never started
func (p *Plugin) DefaultRuntime() gateway.AccountStatus {
	return gateway.AccountStatus{AccountID: constants.DefaultAccountID, State: gateway.StateIdle}
}

// RuntimeStatus returns the live status of an account
func (p *Plugin) RuntimeStatus(accountID string) gateway.AccountStatus {
	return p.gateway.Status().Get(accountOrDefault(accountID))
}

// ProbeAccount verifies the account's credentials. A zero timeout uses the default.
func (p *Plugin) ProbeAccount(ctx context.Context, account config.ResolvedAccount, timeout time.Duration) dingtalk.ProbeResult {
	if account.ClientID == "" || account.ClientSecret == "" {
		return dingtalk.ProbeResult{OK: false, Error: dingtalk.MissingCredentials(account.AccountID).Error()}
	}
	return p.dt.API.Probe(ctx, account.ClientID, account.ClientSecret, timeout)
}

// BuildAccountSnapshot merges configuration, runtime status and an optional probe
func (p *Plugin) BuildAccountSnapshot(account config.ResolvedAccount, runtime *gateway.AccountStatus, probe *dingtalk.ProbeResult) AccountSnapshot {
	snap := AccountSnapshot{
		AccountID:   account.AccountID,
		Name:        account.Name,
		Enabled:     account.Enabled,
		Configured:  account.Configured,
		TokenSource: account.TokenSource,
		Mode:        account.Mode(),
		State:       gateway.StateIdle,
		Probe:       probe,
	}
	if runtime != nil {
		snap.Running = runtime.Running
		snap.State = runtime.State
		snap.LastStartAt = runtime.LastStartAt
		snap.LastStopAt = runtime.LastStopAt
		snap.LastError = runtime.LastError
		if snap.Probe == nil {
			snap.Probe = runtime.Probe
		}
	}
	return snap
}

// StartRequest is the host's request to bring an account online
type StartRequest struct {
	Config     *config.Config
	Account    config.ResolvedAccount
	SetStatus  func(accountID string, probe dingtalk.ProbeResult)
	StatusSink func(patch host.StatusPatch)
}

// StartAccount connects the account's stream client. It returns once connected; cancelling ctx
// disconnects. Accounts without credentials are skipped.
func (p *Plugin) StartAccount(ctx context.Context, req StartRequest) error {
	cfg := req.Config
	if cfg == nil {
		cfg = p.Config()
	}
	return p.gateway.StartAccount(ctx, gateway.StartRequest{
		Config:     cfg,
		Account:    req.Account,
		SetStatus:  req.SetStatus,
		StatusSink: req.StatusSink,
	})
}
