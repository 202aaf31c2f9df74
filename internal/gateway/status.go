package gateway

import (
	"sync"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/dingtalk"
	"github.com/keepmind9/dingtalk-channel/internal/host"
)

// AccountStatus is the runtime snapshot of one account
type AccountStatus struct {
	AccountID      string                `json:"accountId"`
	Running        bool                  `json:"running"`
	State          State                 `json:"state"`
	LastStartAt    time.Time             `json:"lastStartAt,omitzero"`
	LastStopAt     time.Time             `json:"lastStopAt,omitzero"`
	LastInboundAt  time.Time             `json:"lastInboundAt,omitzero"`
	LastOutboundAt time.Time             `json:"lastOutboundAt,omitzero"`
	LastError      string                `json:"lastError,omitempty"`
	Probe          *dingtalk.ProbeResult `json:"probe,omitempty"`
}

// StatusTracker records per-account runtime status
type StatusTracker struct {
	mu       sync.RWMutex
	accounts map[string]*AccountStatus
}

// NewStatusTracker creates an empty tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{accounts: make(map[string]*AccountStatus)}
}

// Get returns a copy of the account's status; unknown accounts are Idle
func (t *StatusTracker) Get(accountID string) AccountStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.accounts[accountID]; ok {
		out := *s
		return out
	}
	return AccountStatus{AccountID: accountID, State: StateIdle}
}

// Patch applies non-zero fields of patch
func (t *StatusTracker) Patch(accountID string, patch host.StatusPatch) {
	t.update(accountID, func(s *AccountStatus) {
		if !patch.LastInboundAt.IsZero() {
			s.LastInboundAt = patch.LastInboundAt
		}
		if !patch.LastOutboundAt.IsZero() {
			s.LastOutboundAt = patch.LastOutboundAt
		}
		if patch.LastError != "" {
			s.LastError = patch.LastError
		}
	})
}

func (t *StatusTracker) setState(accountID string, state State, at time.Time) {
	t.update(accountID, func(s *AccountStatus) {
		s.State = state
		switch state {
		case StateConnected:
			s.Running = true
			s.LastStartAt = at
			s.LastError = ""
		case StateDisconnected:
			s.Running = false
			s.LastStopAt = at
		default:
			s.Running = false
		}
	})
}

func (t *StatusTracker) setProbe(accountID string, probe dingtalk.ProbeResult) {
	t.update(accountID, func(s *AccountStatus) {
		s.Probe = &probe
	})
}

func (t *StatusTracker) update(accountID string, fn func(*AccountStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.accounts[accountID]
	if !ok {
		s = &AccountStatus{AccountID: accountID, State: StateIdle}
		t.accounts[accountID] = s
	}
	fn(s)
}
