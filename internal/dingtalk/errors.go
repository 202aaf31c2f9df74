package dingtalk

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWebhook is returned when no reply webhook resolves for a target
	ErrNoWebhook = errors.New("no webhook for target")
	// ErrMissingMediaInput is returned when a download code or robot code is absent
	ErrMissingMediaInput = errors.New("download code and robot code are required")
)

// ConfigError reports missing or invalid account credentials
type ConfigError struct {
	AccountID string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("account %s: %s", e.AccountID, e.Reason)
}

// MissingCredentials is the ConfigError of an account without clientId or clientSecret
func MissingCredentials(accountID string) *ConfigError {
	return &ConfigError{AccountID: accountID, Reason: "Missing clientId or clientSecret"}
}

// AuthError reports a failed access token exchange
type AuthError struct {
	ClientID string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("access token exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryError reports a failed reply delivery
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TransportError reports a stream connection or frame failure
type TransportError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s for account %s: %v", e.Op, e.AccountID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MediaStage names the media download step that failed
type MediaStage string

const (
	MediaStageInput    MediaStage = "input"
	MediaStageToken    MediaStage = "token"
	MediaStageExchange MediaStage = "exchange"
	MediaStageFetch    MediaStage = "fetch"
	MediaStageWrite    MediaStage = "write"
)

// MediaError reports a failed media download together with the failing stage
type MediaError struct {
	Stage MediaStage
	Err   error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Stage, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }
