package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

var (
	errMissingSignature = errors.New("missing timestamp or sign header")
	errStaleTimestamp   = errors.New("timestamp outside accepted window")
	errBadSignature     = errors.New("signature mismatch")
)

// CallbackServer receives outgoing-robot callbacks for accounts in webhook mode.
// Requests are routed by account id: POST /dingtalk/{account}.
type CallbackServer struct {
	gateway *Gateway
	config  func() *config.Config
	addr    string
	log     logrus.FieldLogger
	server  *http.Server
	now     func() time.Time
}

// NewCallbackServer creates a server that reads account settings from cfg on every request
func NewCallbackServer(g *Gateway, addr string, cfg func() *config.Config) *CallbackServer {
	if addr == "" {
		addr = constants.DefaultCallbackAddr
	}
	return &CallbackServer{
		gateway: g,
		config:  cfg,
		addr:    addr,
		log:     g.log,
		now:     time.Now,
	}
}

// Handler returns the HTTP handler serving the callback routes
func (s *CallbackServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dingtalk/{account}", s.handleCallback)
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully
func (s *CallbackServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.WithField("error", err).Error("failed-to-gracefully-stop-callback-server")
			s.server.Close()
		}
	}()

	s.log.WithField("address", s.addr).Info("callback-server-listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("callback-server-stopped")
	return nil
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.gateway.host == nil {
		http.Error(w, "Host runtime not available", http.StatusServiceUnavailable)
		return
	}

	accountID := config.NormalizeAccountID(r.PathValue("account"))
	cfg := s.config()
	acct := config.ResolveAccount(cfg, accountID)
	log := logger.ForAccount(s.log, acct.AccountID)

	if !acct.Enabled || !acct.Configured || acct.Mode() != config.ModeWebhook {
		log.Warn("callback-for-unknown-or-disabled-account")
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	if err := VerifySignature(r.Header.Get("timestamp"), r.Header.Get("sign"), acct.ClientSecret, s.now()); err != nil {
		log.WithField("error", err).Warn("callback-signature-rejected")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithField("error", err).Error("failed-to-read-callback-body")
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(data) == 0 {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return
	}

	run := &accountRun{
		cfg:     cfg,
		account: acct,
		sink:    s.gateway.sinkFor(acct.AccountID, nil),
		log:     log,
	}
	_ = s.gateway.handleFrame(r.Context(), run, Frame{
		Topic: constants.BotMessageTopic,
		Data:  data,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

// Sign computes the outgoing-robot signature of timestamp for secret
func Sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an outgoing-robot signature and its millisecond timestamp
func VerifySignature(timestamp, sign, secret string, now time.Time) error {
	if timestamp == "" || sign == "" {
		return errMissingSignature
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errStaleTimestamp
	}
	skew := now.Sub(time.UnixMilli(ms))
	if skew > constants.CallbackMaxClockSkew || skew < -constants.CallbackMaxClockSkew {
		return errStaleTimestamp
	}
	if !hmac.Equal([]byte(Sign(timestamp, secret)), []byte(sign)) {
		return errBadSignature
	}
	return nil
}
