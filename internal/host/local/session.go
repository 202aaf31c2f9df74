package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/host"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

const (
	// maxRecordBody is the largest body stored in a session file (1MB)
	maxRecordBody = 1024 * 1024

	sessionFileExt = ".jsonl"
)

// unsafeSessionChars are replaced when a session key becomes a file name
var unsafeSessionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SessionRecord is one inbound message in a session file
type SessionRecord struct {
	Timestamp  int64               `json:"timestamp"`
	SessionKey string              `json:"session_key"`
	Context    host.InboundContext `json:"context"`
}

// SessionStore appends inbound messages to one JSONL file per session key
//
// File format (one JSON object per line):
//
//	{"timestamp":1706878200123,"session_key":"agent:main:dingtalk-stream:direct:u1","context":{...}}
//
// Files are trimmed to the most recent maxSize records after every append.
type SessionStore struct {
	maxSize int
	mu      sync.RWMutex
	now     func() time.Time
}

// NewSessionStore creates a store that keeps maxSize records per session
func NewSessionStore(maxSize int) *SessionStore {
	if maxSize <= 0 {
		maxSize = constants.DefaultSessionHistorySize
	}
	return &SessionStore{maxSize: maxSize, now: time.Now}
}

// ResolveStorePath returns <store_dir>/<agent>
func (s *SessionStore) ResolveStorePath(cfg config.SessionConfig, agentID string) string {
	dir := cfg.StoreDir
	if expanded, err := config.ExpandHome(dir); err == nil {
		dir = expanded
	}
	return filepath.Join(dir, unsafeSessionChars.ReplaceAllString(agentID, "_"))
}

// RecordInboundSession appends req.Context to the session file. Errors go to req.OnRecordError.
func (s *SessionStore) RecordInboundSession(_ context.Context, req host.RecordRequest) {
	if err := s.record(req); err != nil && req.OnRecordError != nil {
		req.OnRecordError(err)
	}
}

func (s *SessionStore) record(req host.RecordRequest) error {
	if req.StorePath == "" {
		return fmt.Errorf("store path is empty")
	}
	if req.SessionKey == "" {
		return fmt.Errorf("session key is empty")
	}
	if len(req.Context.Body) > maxRecordBody {
		return fmt.Errorf("body too large: %d bytes (max: %d bytes)", len(req.Context.Body), maxRecordBody)
	}

	data, err := json.Marshal(SessionRecord{
		Timestamp:  s.now().UnixMilli(),
		SessionKey: req.SessionKey,
		Context:    req.Context,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(req.StorePath, 0755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}

	path := sessionFile(req.StorePath, req.SessionKey)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to write record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close session file: %w", cerr)
	}

	if err := s.trimToSize(path); err != nil {
		return fmt.Errorf("failed to trim session: %w", err)
	}
	return nil
}

// trimToSize keeps only the most recent maxSize lines. Must be called while holding the lock.
func (s *SessionStore) trimToSize(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := nonEmptyLines(string(data))
	if len(lines) <= s.maxSize {
		return nil
	}
	lines = lines[len(lines)-s.maxSize:]
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

// History returns up to limit records of a session, oldest first. Corrupted lines are skipped.
func (s *SessionStore) History(storePath, sessionKey string, limit int) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(sessionFile(storePath, sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var records []SessionRecord
	for _, line := range nonEmptyLines(string(data)) {
		var record SessionRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func sessionFile(storePath, sessionKey string) string {
	return filepath.Join(storePath, unsafeSessionChars.ReplaceAllString(sessionKey, "_")+sessionFileExt)
}

func nonEmptyLines(data string) []string {
	var out []string
	for _, line := range strings.Split(data, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
