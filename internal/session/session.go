package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/notifyer/notifyer/internal/logging"
	"github.com/notifyer/notifyer/internal/store"
)

// Session is the in-memory key/value state for one invocation. It is
// constructed fresh at the start of every invocation and seeded from
// the durable record store, so no state leaks between warm reuses of
// the process. Values are stored JSON-encoded; SetItem with persist
// writes through to the durable store in the same call.
type Session struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
	store  store.Store
	logger *logging.Logger
}

// New creates an empty session backed by the given durable store.
func New(st store.Store, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Session{
		values: make(map[string]json.RawMessage),
		store:  st,
		logger: logger,
	}
}

// GetItem decodes the value stored under key into v. Returns false when
// the key is absent or the stored value cannot be decoded.
func (s *Session) GetItem(key string, v any) bool {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("session value unreadable", "key", key, "error", err.Error())
		return false
	}
	return true
}

// SetItem stores the JSON encoding of v under key. When persist is true
// the encoded value is also written through to the durable store.
func (s *Session) SetItem(ctx context.Context, key string, v any, persist bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values[key] = data
	s.mu.Unlock()

	if persist {
		if err := s.store.Set(ctx, key, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveItem deletes the in-memory value under key.
func (s *Session) RemoveItem(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// seed loads a raw durable value into the session without re-encoding.
// Values in the durable store are already JSON.
func (s *Session) seed(key, value string) {
	s.mu.Lock()
	s.values[key] = json.RawMessage(value)
	s.mu.Unlock()
}

// Restore seeds the session and the ephemeral token cache file from the
// durable record store. Invoked once at the start of every invocation;
// the execution environment's scratch storage does not survive cold
// starts, so the cache file is recreated from the durable copy.
func (s *Session) Restore(ctx context.Context, sectionHandle, cachePath string) error {
	if blob, ok := s.store.Get(ctx, "cache"); ok && blob != "" {
		if dir := filepath.Dir(cachePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
		if err := os.WriteFile(cachePath, []byte(blob), 0600); err != nil {
			return err
		}
		s.logger.DebugWithContext(ctx, "token cache restored", "path", cachePath)
	}

	for _, key := range []string{
		"onenote",
		sectionHandle + "_section_count",
		sectionHandle + "_last_page",
		"recent_" + sectionHandle,
	} {
		if value, ok := s.store.Get(ctx, key); ok && value != "" {
			s.seed(key, value)
		}
	}

	s.logger.DebugWithContext(ctx, "session restored", "section", sectionHandle)
	return nil
}
