package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tutorly/internal/logging"
)

// DefaultTTL matches how long list and content queries stay fresh.
const DefaultTTL = 5 * time.Minute

// Cache stores serialized query results per key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

func AudioListKey(userID string) string { return "query:" + userID + ":audio-list" }

func TranscriptionKey(userID, audioID string) string {
	return "query:" + userID + ":transcription:" + audioID
}

func NoteListKey(userID string) string { return "query:" + userID + ":notes" }

func NoteKey(userID, filename string) string { return "query:" + userID + ":note:" + filename }

// Fetch returns the cached value for key or loads, stores and returns it.
// Cache failures only cost a reload.
func Fetch[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if c != nil {
		if raw, ok, err := c.Get(ctx, key); err != nil {
			logging.Debugf("cache get %s: %v", key, err)
		} else if ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
		}
	}
	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if c != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return zero, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := c.Set(ctx, key, raw, ttl); err != nil {
			logging.Debugf("cache set %s: %v", key, err)
		}
	}
	return v, nil
}

// Invalidate drops keys and logs failures.
func Invalidate(ctx context.Context, c Cache, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.Del(ctx, keys...); err != nil {
		logging.L().WithError(err).Warn("cache invalidate")
	}
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is the in-process cache used when redis is not configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}
