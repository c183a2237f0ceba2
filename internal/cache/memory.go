package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned by Memory while it is switched off.
var ErrUnavailable = errors.New("cache unavailable")

type memEntry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process Store. Values round-trip through JSON so callers
// never share memory with the cache, matching the Redis behavior.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	down    bool
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetAvailable toggles simulated outages.
func (m *Memory) SetAvailable(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = !up
}

// Has reports whether key holds a live entry, bypassing the outage switch.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && (e.expires.IsZero() || m.now().Before(e.expires))
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, ErrUnavailable
	}
	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return false, nil
	}
	return true, json.Unmarshal(e.data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	e := memEntry{data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	delete(m.entries, key)
	return nil
}

// Disabled is a Store that never holds anything.
type Disabled struct{}

func (Disabled) Get(context.Context, string, any) (bool, error) { return false, nil }

func (Disabled) Set(context.Context, string, any, time.Duration) error { return nil }

func (Disabled) Delete(context.Context, string) error { return nil }
