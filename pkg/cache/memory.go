package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store and Counter. It backs tests and single-node
// runs without redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.get(namespace + ":" + key)
	if !ok {
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}

	e := memoryEntry{value: s}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[namespace+":"+key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, namespace+":"+key)
	return nil
}

func (m *Memory) IncrWithExpire(_ context.Context, namespace, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := namespace + ":" + key
	e, ok := m.get(k)
	var n int64
	if ok {
		fmt.Sscan(e.value, &n)
	} else {
		e = memoryEntry{}
		if window > 0 {
			e.expiresAt = m.now().Add(window)
		}
	}
	n++
	e.value = fmt.Sprint(n)
	m.entries[k] = e
	return n, nil
}
