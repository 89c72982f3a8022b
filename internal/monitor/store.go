package monitor

import (
	"context"
	"sync"

	"github.com/mbd888/sentinel/internal/ringbuf"
)

// Store persists raised alerts so operators can query history across
// restarts. The monitor works fine without one; persistence is optional.
type Store interface {
	SaveAlert(ctx context.Context, a Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	Close() error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	alerts *ringbuf.Ring[Alert]
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: ringbuf.New[Alert](alertHistoryCap)}
}

func (m *MemoryStore) SaveAlert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts.Push(a)
	return nil
}

// RecentAlerts returns up to limit of the most recent alerts, newest first.
func (m *MemoryStore) RecentAlerts(_ context.Context, limit int) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tail := m.alerts.Tail(limit)
	out := make([]Alert, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
