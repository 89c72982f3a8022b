package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/ringbuf"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Alert is one operator-facing health event for a service.
type Alert struct {
	ID        string                 `json:"id"`
	Service   string                 `json:"service"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

const (
	// dedupWindow suppresses repeat alerts for the same (service, severity).
	dedupWindow = 300 * time.Second
	// activeMaxAge is how long an alert stays on the active list.
	activeMaxAge = time.Hour
	// alertHistoryCap bounds the retained alert history.
	alertHistoryCap = 1000
)

// alertBook owns the active alert list, the bounded history, and the
// deduplication window. Optionally persists every raised alert to a Store.
type alertBook struct {
	mu      sync.Mutex
	active  []Alert
	history *ringbuf.Ring[Alert]
	lastAt  map[string]time.Time // (service|severity) -> last creation time

	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func newAlertBook(store Store, logger *slog.Logger) *alertBook {
	return &alertBook{
		history: ringbuf.New[Alert](alertHistoryCap),
		lastAt:  make(map[string]time.Time),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func dedupKey(service string, sev Severity) string {
	return service + "|" + string(sev)
}

// raise creates an alert unless one for the same (service, severity) was
// created within the dedup window. Returns the alert and whether it was
// actually created.
func (b *alertBook) raise(service string, sev Severity, message string, details map[string]interface{}) (Alert, bool) {
	b.mu.Lock()

	now := b.now()
	key := dedupKey(service, sev)
	if last, ok := b.lastAt[key]; ok && now.Sub(last) < dedupWindow {
		b.mu.Unlock()
		return Alert{}, false
	}

	a := Alert{
		ID:        idgen.WithPrefix("alrt_"),
		Service:   service,
		Severity:  sev,
		Message:   message,
		Details:   details,
		CreatedAt: now,
	}
	b.lastAt[key] = now
	b.active = append(b.active, a)
	b.history.Push(a)
	b.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(sev)).Inc()
	b.logger.Warn("alert raised",
		"service", service, "severity", sev, "message", message)

	if b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.store.SaveAlert(ctx, a); err != nil {
			b.logger.Error("failed to persist alert", "alert", a.ID, "error", err)
		}
	}
	return a, true
}

// purge drops active alerts older than activeMaxAge and expired dedup
// entries. History is untouched; it ages out via its own cap.
func (b *alertBook) purge() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kept := b.active[:0]
	for _, a := range b.active {
		if now.Sub(a.CreatedAt) < activeMaxAge {
			kept = append(kept, a)
		}
	}
	b.active = kept

	for key, at := range b.lastAt {
		if now.Sub(at) >= dedupWindow {
			delete(b.lastAt, key)
		}
	}
}

// Active returns a copy of the active alert list, newest last.
func (b *alertBook) Active() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, len(b.active))
	copy(out, b.active)
	return out
}

// History returns a copy of the retained alert history, oldest first.
func (b *alertBook) History() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Values()
}
