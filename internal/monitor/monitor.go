// Package monitor runs the background health loop: it polls circuit-breaker
// and latency state for every tracked service, keeps bounded snapshot
// histories, detects degrading trends, and raises deduplicated alerts.
//
// The monitor only observes. It reads immutable snapshots through the
// client's accessors and never mutates breaker state.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/ringbuf"
)

// Source provides read-only client state for one collection pass.
// *httpclient.Client satisfies it.
type Source interface {
	BreakerSnapshot(host string) circuitbreaker.Snapshot
	AvgLatencyMS(host string) float64
}

// Target names one downstream service and the host:port its breaker is
// scoped to.
type Target struct {
	Name string
	Host string
}

// Config holds the monitor's interval and health thresholds.
type Config struct {
	// Interval between monitoring cycles.
	Interval time.Duration
	// OpenCriticalAfter is how long a circuit may stay open before the
	// service is considered critical rather than degraded.
	OpenCriticalAfter time.Duration
	// ErrorRateWarning and ErrorRateCritical are failure fractions in [0,1].
	ErrorRateWarning  float64
	ErrorRateCritical float64
	// LatencyWarningMS and LatencyCriticalMS bound average latency.
	LatencyWarningMS  float64
	LatencyCriticalMS float64
}

// DefaultConfig returns the monitoring defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		OpenCriticalAfter: 5 * time.Minute,
		ErrorRateWarning:  0.10,
		ErrorRateCritical: 0.50,
		LatencyWarningMS:  2000,
		LatencyCriticalMS: 5000,
	}
}

const (
	// snapshotHistoryCap bounds per-service snapshot history.
	snapshotHistoryCap = 100
	// Trend analysis compares the mean of the last trendWindow snapshots
	// against the mean of the trendWindow before that, once at least
	// trendMinPoints exist.
	trendWindow         = 3
	trendMinPoints      = 5
	trendErrorRateDelta = 0.02 // +2 percentage points
	trendLatencyDeltaMS = 500  // +0.5s
)

// HealthStatus is the derived health of a service or the whole system.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// ServiceSnapshot is one point-in-time observation of a service, appended
// to the bounded per-service history each cycle.
type ServiceSnapshot struct {
	Service             string        `json:"service"`
	Host                string        `json:"host"`
	State               string        `json:"circuit_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	AvgLatencyMS        float64       `json:"avg_latency_ms"`
	OpenFor             time.Duration `json:"-"`
	OpenForSeconds      float64       `json:"open_for_seconds,omitempty"`
	Taken               time.Time     `json:"taken"`
}

// ServiceHealth is the derived health of one service.
type ServiceHealth struct {
	Service        string       `json:"service"`
	Status         HealthStatus `json:"status"`
	State          string       `json:"circuit_state"`
	ErrorRate      float64      `json:"error_rate"`
	AvgLatencyMS   float64      `json:"avg_latency_ms"`
	OpenForSeconds float64      `json:"open_for_seconds,omitempty"`
}

// HealthSummary aggregates per-service health into one system status.
type HealthSummary struct {
	OverallStatus HealthStatus             `json:"overall_status"`
	Services      map[string]ServiceHealth `json:"services"`
	ActiveAlerts  int                      `json:"active_alerts"`
	Taken         time.Time                `json:"taken"`
}

// PerformanceReport summarizes one service's recent history.
type PerformanceReport struct {
	Service        string  `json:"service"`
	Points         int     `json:"points"`
	ErrorRate      float64 `json:"error_rate"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	MinLatencyMS   float64 `json:"min_latency_ms"`
	MaxLatencyMS   float64 `json:"max_latency_ms"`
	ErrorRateDelta float64 `json:"error_rate_delta"`
	LatencyDeltaMS float64 `json:"latency_delta_ms"`
}

// Monitor is the background health monitor.
type Monitor struct {
	cfg     Config
	source  Source
	targets []Target
	logger  *slog.Logger
	alerts  *alertBook

	mu        sync.Mutex
	histories map[string]*ringbuf.Ring[ServiceSnapshot]
	onAlert   func(Alert)

	now func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a monitor for the given targets. store may be nil to skip
// alert persistence. Zero config fields fall back to DefaultConfig values.
func New(cfg Config, source Source, targets []Target, store Store, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OpenCriticalAfter <= 0 {
		cfg.OpenCriticalAfter = def.OpenCriticalAfter
	}
	if cfg.ErrorRateWarning <= 0 {
		cfg.ErrorRateWarning = def.ErrorRateWarning
	}
	if cfg.ErrorRateCritical <= 0 {
		cfg.ErrorRateCritical = def.ErrorRateCritical
	}
	if cfg.LatencyWarningMS <= 0 {
		cfg.LatencyWarningMS = def.LatencyWarningMS
	}
	if cfg.LatencyCriticalMS <= 0 {
		cfg.LatencyCriticalMS = def.LatencyCriticalMS
	}

	return &Monitor{
		cfg:       cfg,
		source:    source,
		targets:   targets,
		logger:    logger,
		alerts:    newAlertBook(store, logger),
		histories: make(map[string]*ringbuf.Ring[ServiceSnapshot]),
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnAlert sets a callback invoked whenever a new alert is created
// (for event streaming). Called from a separate goroutine.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	m.onAlert = fn
	m.mu.Unlock()
}

// Start launches the monitoring loop.
func (m *Monitor) Start() {
	m.logger.Info("health monitor started",
		"interval", m.cfg.Interval, "targets", len(m.targets))
	go m.loop()
}

// Stop signals the loop to exit and waits for it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

// runCycle executes one tick. A panic in analysis must never take down the
// host process: it is logged, counted, and followed by a short pause.
func (m *Monitor) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitoring cycle panicked", "panic", r)
			metrics.MonitorCycleErrors.Inc()
			time.Sleep(time.Second)
		}
	}()

	m.tick()
	metrics.MonitorCyclesTotal.Inc()
}

// tick runs one full monitoring pass: collect, trend, thresholds, cleanup.
func (m *Monitor) tick() {
	for _, t := range m.targets {
		snap := m.collect(t)
		hist := m.appendHistory(snap)
		m.analyzeTrend(t.Name, hist)
		m.analyzeThresholds(snap)
	}
	m.alerts.purge()
}

// collect copies the breaker and latency state for one target. The copy is
// taken through snapshot accessors so no client lock is held afterwards.
func (m *Monitor) collect(t Target) ServiceSnapshot {
	bs := m.source.BreakerSnapshot(t.Host)
	taken := m.now()

	s := ServiceSnapshot{
		Service:             t.Name,
		Host:                t.Host,
		State:               bs.StateName,
		ConsecutiveFailures: bs.Failures,
		ErrorRate:           bs.ErrorRate(),
		AvgLatencyMS:        m.source.AvgLatencyMS(t.Host),
		Taken:               taken,
	}
	if bs.State == circuitbreaker.StateOpen && !bs.LastFailure.IsZero() {
		s.OpenFor = taken.Sub(bs.LastFailure)
		s.OpenForSeconds = s.OpenFor.Seconds()
	}
	return s
}

func (m *Monitor) appendHistory(s ServiceSnapshot) []ServiceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist, ok := m.histories[s.Service]
	if !ok {
		hist = ringbuf.New[ServiceSnapshot](snapshotHistoryCap)
		m.histories[s.Service] = hist
	}
	hist.Push(s)
	return hist.Values()
}

// analyzeTrend flags a service whose error rate or latency is rising:
// mean of the last 3 snapshots vs the mean of the 3 before, needing at
// least 5 history points.
func (m *Monitor) analyzeTrend(service string, hist []ServiceSnapshot) {
	if len(hist) < trendMinPoints {
		return
	}
	recent := hist[len(hist)-trendWindow:]
	priorStart := len(hist) - 2*trendWindow
	if priorStart < 0 {
		priorStart = 0
	}
	prior := hist[priorStart : len(hist)-trendWindow]

	errDelta := meanErrorRate(recent) - meanErrorRate(prior)
	latDelta := meanLatencyMS(recent) - meanLatencyMS(prior)

	if errDelta > trendErrorRateDelta {
		m.raise(service, SeverityWarning,
			"error rate trending up",
			map[string]interface{}{
				"error_rate_delta": errDelta,
				"recent_mean":      meanErrorRate(recent),
				"prior_mean":       meanErrorRate(prior),
			})
	}
	if latDelta > trendLatencyDeltaMS {
		m.raise(service, SeverityWarning,
			"latency trending up",
			map[string]interface{}{
				"latency_delta_ms": latDelta,
				"recent_mean_ms":   meanLatencyMS(recent),
				"prior_mean_ms":    meanLatencyMS(prior),
			})
	}
}

// analyzeThresholds raises alerts straight from the latest snapshot.
func (m *Monitor) analyzeThresholds(s ServiceSnapshot) {
	if s.State == circuitbreaker.StateOpen.String() {
		if s.OpenFor >= m.cfg.OpenCriticalAfter {
			m.raise(s.Service, SeverityCritical,
				"circuit breaker open beyond critical duration",
				map[string]interface{}{"open_for_seconds": s.OpenForSeconds})
		} else {
			m.raise(s.Service, SeverityWarning,
				"circuit breaker open",
				map[string]interface{}{"open_for_seconds": s.OpenForSeconds})
		}
	}

	switch {
	case s.ErrorRate >= m.cfg.ErrorRateCritical:
		m.raise(s.Service, SeverityCritical,
			"error rate above critical threshold",
			map[string]interface{}{"error_rate": s.ErrorRate})
	case s.ErrorRate >= m.cfg.ErrorRateWarning:
		m.raise(s.Service, SeverityWarning,
			"error rate above warning threshold",
			map[string]interface{}{"error_rate": s.ErrorRate})
	}

	switch {
	case s.AvgLatencyMS >= m.cfg.LatencyCriticalMS:
		m.raise(s.Service, SeverityCritical,
			"average latency above critical threshold",
			map[string]interface{}{"avg_latency_ms": s.AvgLatencyMS})
	case s.AvgLatencyMS >= m.cfg.LatencyWarningMS:
		m.raise(s.Service, SeverityWarning,
			"average latency above warning threshold",
			map[string]interface{}{"avg_latency_ms": s.AvgLatencyMS})
	}
}

func (m *Monitor) raise(service string, sev Severity, message string, details map[string]interface{}) {
	a, created := m.alerts.raise(service, sev, message, details)
	if !created {
		return
	}
	m.mu.Lock()
	fn := m.onAlert
	m.mu.Unlock()
	if fn != nil {
		go fn(a)
	}
}

// healthOf derives a service's health from its latest snapshot.
func (m *Monitor) healthOf(s ServiceSnapshot) HealthStatus {
	switch {
	case s.State == circuitbreaker.StateOpen.String() && s.OpenFor >= m.cfg.OpenCriticalAfter:
		return StatusCritical
	case s.ErrorRate >= m.cfg.ErrorRateCritical:
		return StatusCritical
	case s.AvgLatencyMS >= m.cfg.LatencyCriticalMS:
		return StatusCritical
	case s.State == circuitbreaker.StateOpen.String():
		return StatusDegraded
	case s.ErrorRate >= m.cfg.ErrorRateWarning:
		return StatusDegraded
	case s.AvgLatencyMS >= m.cfg.LatencyWarningMS:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// HealthSummary derives per-service and aggregate health from live state.
// Aggregate = critical if any service is critical, else degraded if any is
// degraded, else healthy.
func (m *Monitor) HealthSummary() HealthSummary {
	summary := HealthSummary{
		OverallStatus: StatusHealthy,
		Services:      make(map[string]ServiceHealth, len(m.targets)),
		ActiveAlerts:  len(m.alerts.Active()),
		Taken:         m.now(),
	}

	for _, t := range m.targets {
		s := m.collect(t)
		status := m.healthOf(s)
		summary.Services[t.Name] = ServiceHealth{
			Service:        t.Name,
			Status:         status,
			State:          s.State,
			ErrorRate:      s.ErrorRate,
			AvgLatencyMS:   s.AvgLatencyMS,
			OpenForSeconds: s.OpenForSeconds,
		}
		switch status {
		case StatusCritical:
			summary.OverallStatus = StatusCritical
		case StatusDegraded:
			if summary.OverallStatus != StatusCritical {
				summary.OverallStatus = StatusDegraded
			}
		}
	}
	return summary
}

// PerformanceMetrics summarizes snapshot history. An empty service name
// reports on every target; an unknown service yields an empty slice.
func (m *Monitor) PerformanceMetrics(service string) []PerformanceReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PerformanceReport
	for _, t := range m.targets {
		if service != "" && t.Name != service {
			continue
		}
		hist, ok := m.histories[t.Name]
		if !ok || hist.Len() == 0 {
			continue
		}
		out = append(out, reportFrom(t.Name, hist.Values()))
	}
	return out
}

func reportFrom(service string, hist []ServiceSnapshot) PerformanceReport {
	latest := hist[len(hist)-1]
	r := PerformanceReport{
		Service:      service,
		Points:       len(hist),
		ErrorRate:    latest.ErrorRate,
		AvgLatencyMS: latest.AvgLatencyMS,
		MinLatencyMS: hist[0].AvgLatencyMS,
		MaxLatencyMS: hist[0].AvgLatencyMS,
	}
	for _, s := range hist {
		if s.AvgLatencyMS < r.MinLatencyMS {
			r.MinLatencyMS = s.AvgLatencyMS
		}
		if s.AvgLatencyMS > r.MaxLatencyMS {
			r.MaxLatencyMS = s.AvgLatencyMS
		}
	}
	if len(hist) >= trendMinPoints {
		recent := hist[len(hist)-trendWindow:]
		priorStart := len(hist) - 2*trendWindow
		if priorStart < 0 {
			priorStart = 0
		}
		prior := hist[priorStart : len(hist)-trendWindow]
		r.ErrorRateDelta = meanErrorRate(recent) - meanErrorRate(prior)
		r.LatencyDeltaMS = meanLatencyMS(recent) - meanLatencyMS(prior)
	}
	return r
}

// History returns the retained snapshots for a service, oldest first.
func (m *Monitor) History(service string) []ServiceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist, ok := m.histories[service]
	if !ok {
		return nil
	}
	return hist.Values()
}

// ActiveAlerts returns a copy of the active alert list.
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.Active()
}

// AlertHistory returns the bounded alert history, oldest first.
func (m *Monitor) AlertHistory() []Alert {
	return m.alerts.History()
}

func meanErrorRate(snaps []ServiceSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.ErrorRate
	}
	return sum / float64(len(snaps))
}

func meanLatencyMS(snaps []ServiceSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.AvgLatencyMS
	}
	return sum / float64(len(snaps))
}
