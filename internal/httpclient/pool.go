package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// PoolConfig bounds connection reuse per destination host.
type PoolConfig struct {
	// MaxConns caps in-flight requests across all hosts.
	MaxConns int
	// MaxPerHost caps in-flight requests to a single host.
	MaxPerHost int
	// ConnectTimeout bounds TCP dial time.
	ConnectTimeout time.Duration
	// IdleTimeout is how long an idle keep-alive connection is retained.
	IdleTimeout time.Duration
	// MaxSessionAge forces the transport to be recreated, dropping
	// accumulated DNS/TLS state. Swap is transparent to in-flight requests.
	MaxSessionAge time.Duration
}

// DefaultPoolConfig returns the pool defaults for internal traffic.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       100,
		MaxPerHost:     30,
		ConnectTimeout: 5 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxSessionAge:  time.Hour,
	}
}

// Pool manages a bounded set of reusable connections. Connection reuse
// itself is delegated to http.Transport; the pool adds per-host and global
// in-flight caps with fail-fast semantics, plus age-based transport
// recycling.
type Pool struct {
	cfg PoolConfig

	mu        sync.Mutex
	transport *http.Transport
	born      time.Time
	hostSlots map[string]chan struct{}

	globalSlots chan struct{}
}

// NewPool creates a connection pool. Zero config fields fall back to
// DefaultPoolConfig values.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = def.MaxPerHost
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = def.MaxSessionAge
	}

	p := &Pool{
		cfg:         cfg,
		hostSlots:   make(map[string]chan struct{}),
		globalSlots: make(chan struct{}, cfg.MaxConns),
	}
	p.transport = p.newTransport()
	p.born = time.Now()
	return p
}

func (p *Pool) newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   p.cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        p.cfg.MaxConns,
		MaxIdleConnsPerHost: p.cfg.MaxPerHost,
		MaxConnsPerHost:     p.cfg.MaxPerHost,
		IdleConnTimeout:     p.cfg.IdleTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// Transport returns the current transport, recycling it first if it has
// exceeded MaxSessionAge. In-flight requests keep using the old transport
// until they finish; its idle connections are closed after the swap.
func (p *Pool) Transport() http.RoundTripper {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.born) >= p.cfg.MaxSessionAge {
		old := p.transport
		p.transport = p.newTransport()
		p.born = time.Now()
		go old.CloseIdleConnections()
	}
	return p.transport
}

// Acquire reserves an in-flight slot for host, failing fast with
// ErrPoolExhausted when either the per-host or global cap is reached.
// The returned release function must be called exactly once.
func (p *Pool) Acquire(host string) (release func(), err error) {
	select {
	case p.globalSlots <- struct{}{}:
	default:
		return nil, fmt.Errorf("global cap %d reached: %w", p.cfg.MaxConns, ErrPoolExhausted)
	}

	slots := p.slotsFor(host)
	select {
	case slots <- struct{}{}:
	default:
		<-p.globalSlots
		return nil, fmt.Errorf("host %s cap %d reached: %w", host, p.cfg.MaxPerHost, ErrPoolExhausted)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slots
			<-p.globalSlots
		})
	}, nil
}

// InFlight returns the number of currently reserved slots across all hosts.
func (p *Pool) InFlight() int {
	return len(p.globalSlots)
}

func (p *Pool) slotsFor(host string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots, ok := p.hostSlots[host]
	if !ok {
		slots = make(chan struct{}, p.cfg.MaxPerHost)
		p.hostSlots[host] = slots
	}
	return slots
}

// CloseIdle closes idle connections on the current transport.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	t.CloseIdleConnections()
}
