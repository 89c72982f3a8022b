package httpclient

import (
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/ringbuf"
)

// latencySamples is the per-host and per-type cap on retained latency
// samples. Older samples are evicted ring-buffer style.
const latencySamples = 100

// Recorder aggregates request outcomes per host and per request type.
// All methods are safe for concurrent use; Record is O(1).
type Recorder struct {
	mu sync.Mutex

	total   int64
	success int64
	failed  int64
	retried int64

	byHost    map[string]int64
	hostLatMS map[string]*ringbuf.Ring[float64]
	typeLatMS map[RequestType]*ringbuf.Ring[float64]
}

// NewRecorder creates an empty metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		byHost:    make(map[string]int64),
		hostLatMS: make(map[string]*ringbuf.Ring[float64]),
		typeLatMS: make(map[RequestType]*ringbuf.Ring[float64]),
	}
}

// Record books one request outcome. retried marks requests that needed at
// least one retry before resolving.
func (r *Recorder) Record(host string, rt RequestType, success bool, latency time.Duration, retried bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if success {
		r.success++
	} else {
		r.failed++
	}
	if retried {
		r.retried++
	}
	r.byHost[host]++

	ms := float64(latency.Microseconds()) / 1000

	hl, ok := r.hostLatMS[host]
	if !ok {
		hl = ringbuf.New[float64](latencySamples)
		r.hostLatMS[host] = hl
	}
	hl.Push(ms)

	tl, ok := r.typeLatMS[rt]
	if !ok {
		tl = ringbuf.New[float64](latencySamples)
		r.typeLatMS[rt] = tl
	}
	tl.Push(ms)
}

// LatencyStats summarizes the retained samples for one host or type.
type LatencyStats struct {
	Requests int64   `json:"requests"`
	Samples  int     `json:"samples"`
	MinMS    float64 `json:"min_ms"`
	AvgMS    float64 `json:"avg_ms"`
	MaxMS    float64 `json:"max_ms"`
}

// Stats is a computed snapshot of the recorder.
type Stats struct {
	TotalRequests      int64                        `json:"total_requests"`
	SuccessfulRequests int64                        `json:"successful_requests"`
	FailedRequests     int64                        `json:"failed_requests"`
	RetriedRequests    int64                        `json:"retried_requests"`
	SuccessRate        float64                      `json:"success_rate"`
	ByHost             map[string]LatencyStats      `json:"by_host"`
	ByType             map[RequestType]LatencyStats `json:"by_type"`
}

// Stats computes rates and latency summaries on demand from the capped
// sample buffers, never by rescanning unbounded history.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalRequests:      r.total,
		SuccessfulRequests: r.success,
		FailedRequests:     r.failed,
		RetriedRequests:    r.retried,
		ByHost:             make(map[string]LatencyStats, len(r.hostLatMS)),
		ByType:             make(map[RequestType]LatencyStats, len(r.typeLatMS)),
	}
	if r.total > 0 {
		s.SuccessRate = float64(r.success) / float64(r.total) * 100
	}

	for host, ring := range r.hostLatMS {
		ls := summarize(ring)
		ls.Requests = r.byHost[host]
		s.ByHost[host] = ls
	}
	for rt, ring := range r.typeLatMS {
		s.ByType[rt] = summarize(ring)
	}
	return s
}

// HostLatencies returns the retained latency samples for one host in
// recording order, oldest first.
func (r *Recorder) HostLatencies(host string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.hostLatMS[host]
	if !ok {
		return nil
	}
	return ring.Values()
}

// AvgLatencyMS returns the mean of retained samples for one host, or zero
// when nothing has been recorded.
func (r *Recorder) AvgLatencyMS(host string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring, ok := r.hostLatMS[host]
	if !ok || ring.Len() == 0 {
		return 0
	}
	var sum float64
	vals := ring.Values()
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func summarize(ring *ringbuf.Ring[float64]) LatencyStats {
	vals := ring.Values()
	ls := LatencyStats{Samples: len(vals)}
	if len(vals) == 0 {
		return ls
	}
	ls.MinMS = vals[0]
	ls.MaxMS = vals[0]
	var sum float64
	for _, v := range vals {
		if v < ls.MinMS {
			ls.MinMS = v
		}
		if v > ls.MaxMS {
			ls.MaxMS = v
		}
		sum += v
	}
	ls.AvgMS = sum / float64(len(vals))
	return ls
}
