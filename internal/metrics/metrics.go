// Package metrics provides lightweight, lock-minimal counters for the
// gateway.
//
// Counters use sync/atomic so the request path incurs no mutex contention.
// Latency statistics use a single mutex per dimension; they are updated at
// most once per request. Nothing here holds message content.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all runtime counters for a running gateway.
// The zero value is NOT valid for per-token counters; use New().
type Metrics struct {
	// Request outcomes
	RequestsTotal     atomic.Int64
	RequestsEscalated atomic.Int64
	RequestsForwarded atomic.Int64
	RequestsRejected  atomic.Int64 // malformed body

	// Error counters
	ErrorsUpstream atomic.Int64
	ErrorsConfig   atomic.Int64
	ErrorsInternal atomic.Int64

	// Scrubbing
	DegradedScrubs atomic.Int64
	// Maps are written only in New(); concurrent reads are safe without a lock.
	redactions map[string]*atomic.Int64

	// Audit
	AuditRecords  atomic.Int64
	AuditFailures atomic.Int64

	scrubMu   sync.Mutex
	scrubStat latencyStats

	upstreamMu   sync.Mutex
	upstreamStat latencyStats

	startTime time.Time
}

// New returns a Metrics with the start time recorded and one redaction
// counter per token name.
func New(tokens ...string) *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		redactions: make(map[string]*atomic.Int64, len(tokens)),
	}
	for _, t := range tokens {
		m.redactions[t] = new(atomic.Int64)
	}
	return m
}

// RecordRedactions adds n to the counter for token. Unknown tokens are
// ignored.
func (m *Metrics) RecordRedactions(token string, n int) {
	if c, ok := m.redactions[token]; ok && n > 0 {
		c.Add(int64(n))
	}
}

// RecordScrubLatency records the duration of one conversation scrub.
func (m *Metrics) RecordScrubLatency(d time.Duration) {
	m.scrubMu.Lock()
	m.scrubStat.record(float64(d.Microseconds()) / 1000.0)
	m.scrubMu.Unlock()
}

// RecordUpstreamLatency records time to the upstream response headers.
func (m *Metrics) RecordUpstreamLatency(d time.Duration) {
	m.upstreamMu.Lock()
	m.upstreamStat.record(float64(d.Microseconds()) / 1000.0)
	m.upstreamMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.scrubMu.Lock()
	scrub := m.scrubStat.snapshot()
	m.scrubMu.Unlock()

	m.upstreamMu.Lock()
	upstream := m.upstreamStat.snapshot()
	m.upstreamMu.Unlock()

	var total int64
	perToken := make(map[string]int64, len(m.redactions))
	for t, c := range m.redactions {
		if n := c.Load(); n > 0 {
			perToken[t] = n
			total += n
		}
	}

	uptime := 0.0
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Requests: RequestSnapshot{
			Total:     m.RequestsTotal.Load(),
			Escalated: m.RequestsEscalated.Load(),
			Forwarded: m.RequestsForwarded.Load(),
			Rejected:  m.RequestsRejected.Load(),
		},
		Errors: ErrorSnapshot{
			Upstream: m.ErrorsUpstream.Load(),
			Config:   m.ErrorsConfig.Load(),
			Internal: m.ErrorsInternal.Load(),
		},
		Redactions: RedactionSnapshot{
			Total:    total,
			PerToken: perToken,
			Degraded: m.DegradedScrubs.Load(),
		},
		Audit: AuditSnapshot{
			Records:  m.AuditRecords.Load(),
			Failures: m.AuditFailures.Load(),
		},
		Latency: LatencyGroup{
			ScrubMs:    scrub,
			UpstreamMs: upstream,
		},
		UptimeSecs: uptime,
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot   `json:"requests"`
	Errors     ErrorSnapshot     `json:"errors"`
	Redactions RedactionSnapshot `json:"redactions"`
	Audit      AuditSnapshot     `json:"audit"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total     int64 `json:"total"`
	Escalated int64 `json:"escalated"`
	Forwarded int64 `json:"forwarded"`
	Rejected  int64 `json:"rejected"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Upstream int64 `json:"upstream"`
	Config   int64 `json:"config"`
	Internal int64 `json:"internal"`
}

// RedactionSnapshot holds scrubber volume.
type RedactionSnapshot struct {
	Total int64 `json:"total"`
	// Only tokens with non-zero counts appear.
	PerToken map[string]int64 `json:"perToken,omitempty"`
	Degraded int64            `json:"degradedScrubs"`
}

// AuditSnapshot holds audit sink counters.
type AuditSnapshot struct {
	Records  int64 `json:"records"`
	Failures int64 `json:"failures"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	ScrubMs    LatencySnapshot `json:"scrubMs"`
	UpstreamMs LatencySnapshot `json:"upstreamMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
