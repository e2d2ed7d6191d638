// Package metrics implements the Metrics Snapshot of spec §3/§5:
// monotone request/response counters, body-size and latency histograms,
// and an in-flight gauge, with atomic counters and a
// short-held lock around histogram updates.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics accumulates proxy telemetry for the lifetime of the process.
// Counters are atomic; histogram buckets are protected by a mutex held
// only for the duration of a single sample insert.
type Metrics struct {
	requests       atomic.Int64
	responses      atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	workerSuccess  atomic.Int64
	workerFailures atomic.Int64
	clientAborts   atomic.Int64
	upstreamErrors atomic.Int64
	inFlight       atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	bodySizes []int64
}

// maxSamples bounds the latency/body-size histograms so a long-lived
// process doesn't accumulate one entry per request forever; once full,
// the oldest sample is dropped to make room for the newest, keeping the
// summary representative of recent traffic rather than the full uptime.
const maxSamples = 4096

// New creates an empty Metrics accumulator.
func New() *Metrics {
	return &Metrics{}
}

// RequestStarted marks the beginning of a request's lifetime (state
// machine's Received -> Admitted transition, spec §4.11).
func (m *Metrics) RequestStarted() {
	m.requests.Add(1)
	m.inFlight.Add(1)
}

// RequestFinished records a terminal transition: response count, latency
// histogram, and body-size histogram (spec §4.11 "terminal transitions
// always record a metrics sample").
func (m *Metrics) RequestFinished(latency time.Duration, bodySize int64) {
	m.inFlight.Add(-1)
	m.responses.Add(1)

	m.mu.Lock()
	m.latencies = appendBounded(m.latencies, latency)
	m.bodySizes = appendBounded(m.bodySizes, bodySize)
	m.mu.Unlock()
}

// RecordCacheHit/RecordCacheMiss record cache outcomes.
func (m *Metrics) RecordCacheHit()  { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordWorkerSuccess/RecordWorkerFailure record worker pool outcomes.
func (m *Metrics) RecordWorkerSuccess() { m.workerSuccess.Add(1) }
func (m *Metrics) RecordWorkerFailure() { m.workerFailures.Add(1) }

// RecordClientAbort records a ClientAbort error (spec §7): no response
// written, request simply torn down.
func (m *Metrics) RecordClientAbort() {
	m.inFlight.Add(-1)
	m.clientAborts.Add(1)
}

// RecordUpstreamError records an UpstreamError/UpstreamTimeout.
func (m *Metrics) RecordUpstreamError() { m.upstreamErrors.Add(1) }

// appendBounded appends v to s, dropping the oldest element first once s
// has reached maxSamples.
func appendBounded[T any](s []T, v T) []T {
	if len(s) >= maxSamples {
		s = s[1:]
	}
	return append(s, v)
}

// Histogram is a simple summary of a duration/size sample set.
type Histogram struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Snapshot is the JSON-serializable telemetry shape exposed by GET
// /metrics (spec §6).
type Snapshot struct {
	Requests       int64     `json:"requests"`
	Responses      int64     `json:"responses"`
	CacheHits      int64     `json:"cache_hits"`
	CacheMisses    int64     `json:"cache_misses"`
	WorkerSuccess  int64     `json:"worker_successes"`
	WorkerFailures int64     `json:"worker_failures"`
	ClientAborts   int64     `json:"client_aborts"`
	UpstreamErrors int64     `json:"upstream_errors"`
	InFlight       int64     `json:"in_flight"`
	LatencyMillis  Histogram `json:"latency_ms"`
	BodyBytes      Histogram `json:"body_bytes"`
}

// Snapshot returns a point-in-time view of all recorded telemetry.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	latencies := append([]time.Duration(nil), m.latencies...)
	sizes := append([]int64(nil), m.bodySizes...)
	m.mu.Unlock()

	latencyMillis := make([]float64, len(latencies))
	for i, d := range latencies {
		latencyMillis[i] = float64(d) / float64(time.Millisecond)
	}
	sizeFloats := make([]float64, len(sizes))
	for i, s := range sizes {
		sizeFloats[i] = float64(s)
	}

	return Snapshot{
		Requests:       m.requests.Load(),
		Responses:      m.responses.Load(),
		CacheHits:      m.cacheHits.Load(),
		CacheMisses:    m.cacheMisses.Load(),
		WorkerSuccess:  m.workerSuccess.Load(),
		WorkerFailures: m.workerFailures.Load(),
		ClientAborts:   m.clientAborts.Load(),
		UpstreamErrors: m.upstreamErrors.Load(),
		InFlight:       m.inFlight.Load(),
		LatencyMillis:  summarize(latencyMillis),
		BodyBytes:      summarize(sizeFloats),
	}
}

// Reset clears all counters and histogram samples (spec §6 "POST
// /metrics/reset").
func (m *Metrics) Reset() {
	m.requests.Store(0)
	m.responses.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.workerSuccess.Store(0)
	m.workerFailures.Store(0)
	m.clientAborts.Store(0)
	m.upstreamErrors.Store(0)

	m.mu.Lock()
	m.latencies = nil
	m.bodySizes = nil
	m.mu.Unlock()
}

func summarize(values []float64) Histogram {
	if len(values) == 0 {
		return Histogram{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return Histogram{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
