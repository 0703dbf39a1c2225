package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/benbjohnson/clock"
)

const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
	sigFigs      = 3
)

// Recorder collects request latencies and outcomes
type Recorder struct {
	mu sync.Mutex

	clock     clock.Clock
	startTime time.Time

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	errorRequests   atomic.Int64

	histogram      *hdrhistogram.Histogram
	requestMetrics map[string]*requestMetrics
}

type requestMetrics struct {
	total     int64
	errors    int64
	histogram *hdrhistogram.Histogram
}

// NewRecorder creates a Recorder whose elapsed time is measured on c.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.New()
	}
	return &Recorder{
		clock:          c,
		startTime:      c.Now(),
		histogram:      hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs),
		requestMetrics: make(map[string]*requestMetrics),
	}
}

// Record records one request. name groups requests in the breakdown and may be empty.
func (r *Recorder) Record(name string, duration time.Duration, err error) {
	r.totalRequests.Add(1)
	if err != nil {
		r.errorRequests.Add(1)
	} else {
		r.successRequests.Add(1)
	}

	latencyUs := clampLatency(duration)

	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.histogram.RecordValue(latencyUs)

	if name == "" {
		return
	}
	rm, ok := r.requestMetrics[name]
	if !ok {
		rm = &requestMetrics{histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)}
		r.requestMetrics[name] = rm
	}
	rm.total++
	if err != nil {
		rm.errors++
	}
	_ = rm.histogram.RecordValue(latencyUs)
}

func clampLatency(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}
	return us
}

// Summary is a point-in-time view of a Recorder
type Summary struct {
	Elapsed       time.Duration
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	ErrorRate     float64

	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration

	// Per-request breakdown, sorted by name
	Requests []RequestSummary
}

// RequestSummary holds summary for a specific request name
type RequestSummary struct {
	Name   string
	Total  int64
	Errors int64
	P50    time.Duration
	P99    time.Duration
	Mean   time.Duration
}

// Summary returns the current metrics summary
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.totalRequests.Load()
	errs := r.errorRequests.Load()

	errorRate := float64(0)
	if total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	summary := &Summary{
		Elapsed:       r.clock.Since(r.startTime),
		TotalRequests: total,
		SuccessCount:  r.successRequests.Load(),
		ErrorCount:    errs,
		ErrorRate:     errorRate,
		P50:           us(r.histogram.ValueAtQuantile(50)),
		P95:           us(r.histogram.ValueAtQuantile(95)),
		P99:           us(r.histogram.ValueAtQuantile(99)),
		Min:           us(r.histogram.Min()),
		Max:           us(r.histogram.Max()),
		Mean:          us(int64(r.histogram.Mean())),
	}

	for name, rm := range r.requestMetrics {
		summary.Requests = append(summary.Requests, RequestSummary{
			Name:   name,
			Total:  rm.total,
			Errors: rm.errors,
			P50:    us(rm.histogram.ValueAtQuantile(50)),
			P99:    us(rm.histogram.ValueAtQuantile(99)),
			Mean:   us(int64(rm.histogram.Mean())),
		})
	}
	sort.Slice(summary.Requests, func(i, j int) bool {
		return summary.Requests[i].Name < summary.Requests[j].Name
	})

	return summary
}

func us(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
