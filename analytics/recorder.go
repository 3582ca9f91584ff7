// Package analytics aggregates request timings, order outcomes and error kinds in memory.
// Order counts and latencies are bucketed by hour and only the configured window is kept.
package analytics

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Error kinds recorded by RecordError.
const (
	KindValidation = "Validation"
	KindNotFound   = "NotFound"
	KindConflict   = "Conflict"
	KindTimeout    = "Timeout"
	KindDatabase   = "Database"
	KindInternal   = "Internal"
)

// ThroughputPoint is the number of orders processed in one hourly bucket.
type ThroughputPoint struct {
	Time   string `json:"time"`
	Orders int64  `json:"orders"`
}

// LatencyPoint is the average processing latency, in milliseconds, of one hourly bucket.
type LatencyPoint struct {
	Time    string  `json:"time"`
	Latency float64 `json:"latency"`
}

// ErrorCount is the number of errors of one kind.
type ErrorCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type Throughput struct {
	TotalRequests         int64             `json:"totalRequests"`
	AverageProcessingTime float64           `json:"averageProcessingTime"`
	Series                []ThroughputPoint `json:"series"`
}

type Latency struct {
	AverageLatency      float64        `json:"averageLatency"`
	TotalProcessingTime float64        `json:"totalProcessingTime"`
	Series              []LatencyPoint `json:"series"`
}

type Metrics struct {
	PeakThroughput int64   `json:"peakThroughput"`
	AvgLatency     float64 `json:"avgLatency"`
	ErrorRate      float64 `json:"errorRate"`
	SuccessRate    float64 `json:"successRate"`
}

// Data is the combined view rendered by the dashboard.
type Data struct {
	Throughput        []ThroughputPoint `json:"throughput"`
	Latency           []LatencyPoint    `json:"latency"`
	ErrorDistribution []ErrorCount      `json:"errorDistribution"`
	Metrics           Metrics           `json:"metrics"`
}

type bucket struct {
	orders       int64
	latencyTotal time.Duration
	samples      int64
	warned       bool
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	window      int
	now         func() time.Time
	warnAt      time.Duration
	onWarn      func(bucket string, average time.Duration)
	buckets     map[time.Time]*bucket
	errors      map[string]int64
	statusCodes map[int]int64

	totalRequests   int64
	totalProcessing time.Duration
	succeeded       int64
	failed          int64
}

// NewRecorder creates a recorder keeping 24 hourly buckets unless configured otherwise.
func NewRecorder(options ...func(*Recorder)) *Recorder {
	r := &Recorder{
		window:      24,
		now:         time.Now,
		buckets:     make(map[time.Time]*bucket),
		errors:      make(map[string]int64),
		statusCodes: make(map[int]int64),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// WithWindow sets the number of hourly buckets kept. Values below 1 are ignored.
func WithWindow(hours int) func(*Recorder) {
	return func(r *Recorder) {
		if hours > 0 {
			r.window = hours
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) func(*Recorder) {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLatencyWarning calls onWarn once per bucket when its average latency exceeds threshold.
// onWarn runs outside the recorder lock. A zero threshold disables the warning.
func WithLatencyWarning(threshold time.Duration, onWarn func(bucket string, average time.Duration)) func(*Recorder) {
	return func(r *Recorder) {
		r.warnAt = threshold
		r.onWarn = onWarn
	}
}

// Observe records one handled API request.
func (r *Recorder) Observe(status int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRequests++
	r.totalProcessing += duration
	r.statusCodes[status]++
}

// RecordOrders records the outcome of processed orders in the current bucket.
func (r *Recorder) RecordOrders(succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded += int64(succeeded)
	r.failed += int64(failed)
	r.current().orders += int64(succeeded)
}

// RecordLatency records the time taken to process an order or a batch.
func (r *Recorder) RecordLatency(duration time.Duration) {
	r.mu.Lock()
	b := r.current()
	b.latencyTotal += duration
	b.samples++

	var label string
	var average time.Duration
	fire := false
	if r.warnAt > 0 && r.onWarn != nil && !b.warned {
		average = b.latencyTotal / time.Duration(b.samples)
		if average > r.warnAt {
			b.warned = true
			fire = true
			label = hourLabel(r.now())
		}
	}
	r.mu.Unlock()

	if fire {
		r.onWarn(label, average)
	}
}

// RecordError counts one error of the given kind.
func (r *Recorder) RecordError(kind string) {
	if kind == "" {
		kind = KindInternal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[kind]++
}

// StatusCodes returns a copy of the per HTTP status request counts.
func (r *Recorder) StatusCodes() map[int]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make(map[int]int64, len(r.statusCodes))
	for code, count := range r.statusCodes {
		codes[code] = count
	}
	return codes
}

func (r *Recorder) Throughput() Throughput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Throughput{
		TotalRequests:         r.totalRequests,
		AverageProcessingTime: r.averageRequestMillis(),
		Series:                r.throughputSeries(),
	}
}

func (r *Recorder) Latency() Latency {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Latency{
		AverageLatency:      r.averageRequestMillis(),
		TotalProcessingTime: millis(r.totalProcessing),
		Series:              r.latencySeries(),
	}
}

// Errors returns the error distribution, most frequent kind first.
func (r *Recorder) Errors() []ErrorCount {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorDistribution()
}

// Snapshot returns every view at once.
func (r *Recorder) Snapshot() Data {
	r.mu.Lock()
	defer r.mu.Unlock()

	throughput := r.throughputSeries()
	var peak int64
	for _, point := range throughput {
		peak = max(peak, point.Orders)
	}
	errorRate, successRate := r.rates()

	return Data{
		Throughput:        throughput,
		Latency:           r.latencySeries(),
		ErrorDistribution: r.errorDistribution(),
		Metrics: Metrics{
			PeakThroughput: peak,
			AvgLatency:     r.averageRequestMillis(),
			ErrorRate:      errorRate,
			SuccessRate:    successRate,
		},
	}
}

// Rates returns the order error and success rates in percent.
func (r *Recorder) Rates() (errorRate, successRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rates()
}

func (r *Recorder) rates() (float64, float64) {
	total := r.succeeded + r.failed
	if total == 0 {
		return 0, 0
	}
	return float64(r.failed) / float64(total) * 100, float64(r.succeeded) / float64(total) * 100
}

func (r *Recorder) averageRequestMillis() float64 {
	if r.totalRequests == 0 {
		return 0
	}
	return millis(r.totalProcessing) / float64(r.totalRequests)
}

// current returns the bucket for the current hour, pruning buckets outside the window.
func (r *Recorder) current() *bucket {
	hour := r.now().Truncate(time.Hour)
	b, ok := r.buckets[hour]
	if !ok {
		b = &bucket{}
		r.buckets[hour] = b
		r.prune(hour)
	}
	return b
}

func (r *Recorder) prune(hour time.Time) {
	oldest := hour.Add(-time.Duration(r.window-1) * time.Hour)
	for start := range r.buckets {
		if start.Before(oldest) {
			delete(r.buckets, start)
		}
	}
}

func (r *Recorder) sortedHours() []time.Time {
	oldest := r.now().Truncate(time.Hour).Add(-time.Duration(r.window-1) * time.Hour)
	hours := make([]time.Time, 0, len(r.buckets))
	for start := range r.buckets {
		if !start.Before(oldest) {
			hours = append(hours, start)
		}
	}
	slices.SortFunc(hours, func(a, b time.Time) int { return a.Compare(b) })
	return hours
}

func (r *Recorder) throughputSeries() []ThroughputPoint {
	hours := r.sortedHours()
	series := make([]ThroughputPoint, 0, len(hours))
	for _, hour := range hours {
		series = append(series, ThroughputPoint{Time: hourLabel(hour), Orders: r.buckets[hour].orders})
	}
	return series
}

func (r *Recorder) latencySeries() []LatencyPoint {
	hours := r.sortedHours()
	series := make([]LatencyPoint, 0, len(hours))
	for _, hour := range hours {
		b := r.buckets[hour]
		var latency float64
		if b.samples > 0 {
			latency = millis(b.latencyTotal) / float64(b.samples)
		}
		series = append(series, LatencyPoint{Time: hourLabel(hour), Latency: latency})
	}
	return series
}

func (r *Recorder) errorDistribution() []ErrorCount {
	distribution := make([]ErrorCount, 0, len(r.errors))
	for kind, count := range r.errors {
		distribution = append(distribution, ErrorCount{Type: kind, Count: count})
	}
	slices.SortFunc(distribution, func(a, b ErrorCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return distribution
}

func hourLabel(t time.Time) string {
	return t.Format("15") + ":00"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
