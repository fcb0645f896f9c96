// Package telemetry keeps in-process HTTP and background job metrics and
// serves them in Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

// Metrics is safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	jobs      map[string]*int64     // job|tenant|outcome
	active    int64
}

func New() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		jobs:      make(map[string]*int64),
	}
}

// LabelsKey builds the key of a request duration series.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

func (m *Metrics) durationFor(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.durations[key] = h
	}
	return h
}

// JobOutcome adds n to the counter of a background job outcome, such as
// sweep/default/updated.
func (m *Metrics) JobOutcome(job, tenant, outcome string, n int) {
	if n <= 0 {
		return
	}
	key := job + "|" + tenant + "|" + outcome
	m.mu.RLock()
	p, ok := m.jobs[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if p, ok = m.jobs[key]; !ok {
			p = new(int64)
			m.jobs[key] = p
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(p, int64(n))
}

// JobCount returns the current value of a job outcome counter.
func (m *Metrics) JobCount(job, tenant, outcome string) int64 {
	m.mu.RLock()
	p, ok := m.jobs[job+"|"+tenant+"|"+outcome]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// Middleware records request duration by route pattern and the number of
// in-flight requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			key := LabelsKey(c.Request().Method, route, strconv.Itoa(c.Response().Status))
			m.durationFor(key).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		m.mu.RLock()
		durations := make(map[string]*histogram, len(m.durations))
		for k, v := range m.durations {
			durations[k] = v
		}
		jobs := make(map[string]int64, len(m.jobs))
		for k, p := range m.jobs {
			jobs[k] = atomic.LoadInt64(p)
		}
		m.mu.RUnlock()

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		for _, key := range sortedKeys(durations) {
			parts := strings.SplitN(key, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, durations[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		b.WriteString("# HELP inpatient_job_outcomes_total Background job results by job, tenant and outcome.\n")
		b.WriteString("# TYPE inpatient_job_outcomes_total counter\n")
		for _, key := range sortedKeys(jobs) {
			parts := strings.SplitN(key, "|", 3)
			fmt.Fprintf(&b, "inpatient_job_outcomes_total{job=%q,tenant=%q,outcome=%q} %d\n",
				parts[0], parts[1], parts[2], jobs[key])
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	total := h.Count()
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
