package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var expvarSeq atomic.Uint64

// Keys under an ExpvarMetricsRecorder map are "<operation>.<field>".
const (
	expvarSuccess    = "success"
	expvarError      = "error"
	expvarDurationMS = "duration_ms"
)

// ExpvarMetricsRecorder publishes per-operation outcome counters and total
// latency as one expvar map, visible at /debug/vars when the process serves it.
type ExpvarMetricsRecorder struct {
	name string
	vars *expvar.Map
}

// ExpvarMetricsSnapshot is the recorder's map regrouped by operation.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a new map under name, or under a
// generated circlereports_service_metrics_<n> name when name is empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("circlereports_service_metrics_%d", expvarSeq.Add(1))
	}
	return &ExpvarMetricsRecorder{name: name, vars: expvar.NewMap(name)}
}

// Name is the expvar name the map is published under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current counters.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{
		DurationsMS: map[string]float64{},
		Results:     map[string]map[string]int64{},
		RecordedAt:  time.Now().UTC(),
	}
	r.vars.Do(func(kv expvar.KeyValue) {
		op, field, ok := cutLast(kv.Key, ".")
		if !ok {
			return
		}
		switch v := kv.Value.(type) {
		case *expvar.Float:
			if field == expvarDurationMS {
				snap.DurationsMS[op] = v.Value()
			}
		case *expvar.Int:
			if snap.Results[op] == nil {
				snap.Results[op] = map[string]int64{}
			}
			snap.Results[op][field] = v.Value()
		}
	})
	return snap
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Observe counts one outcome of operation and adds its latency. Unnamed
// operations are ignored.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := expvarError
	if success {
		status = expvarSuccess
	}
	r.vars.Add(operation+"."+status, 1)
	r.vars.AddFloat(operation+"."+expvarDurationMS, float64(duration)/float64(time.Millisecond))
}

// JSONTraceEntry is one finished span as written by JSONTraceTracer.
type JSONTraceEntry struct {
	Seq        uint64    `json:"seq"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes each finished span as a JSON line (the trace file
// configured by metrics.trace_file) and keeps a copy in memory.
type JSONTraceTracer struct {
	seq atomic.Uint64

	mu      sync.Mutex
	entries []JSONTraceEntry
	w       io.Writer
}

// NewJSONTracer returns a tracer writing to w; a nil w only keeps spans in memory.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w}
}

// Entries returns the finished spans in completion order.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start opens a span numbered in start order.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{
		tracer: t,
		entry: JSONTraceEntry{
			Seq:       t.seq.Add(1),
			Operation: operation,
			StartedAt: time.Now().UTC(),
		},
	}
}

func (t *JSONTraceTracer) finish(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.w == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = t.w.Write(append(line, '\n'))
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
}

func (s *jsonTraceSpan) End(err error) {
	e := s.entry
	e.EndedAt = time.Now().UTC()
	e.DurationMS = float64(e.EndedAt.Sub(e.StartedAt)) / float64(time.Millisecond)
	e.Status = "success"
	if err != nil {
		e.Status = "error"
		e.Error = err.Error()
	}
	s.tracer.finish(e)
}

// PrometheusMetricsRecorder exports operation latency and outcome counts.
type PrometheusMetricsRecorder struct {
	latency    *prometheus.HistogramVec
	operations *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the service collectors with reg.
// A nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "circlereports",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "circlereports",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome",
		}, []string{"operation", "status"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}
