// Package prometheus backs core.MetricsRecorder with client_golang counter
// and histogram vectors.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-notify/core"
)

// DefaultLabels covers every tag the dispatch manager and webhook receiver
// attach. Tags outside the label set are dropped; absent ones record "".
var DefaultLabels = []string{
	"operation",
	"status",
	"channel_id",
	"channel_kind",
	"priority",
	"endpoint_id",
	"state",
}

type Config struct {
	Registerer prom.Registerer
	Labels     []string
	// Buckets apply to every histogram, in the recorded unit (milliseconds
	// for the *.duration_ms series).
	Buckets []float64
}

// Recorder creates one vector per metric name on first use. Names are
// sanitized, so "notify.send.total" becomes notify_send_total.
type Recorder struct {
	registerer prom.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
	failures   map[string]error
}

func NewRecorder(cfg Config) *Recorder {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prom.DefaultRegisterer
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	return &Recorder{
		registerer: registerer,
		labels:     sanitizeLabels(labels),
		buckets:    append([]float64(nil), buckets...),
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
		failures:   map[string]error{},
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

// Err reports the registration failure for a metric name, if any.
func (r *Recorder) Err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[MetricName(name)]
}

func (r *Recorder) counter(name string) *prom.CounterVec {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec
	}
	if _, failed := r.failures[metric]; failed {
		return nil
	}
	vec := prom.NewCounterVec(prom.CounterOpts{Name: metric, Help: "notify counter " + name}, r.labels)
	vec, err := register(r.registerer, vec)
	if err != nil {
		r.failures[metric] = err
		return nil
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prom.HistogramVec {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec
	}
	if _, failed := r.failures[metric]; failed {
		return nil
	}
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metric,
		Help:    "notify histogram " + name,
		Buckets: r.buckets,
	}, r.labels)
	vec, err := register(r.registerer, vec)
	if err != nil {
		r.failures[metric] = err
		return nil
	}
	r.histograms[metric] = vec
	return vec
}

// register reuses a collector that another Recorder already registered
// under the same name.
func register[T prom.Collector](registerer prom.Registerer, collector T) (T, error) {
	if err := registerer.Register(collector); err != nil {
		var already prom.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("prometheus: register collector: %w", err)
	}
	return collector, nil
}

func (r *Recorder) labelValues(tags map[string]string) prom.Labels {
	values := make(prom.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = ""
	}
	for key, value := range tags {
		label := sanitize(key)
		if _, ok := values[label]; ok {
			values[label] = value
		}
	}
	return values
}

// MetricName maps a dotted observer name onto the prometheus name charset.
func MetricName(name string) string {
	out := sanitize(name)
	if out == "" {
		return "notify_unnamed"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func sanitizeLabels(labels []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = sanitize(label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
