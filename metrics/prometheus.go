package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

// PrometheusMetrics registers cache instruments lazily on first use and
// hands back thin typed wrappers. One instance owns one registry; tests
// construct fresh instances instead of sharing process-global state.
type PrometheusMetrics struct {
	logger     types.Logger
	namespace  string
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	namespace := "player_cache"
	if config != nil && config.Namespace != "" {
		namespace = config.Namespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &PrometheusMetrics{
		logger:     logger,
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}, nil
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Counter metric %s", name),
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}

	return promCounter{counter: vec, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Gauge metric %s", name),
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}

	return promGauge{gauge: vec, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	vec, exists := p.histograms[name]
	if !exists {
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: p.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Histogram metric %s", name),
				Buckets:   buckets,
			},
			labelNames(labels),
		)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}

	return promHistogram{histogram: vec, labels: labels}
}

// GetMetrics flattens the registry into a JSON snapshot, the shape the
// debug surface serves.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	gathering, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	type metricValue struct {
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Labels map[string]string `json:"labels,omitempty"`
		Value  float64           `json:"value"`
	}

	var out []metricValue
	for _, mf := range gathering {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}

			mv := metricValue{
				Name:   mf.GetName(),
				Type:   mf.GetType().String(),
				Labels: labels,
			}

			switch {
			case m.GetCounter() != nil:
				mv.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				mv.Value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				mv.Value = float64(m.GetHistogram().GetSampleCount())
			}

			out = append(out, mv)
		}
	}

	return utils.Marshal(out)
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrManagerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

type promCounter struct {
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c promCounter) Inc()              { c.counter.With(c.labels).Inc() }
func (c promCounter) Add(value float64) { c.counter.With(c.labels).Add(value) }

type promGauge struct {
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g promGauge) Set(value float64) { g.gauge.With(g.labels).Set(value) }
func (g promGauge) Inc()              { g.gauge.With(g.labels).Inc() }
func (g promGauge) Dec()              { g.gauge.With(g.labels).Dec() }

type promHistogram struct {
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h promHistogram) Observe(value float64) { h.histogram.With(h.labels).Observe(value) }

func (h promHistogram) ObserveDuration(start time.Time) {
	h.histogram.With(h.labels).Observe(time.Since(start).Seconds())
}
