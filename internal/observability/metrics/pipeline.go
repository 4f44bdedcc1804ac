package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	filesTotal     *prometheus.CounterVec
	pagesTotal     *prometheus.CounterVec
	retriesTotal   prometheus.Counter
	fieldsTotal    prometheus.Counter
	batchDuration  *prometheus.HistogramVec
	activeBatches  prometheus.Gauge
	busSubscribers prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "files_total",
			Help:        "Processed files by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	pagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "pages_total",
			Help:        "OCR page outcomes.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "ocr_retries_total",
			Help:        "OCR page retry attempts.",
			ConstLabels: constLabels,
		},
	)
	fieldsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "extracted_fields_total",
			Help:        "Structured fields stored.",
			ConstLabels: constLabels,
		},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "batch_duration_seconds",
			Help:        "Company batch duration in seconds by status.",
			Buckets:     []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	activeBatches := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "ci",
			Subsystem:   "pipeline",
			Name:        "active_batches",
			Help:        "Company batches currently running or queued.",
			ConstLabels: constLabels,
		},
	)
	busSubscribers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "ci",
			Subsystem:   "eventbus",
			Name:        "subscribers",
			Help:        "Live event bus subscribers.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(filesTotal, pagesTotal, retriesTotal, fieldsTotal, batchDuration, activeBatches, busSubscribers)

	return &PipelineMetrics{
		registry:       registry,
		filesTotal:     filesTotal,
		pagesTotal:     pagesTotal,
		retriesTotal:   retriesTotal,
		fieldsTotal:    fieldsTotal,
		batchDuration:  batchDuration,
		activeBatches:  activeBatches,
		busSubscribers: busSubscribers,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) FileFinished(failed bool) {
	status := "completed"
	if failed {
		status = "failed"
	}
	m.filesTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) PageProcessed(failed bool) {
	result := "success"
	if failed {
		result = "failed"
	}
	m.pagesTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) RetryObserved()  { m.retriesTotal.Inc() }
func (m *PipelineMetrics) FieldExtracted() { m.fieldsTotal.Inc() }
func (m *PipelineMetrics) BatchStarted()   { m.activeBatches.Inc() }

func (m *PipelineMetrics) BatchFinished(duration time.Duration, failed bool) {
	m.activeBatches.Dec()
	status := "completed"
	if failed {
		status = "failed"
	}
	m.batchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) SetBusSubscribers(n int) {
	m.busSubscribers.Set(float64(n))
}
