package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusExisting = "existing"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
)

// Collector collects and exposes metrics
type Collector struct {
	registry  *prometheus.Registry
	documents *prometheus.CounterVec
	bytes     prometheus.Counter
	attempts  prometheus.Histogram
	duration  prometheus.Histogram
	inflight  prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docupload_documents_total",
				Help: "Documents processed, by outcome",
			},
			[]string{"status"},
		),
		bytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docupload_bytes_total",
				Help: "Bytes written to the document store",
			},
		),
		attempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docupload_transfer_attempts",
				Help:    "Upload attempts needed per document",
				Buckets: []float64{1, 2, 3, 4, 6, 8},
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docupload_document_duration_seconds",
				Help:    "Time taken to store one document",
				Buckets: prometheus.DefBuckets,
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docupload_batch_running",
				Help: "1 while a batch is running",
			},
		),
	}

	c.registry.MustRegister(c.documents, c.bytes, c.attempts, c.duration, c.inflight)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncDocument counts one document with the given status.
func (c *Collector) IncDocument(status string) {
	c.documents.WithLabelValues(status).Inc()
}

// AddSkipped counts documents dropped by the batch cap.
func (c *Collector) AddSkipped(n int) {
	c.documents.WithLabelValues(StatusSkipped).Add(float64(n))
}

// AddBytes adds to total bytes stored
func (c *Collector) AddBytes(bytes int64) {
	c.bytes.Add(float64(bytes))
}

// ObserveAttempts records how many attempts a transfer took.
func (c *Collector) ObserveAttempts(n int) {
	c.attempts.Observe(float64(n))
}

// ObserveDuration observes per-document duration
func (c *Collector) ObserveDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// SetRunning flips the batch gauge.
func (c *Collector) SetRunning(running bool) {
	if running {
		c.inflight.Set(1)
		return
	}
	c.inflight.Set(0)
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
