// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates pipeline metrics. A nil *Collector is valid and
// records nothing, so components can run unmetered.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	downloadsTotal  *prometheus.CounterVec
	failoversTotal  *prometheus.CounterVec
	batchItemsTotal *prometheus.CounterVec
	imagesTotal     *prometheus.CounterVec
}

// NewCollector registers the pipeline metrics against reg. Pass
// prometheus.DefaultRegisterer in production and a private registry in
// tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"provider", "model", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Provider API call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Total number of retried provider attempts",
			},
			[]string{"provider", "reason"},
		),
		pollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_poll_duration_seconds",
				Help:      "Time spent polling async tasks",
				Buckets:   []float64{2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"provider"},
		),
		downloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_downloads_total",
				Help:      "Total number of result image downloads",
			},
			[]string{"status"},
		),
		failoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_failovers_total",
				Help:      "Total number of failover attempts to alternative endpoints",
			},
			[]string{"model"},
		),
		batchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Total number of batch items dispatched",
			},
			[]string{"model", "status"},
		),
		imagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "images_generated_total",
				Help:      "Total number of images produced",
			},
			[]string{"provider"},
		),
	}
}

// ObserveRequest records one provider call outcome.
func (c *Collector) ObserveRequest(provider, model, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(provider, model, status).Inc()
	c.requestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// IncRetry records one retried attempt.
func (c *Collector) IncRetry(provider, reason string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(provider, reason).Inc()
}

// ObservePoll records the total time spent polling one async task.
func (c *Collector) ObservePoll(provider string, d time.Duration) {
	if c == nil {
		return
	}
	c.pollDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncDownload records one result download outcome.
func (c *Collector) IncDownload(status string) {
	if c == nil {
		return
	}
	c.downloadsTotal.WithLabelValues(status).Inc()
}

// IncFailover records one failover to an alternative endpoint.
func (c *Collector) IncFailover(model string) {
	if c == nil {
		return
	}
	c.failoversTotal.WithLabelValues(model).Inc()
}

// IncBatchItem records one dispatched batch item outcome.
func (c *Collector) IncBatchItem(model, status string) {
	if c == nil {
		return
	}
	c.batchItemsTotal.WithLabelValues(model, status).Inc()
}

// AddImages records produced images.
func (c *Collector) AddImages(provider string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.imagesTotal.WithLabelValues(provider).Add(float64(n))
}
