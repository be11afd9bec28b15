// Package metrics はパイプラインとHTTPサーバーの Prometheus メトリクスをまとめます。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shouni/multiview-image-kit/pkg/generator"
)

var _ generator.Recorder = (*Collector)(nil)

// 再構成は数十秒から数分かかるため DefBuckets では足りない
var generationBuckets = []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300, 600}

// Collector は generator.Recorder を実装するメトリクス収集器です。
type Collector struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	stageErrors         *prometheus.CounterVec
	stateTransitions    *prometheus.CounterVec
	fallbacks           *prometheus.CounterVec
	consistencyFailures prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector は reg にメトリクスを登録します。reg が nil の場合はデフォルトレジストリを使います。
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests by status",
		}, []string{"status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "End-to-end generation time in seconds",
			Buckets:   generationBuckets,
		}, []string{"status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total number of failed pipeline stages",
		}, []string{"stage"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of request state transitions",
		}, []string{"from", "to"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of calibration or normalization fallbacks",
		}, []string{"component"}),
		consistencyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_failures_total",
			Help:      "Total number of view sets that failed the consistency check",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   generationBuckets,
		}, []string{"method", "path"}),
	}
}

func (c *Collector) ObserveRequest(status string, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(status).Inc()
	c.requestDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveStage(stage generator.Stage, elapsed time.Duration, err error) {
	c.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		c.stageErrors.WithLabelValues(string(stage)).Inc()
	}
}

func (c *Collector) ObserveTransition(from, to generator.State) {
	c.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) IncFallback(component string) {
	c.fallbacks.WithLabelValues(component).Inc()
}

func (c *Collector) IncConsistencyFailure() {
	c.consistencyFailures.Inc()
}

// RecordHTTPRequest は HTTP ミドルウェアから呼ばれます。
func (c *Collector) RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
