// Package prom registers the daemon's prometheus metrics up front and
// exposes increment helpers that no-op until Create runs. Call sites
// never touch collector handles; they name a subsystem and metric and
// the registry does the lookup.
package prom

import (
	"sync"

	xhttp "github.com/luzzy/message-sync/pkg/http"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemPush     = "push"
	SystemUpload   = "upload"
	SystemDelivery = "delivery"
)

const (
	MetricPushCommands     = "commands_total"
	MetricUploadAttempts   = "attempts_total"
	MetricUploadDuration   = "batch_duration_seconds"
	MetricDeliveryOutcomes = "outcomes_total"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

// MetricSystemEnabled stays false until Create succeeds so code paths
// exercised in tests do not touch an empty registry.
var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionHistogram = make(map[string]prometheus.Histogram)

var defaultLabels prometheus.Labels

// Create registers every metric the daemon exports. env and host become
// const labels on all of them.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	// push commands by routing outcome (sent, draft, duplicate,
	// redelivered, invalid)
	hasError(createCounterVec(SystemPush, MetricPushCommands, []string{"outcome"}))
	// upload worker attempts by result (success, retry, failure)
	hasError(createCounterVec(SystemUpload, MetricUploadAttempts, []string{"result"}))
	hasError(createHistogram(SystemUpload, MetricUploadDuration))
	// delivery engine outcomes (sent, delivered, failed)
	hasError(createCounterVec(SystemDelivery, MetricDeliveryOutcomes, []string{"outcome"}))

	return err
}

// ListenAndServer serves the metrics endpoint on its own listener, away
// from the control API.
func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogram(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogram[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	})
	return prometheus.Register(MetricCollectionHistogram[subsystem+name])
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogram(subsystem, name string, number float64) {
	if MetricSystemEnabled == false {
		return
	}
	if v, ok := MetricCollectionHistogram[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func IncPushCommand(outcome string) {
	IncCounterVec(SystemPush, MetricPushCommands, outcome)
}

func IncUploadAttempt(result string) {
	IncCounterVec(SystemUpload, MetricUploadAttempts, result)
}

func ObserveUploadBatchDuration(seconds float64) {
	AddHistogram(SystemUpload, MetricUploadDuration, seconds)
}

func IncDeliveryOutcome(outcome string) {
	IncCounterVec(SystemDelivery, MetricDeliveryOutcomes, outcome)
}
