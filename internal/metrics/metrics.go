// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/docker/go-metrics"
)

// Outcome label values.
const (
	OK     = "ok"
	Failed = "failed"
)

var (
	// Events counts cluster events by action.
	Events gometrics.LabeledCounter
	// Operations counts directory operations by operation and outcome.
	Operations gometrics.LabeledCounter
	// OperationDuration times directory operations.
	OperationDuration gometrics.LabeledTimer
	// Syncs counts full synchronisations by trigger.
	Syncs gometrics.LabeledCounter
	// Panics counts recovered event handler panics.
	Panics gometrics.Counter
	// Rejections counts HTTP requests refused by middleware, by reason.
	Rejections gometrics.LabeledCounter

	ManagedServices gometrics.Gauge
	CatalogEntries  gometrics.Gauge
)

func init() {
	ns := gometrics.NewNamespace("swarmdns", "", nil)
	Events = ns.NewLabeledCounter("events", "The number of swarm service events received", "action")
	Operations = ns.NewLabeledCounter("directory_operations", "The number of directory operations by result", "operation", "outcome")
	OperationDuration = ns.NewLabeledTimer("directory_operation", "The number of seconds each directory operation takes", "operation")
	for _, op := range []string{"dns_add", "dns_remove", "cert_request", "cert_revoke"} {
		OperationDuration.WithValues(op).Update(0)
	}
	Syncs = ns.NewLabeledCounter("syncs", "The number of full synchronisations by trigger", "trigger")
	Panics = ns.NewCounter("handler_panics", "The number of recovered event handler panics")
	Rejections = ns.NewLabeledCounter("http_rejections", "The number of HTTP requests refused before reaching a handler", "reason")
	ManagedServices = ns.NewGauge("managed_services", "The number of swarm services currently managed", gometrics.Total)
	CatalogEntries = ns.NewGauge("catalog_entries", "The number of entries in the service catalog", gometrics.Total)
	gometrics.Register(ns)
}

// Observe records one directory operation.
func Observe(op string, start time.Time, err error) {
	OperationDuration.WithValues(op).UpdateSince(start)
	outcome := OK
	if err != nil {
		outcome = Failed
	}
	Operations.WithValues(op, outcome).Inc(1)
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return gometrics.Handler()
}
