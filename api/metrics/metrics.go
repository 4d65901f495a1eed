// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"switchyard/api/model"
)

var (
	// Labels: app, outcome
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchyard",
		Subsystem: "deploy",
		Name:      "attempts_total",
		Help:      "Deployment attempts by final outcome",
	}, []string{"app", "outcome"})

	// Labels: app, outcome
	DeployDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "switchyard",
		Subsystem: "deploy",
		Name:      "duration_seconds",
		Help:      "Wall time of deployment attempts",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"app", "outcome"})

	// Labels: app, slot, result (pass, fail)
	ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "switchyard",
		Subsystem: "health",
		Name:      "probe_attempts_total",
		Help:      "Individual health probe requests",
	}, []string{"app", "slot", "result"})

	// 1 when the slot passed its last background probe, 0 otherwise.
	// Labels: app, slot
	SlotHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "switchyard",
		Subsystem: "health",
		Name:      "slot_healthy",
		Help:      "Result of the last background probe per slot",
	}, []string{"app", "slot"})

	// 1 for the slot currently receiving traffic.
	// Labels: app, slot
	ActiveSlot = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "switchyard",
		Subsystem: "router",
		Name:      "active_slot",
		Help:      "Slot currently receiving production traffic",
	}, []string{"app", "slot"})

	// Labels: app
	InProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "switchyard",
		Subsystem: "deploy",
		Name:      "in_progress",
		Help:      "1 while a deployment attempt is running",
	}, []string{"app"})
)

// ObserveAttempt records a finished attempt.
func ObserveAttempt(a model.DeploymentAttempt) {
	DeploymentsTotal.WithLabelValues(a.App, string(a.Outcome)).Inc()
	DeployDuration.WithLabelValues(a.App, string(a.Outcome)).Observe(a.Duration().Seconds())
}

// SetActive flips the active_slot gauge pair.
func SetActive(app string, active model.SlotID) {
	for _, s := range model.Slots {
		v := 0.0
		if s == active {
			v = 1
		}
		ActiveSlot.WithLabelValues(app, string(s)).Set(v)
	}
}

// ObserveProbe counts one probe request.
func ObserveProbe(app string, slot model.SlotID, err error) {
	result := "pass"
	if err != nil {
		result = "fail"
	}
	ProbeAttempts.WithLabelValues(app, string(slot), result).Inc()
}

// SetSlotHealthy records a background probe result.
func SetSlotHealthy(app string, slot model.SlotID, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	SlotHealthy.WithLabelValues(app, string(slot)).Set(v)
}
