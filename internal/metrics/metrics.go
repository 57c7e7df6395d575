// Package metrics defines the Prometheus metrics exported on /metrics.
// Everything is registered with the default registry at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fingerpay"

// SensorCommandsTotal counts sensor commands by terminal outcome.
// Labels:
//   - command: "verify" or "enroll"
//   - outcome: "match_found", "no_match", "stored", "failed", "timeout",
//     "transport_error", "malformed" or "connection_error"
var SensorCommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sensor_commands_total",
		Help:      "Total number of sensor commands, by outcome.",
	},
	[]string{"command", "outcome"},
)

// SensorCommandDuration measures connect-through-close time of one command,
// board reset included.
var SensorCommandDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sensor_command_duration_seconds",
		Help:      "Duration of a sensor command including link setup.",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 15, 30, 45},
	},
	[]string{"command"},
)

// PaymentsTotal counts payment attempts.
// Label:
//   - result: "applied" or the error code that ended the attempt
var PaymentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Total number of payment attempts, by result.",
	},
	[]string{"result"},
)

// RegistrationsTotal counts account registrations.
// Label:
//   - result: "created" or the error code that ended the attempt
var RegistrationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Total number of account registrations, by result.",
	},
	[]string{"result"},
)

// OrphanedSlotsTotal counts sensor slots enrolled without a persisted
// account. The next registration reuses the slot.
var OrphanedSlotsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_slots_total",
		Help:      "Sensor slots enrolled whose account could not be persisted.",
	},
)
