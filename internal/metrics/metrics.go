// Package metrics exposes Prometheus collectors for the worker
// connection layer. Collectors are package-level and registered once
// via Register.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	attachedWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "attached_workers",
			Help:      "Number of currently attached worker connections.",
		},
	)
	commandsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "commands_dispatched_total",
			Help:      "Remote commands dispatched, by command name.",
		}, []string{"command"},
	)
	commandsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "commands_failed_total",
			Help:      "Remote commands that completed with a failure, including connection loss.",
		}, []string{"reason"},
	)
	keepaliveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "keepalive_failures_total",
			Help:      "Keepalive round trips that returned an error.",
		},
	)
	handshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of the builder-list synchronization handshake.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	handshakeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildmesh",
			Subsystem: "conn",
			Name:      "handshake_failures_total",
			Help:      "Builder-list handshakes that failed, leaving the worker not ready.",
		},
	)
)

// Register registers all collectors with reg. Safe to call once;
// duplicate registrations are reported as an error.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		attachedWorkers,
		commandsDispatched,
		commandsFailed,
		keepaliveFailures,
		handshakeDuration,
		handshakeFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WorkerAttached records a worker entering the attached state.
func WorkerAttached() { attachedWorkers.Inc() }

// WorkerDetached records a worker leaving the attached state.
func WorkerDetached() { attachedWorkers.Dec() }

// CommandDispatched records a dispatched remote command.
func CommandDispatched(command string) {
	commandsDispatched.WithLabelValues(command).Inc()
}

// CommandFailed records a command failure with a coarse reason label.
func CommandFailed(reason string) {
	commandsFailed.WithLabelValues(reason).Inc()
}

// KeepaliveFailed records a failed keepalive round trip.
func KeepaliveFailed() { keepaliveFailures.Inc() }

// HandshakeObserved records the outcome of one builder-list handshake.
func HandshakeObserved(seconds float64, err error) {
	handshakeDuration.Observe(seconds)
	if err != nil {
		handshakeFailures.Inc()
	}
}
