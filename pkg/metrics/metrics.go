package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_total",
			Help: "Total number of task state transitions observed, by state",
		},
		[]string{"state"},
	)

	// Status update pipeline metrics
	ValidStatusUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_status_updates_valid_total",
			Help: "Total number of status updates accepted into the pipeline",
		},
	)

	InvalidStatusUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_status_updates_invalid_total",
			Help: "Total number of status updates dropped as unaddressable",
		},
	)

	StatusUpdateRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_status_update_retries_total",
			Help: "Total number of status updates resent to the master",
		},
	)

	// Framework message metrics
	ValidFrameworkMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_framework_messages_valid_total",
			Help: "Total number of framework messages routed",
		},
	)

	InvalidFrameworkMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_framework_messages_invalid_total",
			Help: "Total number of framework messages dropped as unaddressable",
		},
	)

	// Agent state metrics
	Registered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_registered",
			Help: "Whether the agent is registered with a master (1 = connected)",
		},
	)

	FrameworksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_frameworks_active",
			Help: "Number of frameworks with executors or pending updates",
		},
	)

	ExecutorsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_executors_active",
			Help: "Number of live executors",
		},
	)

	RegistrationAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_registration_attempts_total",
			Help: "Total number of register/reregister messages sent",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ValidStatusUpdates)
	prometheus.MustRegister(InvalidStatusUpdates)
	prometheus.MustRegister(StatusUpdateRetries)
	prometheus.MustRegister(ValidFrameworkMessages)
	prometheus.MustRegister(InvalidFrameworkMessages)
	prometheus.MustRegister(Registered)
	prometheus.MustRegister(FrameworksActive)
	prometheus.MustRegister(ExecutorsActive)
	prometheus.MustRegister(RegistrationAttempts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
