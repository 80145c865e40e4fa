package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_api_commands_total",
		Help: "Commands accepted or rejected by the relay API",
	}, []string{"route", "result"})

	userAgents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_api_user_agents_total",
		Help: "Requests by parsed device type and operating system",
	}, []string{"device", "os", "bot"})

	mirrorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countly_mirror_queue_depth",
		Help: "Commands waiting to be mirrored",
	})

	mirrorQueueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countly_mirror_queue_capacity",
		Help: "Total capacity of the mirror queue",
	})

	mirrorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "countly_mirror_errors_total",
		Help: "Commands the mirror failed to deliver",
	}, []string{"error_type"})

	healthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countly_api_health_status",
		Help: "Health status (1=healthy, 0.5=degraded, 0=unhealthy)",
	})
)

// RecordCommandResult records the outcome of a command route
func RecordCommandResult(route, result string) {
	apiCommands.WithLabelValues(route, result).Inc()
}

func recordUserAgent(device, os string, bot bool) {
	if device == "" {
		device = "unknown"
	}
	if os == "" {
		os = "unknown"
	}
	b := "false"
	if bot {
		b = "true"
	}
	userAgents.WithLabelValues(device, os, b).Inc()
}

// UpdateHealthMetric updates the health status metric
func UpdateHealthMetric(status float64) {
	healthStatus.Set(status)
}
