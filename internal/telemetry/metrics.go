package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batteryPercent mirrors the blackboard battery estimate.
	batteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flightd",
		Subsystem: "telemetry",
		Name:      "battery_percent",
		Help:      "Estimated battery charge percentage",
	})

	// angularMagnitude mirrors the integrated angular velocity magnitude.
	angularMagnitude = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flightd",
		Subsystem: "telemetry",
		Name:      "angular_velocity_magnitude",
		Help:      "Euclidean norm of the integrated angular velocity vector",
	})

	// samplesTotal counts successful sensor samples.
	// Labels: sensor (battery, imu, magnetometer, position)
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "telemetry",
		Name:      "samples_total",
		Help:      "Total number of successful sensor samples",
	}, []string{"sensor"})

	// sensorFaultsTotal counts skipped ticks due to sensor faults.
	// Labels: sensor
	sensorFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "telemetry",
		Name:      "sensor_faults_total",
		Help:      "Total number of sampling ticks skipped on sensor faults",
	}, []string{"sensor"})
)
