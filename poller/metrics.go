package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	cycles      *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
	values      *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solis2mqtt_poll_cycles_total",
			Help: "Poll cycles by result (ok, transport, http, rejected, error)",
		}, []string{"device", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solis2mqtt_last_success_timestamp_seconds",
			Help: "Last successful poll cycle (epoch seconds)",
		}, []string{"device"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solis2mqtt_poll_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"device"}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solis2mqtt_sensor_value",
			Help: "Last published sensor value, in the unit shown to the host",
		}, []string{"device", "metric"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.lastSuccess, m.duration, m.values)
	}
	return m
}

// SetValue records the published value of one metric.
func (m *Metrics) SetValue(device, metric string, v float64) {
	m.values.WithLabelValues(device, metric).Set(v)
}
