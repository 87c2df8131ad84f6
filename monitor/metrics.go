package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialup-inc/asciiplayer/pump"
)

const namespace = "asciiplayer"

// Metrics turns decode loop events into prometheus series.
type Metrics struct {
	events  *prometheus.CounterVec
	delay   prometheus.Histogram
	width   prometheus.Gauge
	height  prometheus.Gauge
	lastPTS prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_events_total",
			Help:      "Decode loop events by kind.",
		}, []string{"kind"}),
		delay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "present_delay_seconds",
			Help:      "How early frames were relative to their presentation time.",
			Buckets:   []float64{0, .001, .005, .01, .02, .033, .05, .1},
		}),
		width: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_width_pixels",
			Help:      "Width of the decoder output.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_height_pixels",
			Help:      "Height of the decoder output.",
		}),
		lastPTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_rendered_pts_seconds",
			Help:      "Presentation time of the last rendered frame.",
		}),
	}
	reg.MustRegister(m.events, m.delay, m.width, m.height, m.lastPTS)
	return m
}

func (m *Metrics) Observe(e pump.Event) {
	m.events.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case pump.EventFrameRendered:
		m.delay.Observe(e.Delay.Seconds())
		m.lastPTS.Set(float64(e.PTS) / 1e6)
	case pump.EventFormatChanged:
		m.width.Set(float64(e.Geometry.Width))
		m.height.Set(float64(e.Geometry.Height))
	}
}
