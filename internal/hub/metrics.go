package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcome label values.
const (
	outcomeResolved     = "resolved"
	outcomeFailed       = "failed"
	outcomeTimeout      = "timeout"
	outcomeDisconnected = "disconnected"
	outcomeRejected     = "rejected"
)

// Metrics aggregates relay activity across every hub in the process. A nil *Metrics is valid and records nothing,
// which keeps tests free of registry plumbing.
type Metrics struct {
	gatewaysConnected prometheus.Gauge
	browsersConnected prometheus.Gauge
	framesRelayed     prometheus.Counter
	bytesRelayed      prometheus.Counter
	commands          *prometheus.CounterVec
	commandSeconds    prometheus.Histogram
}

// NewMetrics creates and registers the hub metric set with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatewaysConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vibecode_gateways_connected",
			Help: "Number of gateway daemons with a live hub connection.",
		}),
		browsersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vibecode_browsers_connected",
			Help: "Number of browser terminal subscribers attached across all hubs.",
		}),
		framesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vibecode_terminal_frames_relayed_total",
			Help: "Terminal output frames fanned out to subscribers.",
		}),
		bytesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vibecode_terminal_bytes_relayed_total",
			Help: "Terminal output bytes fanned out to subscribers.",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibecode_gateway_commands_total",
			Help: "Ack-tracked gateway commands by outcome.",
		}, []string{"outcome"}),
		commandSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vibecode_gateway_command_seconds",
			Help:    "Latency of ack-tracked gateway commands from dispatch to resolution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) gatewayAttached(delta float64) {
	if m == nil {
		return
	}
	m.gatewaysConnected.Add(delta)
}

func (m *Metrics) browserAttached(delta float64) {
	if m == nil {
		return
	}
	m.browsersConnected.Add(delta)
}

func (m *Metrics) frameRelayed(bytes int, subscribers int) {
	if m == nil {
		return
	}
	m.framesRelayed.Add(float64(subscribers))
	m.bytesRelayed.Add(float64(bytes * subscribers))
}

func (m *Metrics) commandDone(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
	m.commandSeconds.Observe(elapsed.Seconds())
}
