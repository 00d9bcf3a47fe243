package ssh

import "github.com/prometheus/client_golang/prometheus"

// Prometheus instrumentation for the connection and channel layers.
// Every metric is registered against the default registry so a
// consuming binary gets them for free by exposing promhttp.Handler;
// none of this is required for correctness, it only gives operators
// visibility into what the multiplexer is doing.
var (
	channelsOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gossh_channels_opened_total",
		Help: "Number of SSH channels opened, by channel type and direction.",
	}, []string{"type", "direction"})

	rekeysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gossh_rekeys_total",
		Help: "Number of key re-exchanges started after the initial handshake.",
	})

	congestionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gossh_channel_congestion_events_total",
		Help: "Number of times a channel write blocked waiting for the peer to grant more window.",
	}, []string{"type"})

	channelWindowBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gossh_channel_window_bytes",
		Help: "Current flow-control window, in bytes, for the most recently updated channel.",
	}, []string{"type", "direction"})
)

func init() {
	prometheus.MustRegister(
		channelsOpenedTotal,
		rekeysTotal,
		congestionEventsTotal,
		channelWindowBytes,
	)
}

func (d channelDirection) String() string {
	if d == channelInbound {
		return "inbound"
	}
	return "outbound"
}
