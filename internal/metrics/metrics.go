// Package metrics defines the Prometheus collectors exposed by the
// broker and, optionally, a peer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broker groups the broker's collectors.
type Broker struct {
	RegisteredPeers prometheus.Gauge
	FramesReceived  *prometheus.CounterVec
	FramesRouted    prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	Evictions       prometheus.Counter
}

// NewBroker registers and returns the broker's collectors.
func NewBroker(reg prometheus.Registerer) *Broker {
	b := &Broker{
		RegisteredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foxrelay",
			Subsystem: "broker",
			Name:      "registered_peers",
			Help:      "Current number of peers in the registry.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "broker",
			Name:      "frames_received_total",
			Help:      "Frames received by type.",
		}, []string{"type"}),
		FramesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "broker",
			Name:      "frames_routed_total",
			Help:      "Frames successfully routed to at least one recipient.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "broker",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped, by reason.",
		}, []string{"reason"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "broker",
			Name:      "peer_evictions_total",
			Help:      "Peers evicted for exceeding the liveness window.",
		}),
	}
	reg.MustRegister(b.RegisteredPeers, b.FramesReceived, b.FramesRouted, b.FramesDropped, b.Evictions)
	return b
}

// Peer groups a peer's collectors.
type Peer struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	ChunksRetried    prometheus.Counter
}

// NewPeer registers and returns a peer's collectors.
func NewPeer(reg prometheus.Registerer) *Peer {
	p := &Peer{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "peer",
			Name:      "messages_sent_total",
			Help:      "MSG frames sent.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "peer",
			Name:      "messages_received_total",
			Help:      "MSG frames received.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "peer",
			Name:      "file_bytes_sent_total",
			Help:      "File payload bytes sent across all transfers.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "peer",
			Name:      "file_bytes_received_total",
			Help:      "File payload bytes received across all transfers.",
		}),
		ChunksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foxrelay",
			Subsystem: "peer",
			Name:      "chunks_retransmitted_total",
			Help:      "FILE_CHUNK frames retransmitted after an ack timeout.",
		}),
	}
	reg.MustRegister(p.MessagesSent, p.MessagesReceived, p.BytesSent, p.BytesReceived, p.ChunksRetried)
	return p
}

// ServeHTTP starts a background HTTP server exposing /metrics on addr
// for the given registry. It returns immediately; errors are reported
// on the returned channel.
func ServeHTTP(addr string, gatherer prometheus.Gatherer) <-chan error {
	errCh := make(chan error, 1)
	if addr == "" {
		return errCh
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	go func() {
		errCh <- http.ListenAndServe(addr, mux)
	}()
	return errCh
}
