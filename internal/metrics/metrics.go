package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blurchat_directory_refresh_total",
		Help: "Directory refresh attempts by outcome.",
	}, []string{"outcome"})

	HandshakePayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blurchat_handshake_payloads_total",
		Help: "Handshake payloads by type and direction.",
	}, []string{"type", "direction"})

	DisclosureTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blurchat_disclosure_transitions_total",
		Help: "Disclosure state transitions by target state.",
	}, []string{"to"})

	DroppedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blurchat_dropped_payloads_total",
		Help: "Inbound payloads ignored by reason.",
	}, []string{"reason"})

	DirectoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blurchat_directory_requests_total",
		Help: "Directory server requests by route and status.",
	}, []string{"route", "status"})
)
