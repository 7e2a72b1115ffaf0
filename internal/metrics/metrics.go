// Package metrics defines the Prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts dispatched RPC requests by chain family, method and
	// outcome (the response's error code, or "ok").
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "requests_total",
		Help:      "Dispatched RPC requests.",
	}, []string{"chain_family", "method", "outcome"})

	// ApprovalsPending tracks the number of unresolved pending approvals.
	ApprovalsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletgate",
		Name:      "approvals_pending",
		Help:      "Unresolved pending approvals.",
	})

	// ApprovalsResolved counts resolved approvals by outcome
	// (approved, rejected, surface_closed, orphaned).
	ApprovalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "approvals_resolved_total",
		Help:      "Resolved pending approvals.",
	}, []string{"outcome"})

	// AutoLocksFired counts auto-lock alarm firings.
	AutoLocksFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "auto_locks_fired_total",
		Help:      "Auto-lock alarms fired.",
	})

	// DroppedMessages counts transport messages dropped by the sender check or
	// because they were malformed.
	DroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "transport_dropped_messages_total",
		Help:      "Transport messages dropped before dispatch.",
	}, []string{"reason"})
)
