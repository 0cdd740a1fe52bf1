package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChainCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_calls_total",
		Help: "Total number of ledger RPC calls",
	}, []string{"call", "outcome"})

	ChainCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chain_call_latency_seconds",
		Help:    "Latency of ledger RPC calls including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	ChainSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_submissions_total",
		Help: "Total number of transactions submitted to the ledger",
	}, []string{"call"})

	ReconcilePassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_reconcile_passes_total",
		Help: "Total number of catalog reconciliation passes",
	})

	ReconcileProductFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_reconcile_product_failures_total",
		Help: "Products skipped during a reconciliation pass",
	}, []string{"phase"})

	ProductsPulledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_products_pulled_total",
		Help: "Local product records created or filled from chain",
	})

	ProductsPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_products_pushed_total",
		Help: "Product writes issued to the chain registry",
	}, []string{"kind"})

	OrdersSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_synced_total",
		Help: "Order status syncs applied from chain escrow state",
	}, []string{"status"})

	ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_releases_total",
		Help: "Successful escrow fund releases",
	})

	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_refunds_total",
		Help: "Successful escrow refunds",
	})

	ReleaseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_release_failures_total",
		Help: "Failed release or refund attempts",
	}, []string{"reason"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
