package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of sales created",
	}, []string{"kind"})

	SalesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_rejected_total",
		Help: "Total number of sales rejected by business rules",
	}, []string{"reason"})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of sales aborted by consistency failures",
	}, []string{"stage"})

	SalesCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_cancelled_total",
		Help: "Total number of sales cancelled",
	}, []string{"kind"})

	PointsAccruedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_accrued_total",
		Help: "Total loyalty points awarded on cash sales",
	})

	PointsRedeemedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_redeemed_total",
		Help: "Total loyalty points spent on points sales",
	})

	SaleProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sale_processing_latency_seconds",
		Help:    "Latency of sale processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

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
