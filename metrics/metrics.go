// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zipcase_jobs_processed_total",
		Help: "Queue jobs handled, by queue, job kind and outcome.",
	}, []string{"queue", "kind", "outcome"})

	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zipcase_jobs_retried_total",
		Help: "Queue jobs returned for redelivery, by queue and job kind.",
	}, []string{"queue", "kind"})

	MessagesReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zipcase_messages_reaped_total",
		Help: "In-flight messages whose visibility timeout expired.",
	}, []string{"queue"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zipcase_http_requests_total",
		Help: "API requests, by route and status class.",
	}, []string{"route", "status"})

	PortalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zipcase_portal_requests_total",
		Help: "Outbound portal requests, by outcome.",
	}, []string{"outcome"})
)
