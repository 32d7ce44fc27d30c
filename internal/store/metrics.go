package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmexp_store_upserts_total",
		Help: "Metric record writes by kind and outcome (created or updated).",
	}, []string{"kind", "outcome"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmexp_store_conflict_retries_total",
		Help: "Creates that lost a uniqueness race and were retried as updates.",
	}, []string{"kind"})
)
