package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_api_pages_fetched_total",
		Help: "Total pages fetched by outcome",
	}, []string{"outcome"})

	lookaheadBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_api_lookahead_batches_total",
		Help: "Total lookahead batches dispatched",
	})

	accumulatorReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_api_accumulator_reconnects_total",
		Help: "Total fetches that reconnected with a cached collection",
	})
)
