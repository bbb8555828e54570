package account

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enrichmentDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_api_enrichment_dropped_total",
		Help: "Total subscription records dropped because enrichment failed",
	})

	collectionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "content_api_collection_size",
		Help: "Number of records in the last fetched collection by resource",
	}, []string{"resource"})
)
