package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PopulateQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "odm", Name: "populate_queries_total", Help: "Number of populate queries issued by target model."},
		[]string{"model"},
	)
	Saves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "odm", Name: "saves_total", Help: "Number of document saves by model and result."},
		[]string{"model", "result"},
	)
	VersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "odm", Name: "version_conflicts_total", Help: "Number of saves rejected by optimistic versioning."},
		[]string{"model"},
	)
	RequestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "odm", Name: "http_requests_rejected_total", Help: "Number of HTTP requests rejected before reaching a handler, by reason."},
		[]string{"reason"},
	)
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "odm", Name: "cache_requests_total", Help: "Number of find cache lookups by result (hit, miss)."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(PopulateQueries)
	reg.MustRegister(Saves)
	reg.MustRegister(VersionConflicts)
	reg.MustRegister(CacheRequests)
	reg.MustRegister(RequestsRejected)
}
