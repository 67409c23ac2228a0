package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("tabula.core")

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_operations_total",
		Help: "Applied operations by kind and outcome.",
	}, []string{"kind", "status"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabula_operation_duration_seconds",
		Help:    "Time to validate, execute, encode and store one operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	versionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_versions_created_total",
		Help: "Versions written to the store, by label.",
	}, []string{"label"})

	translationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_translations_total",
		Help: "Translator calls by outcome.",
	}, []string{"status"})

	transformsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tabula_transforms_in_flight",
		Help: "Transforms currently holding a limiter slot.",
	})

	transformsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabula_transforms_rejected_total",
		Help: "Transforms rejected because every slot stayed busy.",
	})
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
