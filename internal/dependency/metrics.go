package dependency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tasklane.dependency")

var (
	// operationsTotal counts engine operations by operation and result.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklane_dependency_operations_total",
		Help: "Dependency engine operations by operation and result",
	}, []string{"op", "result"})

	// outstandingFound tracks outstanding blockers per evaluated task.
	outstandingFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tasklane_dependency_outstanding_blockers",
		Help:    "Outstanding blockers per evaluated task",
		Buckets: []float64{0, 1, 2, 5, 10, 25},
	})
)

func finishSpan(span trace.Span, op string, err error) {
	operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
