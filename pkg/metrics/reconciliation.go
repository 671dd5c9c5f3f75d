package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics counts the corrections made by reconciliation sweeps.
type ReconciliationMetrics struct {
	repaired   *prometheus.CounterVec
	backfilled prometheus.Counter
	errors     *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	repaired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "repaired_total",
		Help:      "Stuck transactions moved to the provider's status, by target status.",
	}, []string{"status"})
	backfilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "backfilled_total",
		Help:      "Provider events inserted into the inbox by backfill.",
	})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Per-item reconciliation failures, by pass.",
	}, []string{"pass"})
	reg.MustRegister(repaired, backfilled, errs)
	return &ReconciliationMetrics{repaired: repaired, backfilled: backfilled, errors: errs}
}

func (m *ReconciliationMetrics) IncRepaired(status string) {
	if m == nil || m.repaired == nil {
		return
	}
	m.repaired.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *ReconciliationMetrics) AddBackfilled(n int) {
	if m == nil || m.backfilled == nil || n <= 0 {
		return
	}
	m.backfilled.Add(float64(n))
}

func (m *ReconciliationMetrics) IncError(pass string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(pass)).Inc()
}
