package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtdesk"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Reservations persisted, by kind (single, recurring).",
		},
		[]string{"kind"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Reservation attempts rejected by an overlapping booking.",
		},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Recorded reservation payments by strategy path.",
		},
		[]string{"path"},
	)

	refunds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund transactions written on cancellation.",
		},
	)

	registerCloses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_closes_total",
			Help:      "Cash registers closed.",
		},
	)

	registerDifference = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "register_difference_abs",
			Help:      "Absolute difference between declared and expected cash at close.",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000},
		},
	)

	effects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_total",
			Help:      "Side-effect tasks by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationsCreated,
			slotConflicts,
			payments,
			refunds,
			registerCloses,
			registerDifference,
			effects,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReservations(kind string, n int) {
	reservationsCreated.WithLabelValues(kind).Add(float64(n))
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncPayment(path string) {
	payments.WithLabelValues(path).Inc()
}

func IncRefund() {
	refunds.Inc()
}

// ObserveRegisterClose records a close and the absolute cash difference.
func ObserveRegisterClose(absDifference float64) {
	registerCloses.Inc()
	registerDifference.Observe(absDifference)
}

func IncEffect(kind, outcome string) {
	effects.WithLabelValues(kind, outcome).Inc()
}
