package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeNone       = "none"
	OutcomeEmptyCart  = "empty_cart"
	OutcomeFetchError = "fetch_error"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "discount_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "discount_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_evaluations_total",
			Help: "Best-campaign evaluations by outcome",
		}, []string{"outcome"},
	)
	DiscountAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "discount_amount",
		Help:    "Discount granted per applied evaluation, in currency units",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	NearMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_near_miss_total",
			Help: "Near-miss lookups by outcome",
		}, []string{"outcome"},
	)
	SnapshotRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_snapshot_refreshes_total",
			Help: "Campaign snapshot refreshes by result",
		}, []string{"result"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		Evaluations, DiscountAmount, NearMisses, SnapshotRefreshes)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// RegisterSnapshotAge exports the age of the in-process campaign snapshot, or -1 while it is cold.
func RegisterSnapshotAge(age func() (time.Duration, bool)) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "discount_snapshot_age_seconds",
		Help: "Seconds since the campaign snapshot was last loaded, -1 before the first load",
	}, func() float64 {
		d, ok := age()
		if !ok {
			return -1
		}
		return d.Seconds()
	})
	return prometheus.Register(g)
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
