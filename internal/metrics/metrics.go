package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Общее количество запросов к API",
		},
		[]string{"endpoint"},
	)

	RequestHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Длительность обработки запроса",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BillingCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_operations_total",
			Help: "Операции биллинга по типу и исходу",
		},
		[]string{"operation", "status"},
	)

	BillingHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_operation_duration_seconds",
			Help:    "Длительность операции биллинга",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Инициализация
func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestHistogram)
	prometheus.MustRegister(BillingCounter)
	prometheus.MustRegister(BillingHistogram)
}
