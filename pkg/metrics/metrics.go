// Package metrics はPrometheusメトリクスの定義と記録関数を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestDuration はHTTPリクエストの処理時間（秒）。
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopadmin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"service", "method", "path", "status"},
	)

	// StoreOperationDuration はドキュメントストア操作の処理時間（秒）。
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopadmin_store_operation_duration_seconds",
			Help:    "Document store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "operation", "collection", "result"},
	)

	// NotificationsCreated は作成された通知の件数。
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopadmin_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"type"},
	)

	// ApprovalDecisions は承認・却下の件数。
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopadmin_approval_decisions_total",
			Help: "Total number of approval decisions",
		},
		[]string{"decision"},
	)

	// ActiveSubscriptions は購読中のライブフィード数。
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopadmin_active_subscriptions",
			Help: "Number of live document subscriptions",
		},
	)
)

// ObserveHTTPRequest はHTTPリクエストの処理時間を記録する。
func ObserveHTTPRequest(service, method, path string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(service, method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveStoreOperation はストア操作の処理時間を記録する。
func ObserveStoreOperation(backend, operation, collection string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperationDuration.WithLabelValues(backend, operation, collection, result).Observe(duration.Seconds())
}

// IncNotificationCreated は通知作成件数を加算する。
func IncNotificationCreated(notificationType string) {
	NotificationsCreated.WithLabelValues(notificationType).Inc()
}

// IncApprovalDecision は承認・却下件数を加算する。
func IncApprovalDecision(decision string) {
	ApprovalDecisions.WithLabelValues(decision).Inc()
}

// Handler は/metricsエンドポイント用のハンドラを返す。
func Handler() http.Handler {
	return promhttp.Handler()
}
