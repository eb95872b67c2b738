// Package metrics 定义 Prometheus 指标，由 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal 按路由模板、方法和状态码统计请求数。
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maxyourpoints_http_requests_total",
		Help: "HTTP requests processed, by route template, method and status.",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maxyourpoints_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// FallbackServedTotal 数据库不可用时使用兜底数据响应的次数。
	FallbackServedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maxyourpoints_fallback_served_total",
		Help: "Read requests answered from the built-in fallback dataset.",
	}, []string{"resource"})

	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maxyourpoints_login_attempts_total",
		Help: "Login attempts by outcome (success, bootstrap, failure, limited).",
	}, []string{"outcome"})

	ArticlesPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maxyourpoints_articles_promoted_total",
		Help: "Scheduled articles flipped to published by the publish scheduler.",
	})

	MediaUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "maxyourpoints_media_upload_bytes",
		Help:    "Size of accepted media uploads.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
	})

	// NotificationsTotal 异步通知结果：sent / failed / dropped。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maxyourpoints_notifications_total",
		Help: "Account notifications by outcome (sent, failed, dropped).",
	}, []string{"outcome"})

	// DatabaseConnected 启动探测结果：1 已连接，0 未连接。
	DatabaseConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maxyourpoints_database_connected",
		Help: "Result of the startup database probe (1 connected, 0 otherwise).",
	})
)
