package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhub_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certhub_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 工作流状态机指标
var (
	// TransitionsTotal 状态迁移总数
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhub_workflow_transitions_total",
			Help: "状态迁移总数",
		},
		[]string{"transition", "target", "mode"}, // mode: explicit、auto、sweep
	)

	// TransitionRejectionsTotal 被拒绝的迁移请求总数
	TransitionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhub_workflow_transition_rejections_total",
			Help: "被拒绝的迁移请求总数",
		},
		[]string{"transition", "reason"}, // reason: invalid_transition、guard_rejected、concurrent
	)
)

// 行动项指标
var (
	// ActionsPendingGauge 当前待处理行动项数量
	ActionsPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certhub_actions_pending",
			Help: "当前待处理行动项数量",
		},
	)

	// ActionsCompletedTotal 已完成行动项总数
	ActionsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhub_actions_completed_total",
			Help: "已完成行动项总数",
		},
		[]string{"type", "mode"}, // mode: auto、manual
	)

	// ActionsOverdueTotal 被标记逾期的行动项总数
	ActionsOverdueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certhub_actions_overdue_total",
			Help: "被标记逾期的行动项总数",
		},
	)
)

// 巡检任务指标
var (
	// SweepDuration 巡检任务耗时（秒）
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certhub_sweep_duration_seconds",
			Help:    "巡检任务耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"job"}, // status_sweep、overdue_sweep
	)

	// SweepItemsTotal 巡检处理条目总数
	SweepItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhub_sweep_items_total",
			Help: "巡检处理条目总数",
		},
		[]string{"job", "outcome"}, // outcome: transitioned、flagged、skipped、failed
	)
)
