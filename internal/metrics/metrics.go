// Package metrics 进程级 prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushEvents 收到的推送事件，按类型
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewatch_push_events_total",
		Help: "Push events received, by kind",
	}, []string{"kind"})

	// MalformedEvents 丢弃的无法解析推送
	MalformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewatch_push_malformed_total",
		Help: "Push payloads discarded as malformed",
	})

	// Reconnects 推送通道重连成功次数
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewatch_push_reconnects_total",
		Help: "Successful push channel reconnects",
	})

	// TransportErrors 推送通道传输错误
	TransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewatch_push_transport_errors_total",
		Help: "Push channel transport errors",
	})

	// Snapshots 快照结果：applied / stale / failed
	Snapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewatch_snapshots_total",
		Help: "Snapshot fetch outcomes",
	}, []string{"result"})

	// SnapshotDuration 一次快照（两个并发 GET）的耗时
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewatch_snapshot_duration_seconds",
		Help:    "Duration of one snapshot fetch",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// DroppedTrades 快照中状态未知而被丢弃的交易
	DroppedTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewatch_snapshot_dropped_trades_total",
		Help: "Snapshot trades dropped for an unknown status",
	})

	// Submissions 交易提交结果：ok / invalid / failed
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewatch_submissions_total",
		Help: "Trade submissions, by result",
	}, []string{"result"})

	// OpenTrades / ClosedTrades 当前集合大小
	OpenTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewatch_open_trades",
		Help: "Trades in the open collection",
	})
	ClosedTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewatch_closed_trades",
		Help: "Trades in the closed collection",
	})

	// LastPrice 最新价格
	LastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewatch_last_price",
		Help: "Most recent price tick",
	})
)

const (
	ResultApplied = "applied"
	ResultStale   = "stale"
	ResultFailed  = "failed"
	ResultOK      = "ok"
	ResultInvalid = "invalid"
)
