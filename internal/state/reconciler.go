package state

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/metrics"
	"github.com/betbot/tradewatch/pkg/logger"
)

// Refresher 收到 trade_update 后请求一次（防抖的）快照刷新
type Refresher interface {
	Trigger()
}

// Reconciler Store 的唯一写入方。
// 每个入口在写锁内完成全部修改：要么整体生效，要么什么都不改。
type Reconciler struct {
	store   *Store
	refresh Refresher

	issued atomic.Uint64 // 已发出的最大快照序号
	closed bool          // 由 store.mu 保护

	now func() time.Time
}

// NewReconciler 创建 Reconciler；refresh 可以为 nil
func NewReconciler(store *Store, refresh Refresher) *Reconciler {
	return &Reconciler{
		store:   store,
		refresh: refresh,
		now:     time.Now,
	}
}

// Store 返回被管理的状态（只读访问）
func (r *Reconciler) Store() *Store {
	return r.store
}

// ApplyPush 合并一条推送事件。
// price_update 直接替换价格；trade_update 只记日志并请求刷新，不修改任何 Trade
// （消息不带交易 id，无法安全定位）。
func (r *Reconciler) ApplyPush(ev domain.PushEvent) error {
	at := ev.ReceivedAt
	if at.IsZero() {
		at = r.now()
	}

	r.store.mu.Lock()
	if r.closed {
		r.store.mu.Unlock()
		return domain.ErrClosed
	}
	switch ev.Kind {
	case domain.EventPriceUpdate:
		r.store.setPriceLocked(domain.PriceTick{Symbol: ev.Symbol, Price: ev.Price, ObservedAt: at})
	case domain.EventTradeUpdate:
		r.store.prependLogLocked(domain.LogEntry{
			Message: fmt.Sprintf("Trade %s at %s", ev.Status, ev.Price.String()),
			Time:    at,
		})
	case domain.EventReconnected:
		// 由会话负责强制同步，这里不改状态
		r.store.mu.Unlock()
		return nil
	default:
		r.store.mu.Unlock()
		return fmt.Errorf("unsupported push event kind %q", ev.Kind)
	}
	r.store.mu.Unlock()

	metrics.PushEvents.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case domain.EventPriceUpdate:
		metrics.LastPrice.Set(ev.Price.InexactFloat64())
	case domain.EventTradeUpdate:
		if r.refresh != nil {
			r.refresh.Trigger()
		}
	}
	return nil
}

// BeginSnapshot 发出下一个快照序号；拉取完成后连同结果交给 ApplySnapshot
func (r *Reconciler) BeginSnapshot() uint64 {
	return r.issued.Add(1)
}

// ApplySnapshot 用一次完整快照替换两个交易集合。
// 只有 seq 是最新发出的序号且大于已采纳序号时才生效；否则丢弃并返回 false，
// 保证较早发出、较晚返回的快照不会覆盖较新的结果。
func (r *Reconciler) ApplySnapshot(seq uint64, active, history []domain.Trade) (bool, error) {
	open, closed, dropped := Normalize(active, history)
	if dropped > 0 {
		metrics.DroppedTrades.Add(float64(dropped))
	}

	r.store.mu.Lock()
	if r.closed {
		r.store.mu.Unlock()
		return false, domain.ErrClosed
	}
	if seq != r.issued.Load() || seq <= r.store.lastSnapshotSeq {
		last := r.store.lastSnapshotSeq
		r.store.mu.Unlock()
		metrics.Snapshots.WithLabelValues(metrics.ResultStale).Inc()
		logger.Debugf("[Reconciler] 丢弃过期快照 seq=%d (latest=%d applied=%d)", seq, r.issued.Load(), last)
		return false, nil
	}
	r.store.replaceTradesLocked(seq, open, closed, r.now())
	r.store.mu.Unlock()

	metrics.Snapshots.WithLabelValues(metrics.ResultApplied).Inc()
	metrics.OpenTrades.Set(float64(len(open)))
	metrics.ClosedTrades.Set(float64(len(closed)))
	return true, nil
}

// RecordFetchError 拉取失败：只追加一条日志，交易集合保持原样
func (r *Reconciler) RecordFetchError(seq uint64, err error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.closed {
		return domain.ErrClosed
	}
	r.store.prependLogLocked(domain.LogEntry{
		Message: "Sync failed: " + err.Error(),
		Time:    r.now(),
	})
	metrics.Snapshots.WithLabelValues(metrics.ResultFailed).Inc()
	logger.Warnf("[Reconciler] 快照 seq=%d 拉取失败: %v", seq, err)
	return nil
}

// AppendLog 追加一条事件日志（新的在前）
func (r *Reconciler) AppendLog(msg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.closed {
		return domain.ErrClosed
	}
	r.store.prependLogLocked(domain.LogEntry{Message: msg, Time: r.now()})
	return nil
}

// Close 之后所有入口都返回 ErrClosed，Store 不再变化
func (r *Reconciler) Close() {
	r.store.mu.Lock()
	r.closed = true
	r.store.mu.Unlock()
}

// Closed 是否已关闭
func (r *Reconciler) Closed() bool {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.closed
}

// Normalize 合并 active/history 两个列表并按状态重新归类：
// 同一 id 出现多次时取生命周期更靠后的状态（已平仓优先于未平仓，bought 优先于 pending），
// 状态未知的交易被丢弃。返回的两个集合按 id 互斥，顺序沿用输入中首次出现的位置。
func Normalize(active, history []domain.Trade) (open, closed []domain.Trade, dropped int) {
	merged := make([]domain.Trade, 0, len(active)+len(history))
	index := make(map[int64]int, len(active)+len(history))

	add := func(t domain.Trade) {
		if !t.Status.Valid() {
			dropped++
			logger.Warnf("[Reconciler] 丢弃未知状态的交易 id=%d status=%q", t.ID, t.Status)
			return
		}
		if i, ok := index[t.Key()]; ok {
			if t.Status.Rank() >= merged[i].Status.Rank() {
				merged[i] = t
			}
			return
		}
		index[t.Key()] = len(merged)
		merged = append(merged, t)
	}
	for _, t := range active {
		add(t)
	}
	for _, t := range history {
		add(t)
	}

	open = make([]domain.Trade, 0, len(merged))
	closed = make([]domain.Trade, 0, len(merged))
	for _, t := range merged {
		if t.Status.IsOpen() {
			open = append(open, t)
		} else {
			closed = append(closed, t)
		}
	}
	return open, closed, dropped
}
