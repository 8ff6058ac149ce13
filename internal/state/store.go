// Package state 持有会话唯一的一份内存视图（价格、未平仓、已平仓、事件日志），
// 并通过 Reconciler 串行地把推送事件和拉取快照合并进去。
package state

import (
	"sync"
	"time"

	"github.com/betbot/tradewatch/internal/domain"
)

// DefaultLogCapacity 事件日志默认保留条数
const DefaultLogCapacity = 200

// View Store 在某一时刻的只读副本
type View struct {
	Price           *domain.PriceTick // nil 表示尚未收到价格
	Open            []domain.Trade    // pending/bought
	Closed          []domain.Trade    // sold/stopped
	Logs            []domain.LogEntry // 最新在前
	Version         uint64            // 每次变更 +1
	LastSnapshotSeq uint64            // 最近一次被采纳的快照序号
	LastSyncAt      time.Time         // 最近一次成功同步时间
}

// Store 会话状态。读方法是并发安全的；写方法未导出，只有 Reconciler 会调用。
type Store struct {
	mu sync.RWMutex

	price           *domain.PriceTick
	open            []domain.Trade
	closed          []domain.Trade
	logs            []domain.LogEntry
	logCapacity     int
	version         uint64
	lastSnapshotSeq uint64
	lastSyncAt      time.Time

	// 变更通知（容量 1，多次变更合并成一次）
	updated chan struct{}
}

// NewStore 创建空状态
func NewStore(logCapacity int) *Store {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Store{
		logCapacity: logCapacity,
		updated:     make(chan struct{}, 1),
	}
}

// View 返回当前状态的副本
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Open:            append([]domain.Trade(nil), s.open...),
		Closed:          append([]domain.Trade(nil), s.closed...),
		Logs:            append([]domain.LogEntry(nil), s.logs...),
		Version:         s.version,
		LastSnapshotSeq: s.lastSnapshotSeq,
		LastSyncAt:      s.lastSyncAt,
	}
	if s.price != nil {
		p := *s.price
		v.Price = &p
	}
	return v
}

// Version 当前版本号
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Updated 状态变更后收到一次信号；渲染层据此重绘
func (s *Store) Updated() <-chan struct{} {
	return s.updated
}

// 以下方法要求调用方持有写锁

func (s *Store) setPriceLocked(tick domain.PriceTick) {
	s.price = &tick
	s.bumpLocked()
}

func (s *Store) replaceTradesLocked(seq uint64, open, closed []domain.Trade, at time.Time) {
	s.open = open
	s.closed = closed
	s.lastSnapshotSeq = seq
	s.lastSyncAt = at
	s.bumpLocked()
}

func (s *Store) prependLogLocked(entry domain.LogEntry) {
	logs := make([]domain.LogEntry, 0, min(len(s.logs)+1, s.logCapacity))
	logs = append(logs, entry)
	for _, e := range s.logs {
		if len(logs) >= s.logCapacity {
			break
		}
		logs = append(logs, e)
	}
	s.logs = logs
	s.bumpLocked()
}

func (s *Store) bumpLocked() {
	s.version++
	select {
	case s.updated <- struct{}{}:
	default:
	}
}
