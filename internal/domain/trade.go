package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus 交易状态（由后端撮合引擎推进：pending -> bought -> sold/stopped）
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "pending" // 等待买入
	TradeStatusBought  TradeStatus = "bought"  // 已买入，等待止盈/止损
	TradeStatusSold    TradeStatus = "sold"    // 止盈卖出
	TradeStatusStopped TradeStatus = "stopped" // 止损卖出
)

// Valid 检查状态是否为已知值
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusBought, TradeStatusSold, TradeStatusStopped:
		return true
	default:
		return false
	}
}

// IsOpen pending/bought 属于未平仓集合
func (s TradeStatus) IsOpen() bool {
	return s == TradeStatusPending || s == TradeStatusBought
}

// IsClosed sold/stopped 属于历史集合
func (s TradeStatus) IsClosed() bool {
	return s == TradeStatusSold || s == TradeStatusStopped
}

// Rank 返回状态在生命周期中的先后顺序，未知状态为 0。
// 同一 id 在两个集合里同时出现时，以更靠后的状态为准。
func (s TradeStatus) Rank() int {
	switch s {
	case TradeStatusPending:
		return 1
	case TradeStatusBought:
		return 2
	case TradeStatusSold, TradeStatusStopped:
		return 3
	default:
		return 0
	}
}

// Trade 后端上报的一笔交易（只读镜像，客户端从不本地修改字段）
type Trade struct {
	ID                int64               `json:"id"`
	UserID            int64               `json:"user_id"`
	Symbol            string              `json:"symbol"`
	BuyPrice          decimal.Decimal     `json:"buy_price"`
	SellPrice         decimal.Decimal     `json:"sell_price"`
	StopLoss          decimal.Decimal     `json:"stop_loss"`
	Quantity          decimal.Decimal     `json:"quantity"`
	Status            TradeStatus         `json:"status"`
	ExecutedBuyPrice  decimal.NullDecimal `json:"executed_buy_price"`
	ExecutedSellPrice decimal.NullDecimal `json:"executed_sell_price"`
	CreatedAt         Timestamp           `json:"created_at"`
}

// Key 返回交易的唯一键（用于去重）
func (t *Trade) Key() int64 {
	return t.ID
}

// PriceTick 最新价格，新的一笔直接替换旧的
type PriceTick struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// LogEntry 滚动事件日志中的一行
type LogEntry struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// AggregateStatus 未平仓交易的汇总状态
type AggregateStatus string

const (
	AggregateBought  AggregateStatus = "bought"
	AggregatePending AggregateStatus = "pending"
	AggregateNone    AggregateStatus = "none"
)

// Label 返回展示用文案
func (s AggregateStatus) Label() string {
	switch s {
	case AggregateBought:
		return "BOUGHT"
	case AggregatePending:
		return "PENDING"
	default:
		return "No Active Trade"
	}
}
