package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PushEventKind 推送事件类型
type PushEventKind string

const (
	EventPriceUpdate PushEventKind = "price_update"
	EventTradeUpdate PushEventKind = "trade_update"
	// EventReconnected 不是后端消息：连接管理器在重连成功后插入，
	// 消费方必须先完成一次强制同步再处理后续事件。
	EventReconnected PushEventKind = "reconnected"
)

// PushEvent 推送通道送达的一条事件。
// trade_update 不带交易 id，只作为通知，不用于修补具体 Trade。
type PushEvent struct {
	Kind       PushEventKind
	Symbol     string
	Price      decimal.Decimal
	Status     TradeStatus
	ReceivedAt time.Time
}
