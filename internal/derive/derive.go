// Package derive 从状态视图计算展示用的派生值（纯函数，不修改输入）
package derive

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/state"
)

// AggregateStatus 任一未平仓交易已买入 => bought；否则任一等待买入 => pending；否则 none
func AggregateStatus(open []domain.Trade) domain.AggregateStatus {
	pending := false
	for _, t := range open {
		switch t.Status {
		case domain.TradeStatusBought:
			return domain.AggregateBought
		case domain.TradeStatusPending:
			pending = true
		}
	}
	if pending {
		return domain.AggregatePending
	}
	return domain.AggregateNone
}

// ProfitAndLoss (成交卖价 - 成交买价) * 数量；任一成交价缺失时返回 false
func ProfitAndLoss(t domain.Trade) (decimal.Decimal, bool) {
	if !t.ExecutedBuyPrice.Valid || !t.ExecutedSellPrice.Valid {
		return decimal.Zero, false
	}
	return t.ExecutedSellPrice.Decimal.Sub(t.ExecutedBuyPrice.Decimal).Mul(t.Quantity), true
}

// Realized 已实现盈亏汇总
type Realized struct {
	Total   decimal.Decimal `json:"total"`
	Counted int             `json:"counted"` // 参与汇总（P/L 有定义）的交易数
	Wins    int             `json:"wins"`
	Losses  int             `json:"losses"`
}

// RealizedTotal 汇总所有有定义的 P/L
func RealizedTotal(closed []domain.Trade) Realized {
	r := Realized{Total: decimal.Zero}
	for _, t := range closed {
		pl, ok := ProfitAndLoss(t)
		if !ok {
			continue
		}
		r.Total = r.Total.Add(pl)
		r.Counted++
		switch pl.Sign() {
		case 1:
			r.Wins++
		case -1:
			r.Losses++
		}
	}
	return r
}

// TradeRow 一笔交易加上它的 P/L（未定义时为 nil）
type TradeRow struct {
	domain.Trade
	PnL *decimal.Decimal `json:"pnl"`
}

// Summary 渲染层和状态 API 使用的汇总视图
type Summary struct {
	Price       *domain.PriceTick      `json:"price"`
	Status      domain.AggregateStatus `json:"status"`
	StatusLabel string                 `json:"status_label"`
	Open        []TradeRow             `json:"open"`
	Closed      []TradeRow             `json:"closed"`
	Realized    Realized               `json:"realized"`
	Logs        []domain.LogEntry      `json:"logs"`
	Version     uint64                 `json:"version"`
	LastSyncAt  *time.Time             `json:"last_sync_at"`
}

// Summarize 由一个视图计算全部派生值
func Summarize(v state.View) Summary {
	status := AggregateStatus(v.Open)
	s := Summary{
		Price:       v.Price,
		Status:      status,
		StatusLabel: status.Label(),
		Open:        rows(v.Open),
		Closed:      rows(v.Closed),
		Realized:    RealizedTotal(v.Closed),
		Logs:        v.Logs,
		Version:     v.Version,
	}
	if s.Logs == nil {
		s.Logs = []domain.LogEntry{}
	}
	if !v.LastSyncAt.IsZero() {
		at := v.LastSyncAt
		s.LastSyncAt = &at
	}
	return s
}

func rows(trades []domain.Trade) []TradeRow {
	out := make([]TradeRow, 0, len(trades))
	for _, t := range trades {
		row := TradeRow{Trade: t}
		if pl, ok := ProfitAndLoss(t); ok {
			row.PnL = &pl
		}
		out = append(out, row)
	}
	return out
}
