package derive

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/state"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func closedTrade(buy, sell, qty string) domain.Trade {
	return domain.Trade{
		ID:                1,
		Status:            domain.TradeStatusSold,
		Quantity:          d(qty),
		ExecutedBuyPrice:  decimal.NewNullDecimal(d(buy)),
		ExecutedSellPrice: decimal.NewNullDecimal(d(sell)),
	}
}

func TestProfitAndLoss(t *testing.T) {
	pl, ok := ProfitAndLoss(closedTrade("100", "110", "2"))
	require.True(t, ok)
	assert.True(t, pl.Equal(d("20")), "got %s", pl)

	pl, ok = ProfitAndLoss(closedTrade("100", "95", "0.5"))
	require.True(t, ok)
	assert.True(t, pl.Equal(d("-2.5")))

	// 十进制运算不应有浮点误差
	pl, ok = ProfitAndLoss(closedTrade("0.1", "0.3", "3"))
	require.True(t, ok)
	assert.Equal(t, "0.6", pl.String())

	missingSell := closedTrade("100", "110", "2")
	missingSell.ExecutedSellPrice = decimal.NullDecimal{}
	_, ok = ProfitAndLoss(missingSell)
	assert.False(t, ok)

	missingBuy := closedTrade("100", "110", "2")
	missingBuy.ExecutedBuyPrice = decimal.NullDecimal{}
	_, ok = ProfitAndLoss(missingBuy)
	assert.False(t, ok)
}

func TestAggregateStatus(t *testing.T) {
	mk := func(statuses ...domain.TradeStatus) []domain.Trade {
		out := make([]domain.Trade, 0, len(statuses))
		for i, s := range statuses {
			out = append(out, domain.Trade{ID: int64(i), Status: s})
		}
		return out
	}
	assert.Equal(t, domain.AggregateNone, AggregateStatus(nil))
	assert.Equal(t, domain.AggregatePending, AggregateStatus(mk(domain.TradeStatusPending)))
	assert.Equal(t, domain.AggregateBought, AggregateStatus(mk(domain.TradeStatusPending, domain.TradeStatusBought)))
	assert.Equal(t, domain.AggregateBought, AggregateStatus(mk(domain.TradeStatusBought, domain.TradeStatusPending)))
}

func TestProperty_BoughtDominates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		statuses := rapid.SliceOf(rapid.SampledFrom([]domain.TradeStatus{
			domain.TradeStatusPending, domain.TradeStatusBought,
		})).Draw(t, "statuses")
		open := make([]domain.Trade, 0, len(statuses))
		anyBought, anyPending := false, false
		for i, s := range statuses {
			open = append(open, domain.Trade{ID: int64(i), Status: s})
			anyBought = anyBought || s == domain.TradeStatusBought
			anyPending = anyPending || s == domain.TradeStatusPending
		}

		got := AggregateStatus(open)
		switch {
		case anyBought && got != domain.AggregateBought:
			t.Fatalf("bought present but got %s", got)
		case !anyBought && anyPending && got != domain.AggregatePending:
			t.Fatalf("only pending present but got %s", got)
		case !anyBought && !anyPending && got != domain.AggregateNone:
			t.Fatalf("empty but got %s", got)
		}
	})
}

func TestRealizedTotal(t *testing.T) {
	undefined := closedTrade("100", "110", "1")
	undefined.ExecutedSellPrice = decimal.NullDecimal{}

	r := RealizedTotal([]domain.Trade{
		closedTrade("100", "110", "2"),
		closedTrade("100", "95", "1"),
		undefined,
	})
	assert.True(t, r.Total.Equal(d("15")))
	assert.Equal(t, 2, r.Counted)
	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
}

func TestSummarize(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := state.View{
		Price:      &domain.PriceTick{Price: d("101")},
		Open:       []domain.Trade{{ID: 1, Status: domain.TradeStatusPending}},
		Closed:     []domain.Trade{closedTrade("100", "110", "2")},
		Version:    7,
		LastSyncAt: at,
	}
	s := Summarize(v)
	assert.Equal(t, domain.AggregatePending, s.Status)
	assert.Equal(t, "PENDING", s.StatusLabel)
	require.Len(t, s.Open, 1)
	assert.Nil(t, s.Open[0].PnL)
	require.Len(t, s.Closed, 1)
	require.NotNil(t, s.Closed[0].PnL)
	assert.True(t, s.Closed[0].PnL.Equal(d("20")))
	assert.NotNil(t, s.Logs)
	require.NotNil(t, s.LastSyncAt)
	assert.Equal(t, at, *s.LastSyncAt)
	assert.Equal(t, uint64(7), s.Version)
}
