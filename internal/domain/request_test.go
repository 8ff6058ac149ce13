package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() TradeDraft {
	return TradeDraft{
		UserID:    1,
		Symbol:    "BTCUSDT",
		BuyPrice:  "100",
		SellPrice: "110",
		StopLoss:  "95",
		Quantity:  "0.5",
	}
}

func TestTradeDraft_Validate(t *testing.T) {
	req, err := validDraft().Validate()
	require.NoError(t, err)
	assert.Equal(t, TradeRequest{
		UserID:    1,
		Symbol:    "BTCUSDT",
		BuyPrice:  100,
		SellPrice: 110,
		StopLoss:  95,
		Quantity:  0.5,
	}, req)
}

func TestTradeDraft_ValidateNamesOffendingField(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TradeDraft)
		field  string
	}{
		{"missing quantity", func(d *TradeDraft) { d.Quantity = "" }, "quantity"},
		{"blank buy price", func(d *TradeDraft) { d.BuyPrice = "   " }, "buy_price"},
		{"non numeric sell", func(d *TradeDraft) { d.SellPrice = "abc" }, "sell_price"},
		{"infinite stop", func(d *TradeDraft) { d.StopLoss = "Inf" }, "stop_loss"},
		{"nan quantity", func(d *TradeDraft) { d.Quantity = "NaN" }, "quantity"},
		{"zero quantity", func(d *TradeDraft) { d.Quantity = "0" }, "quantity"},
		{"negative buy", func(d *TradeDraft) { d.BuyPrice = "-1" }, "buy_price"},
		{"missing symbol", func(d *TradeDraft) { d.Symbol = "" }, "symbol"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDraft()
			tc.mutate(&d)
			_, err := d.Validate()

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestTradeStatus_Classification(t *testing.T) {
	assert.True(t, TradeStatusPending.IsOpen())
	assert.True(t, TradeStatusBought.IsOpen())
	assert.True(t, TradeStatusSold.IsClosed())
	assert.True(t, TradeStatusStopped.IsClosed())
	assert.False(t, TradeStatus("cancelled").Valid())
	assert.Equal(t, 0, TradeStatus("cancelled").Rank())
	assert.Greater(t, TradeStatusSold.Rank(), TradeStatusBought.Rank())
}

func TestErrorKindsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	var fe error = &FetchError{Endpoint: "/trade/active", Err: cause}
	assert.ErrorIs(t, fe, cause)
	assert.Contains(t, fe.Error(), "/trade/active")

	se := &SubmissionError{StatusCode: 400, Detail: "Stop loss must be less than buy price"}
	assert.Equal(t, "submit trade: http 400: Stop loss must be less than buy price", se.Error())

	var te error = &TransportError{Op: "read", Err: cause}
	assert.ErrorIs(t, te, cause)
}
