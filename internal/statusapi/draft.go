package statusapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/betbot/tradewatch/internal/domain"
)

// numberOrString 接受 "100.5" 或 100.5，原样保留文本交给 TradeDraft.Validate 校验
type numberOrString string

func (n *numberOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numberOrString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = numberOrString(num.String())
	return nil
}

type draftRequest struct {
	UserID    int64          `json:"user_id"`
	Symbol    string         `json:"symbol"`
	BuyPrice  numberOrString `json:"buy_price"`
	SellPrice numberOrString `json:"sell_price"`
	StopLoss  numberOrString `json:"stop_loss"`
	Quantity  numberOrString `json:"quantity"`
}

func (r draftRequest) draft() domain.TradeDraft {
	return domain.TradeDraft{
		UserID:    r.UserID,
		Symbol:    strings.TrimSpace(r.Symbol),
		BuyPrice:  string(r.BuyPrice),
		SellPrice: string(r.SellPrice),
		StopLoss:  string(r.StopLoss),
		Quantity:  string(r.Quantity),
	}
}
