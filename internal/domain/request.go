package domain

import (
	"math"
	"strconv"
	"strings"
)

// TradeDraft 操作员表单里的原始输入（全部是字符串，提交前必须校验）
type TradeDraft struct {
	UserID    int64  `json:"user_id"`
	Symbol    string `json:"symbol"`
	BuyPrice  string `json:"buy_price"`
	SellPrice string `json:"sell_price"`
	StopLoss  string `json:"stop_loss"`
	Quantity  string `json:"quantity"`
}

// TradeRequest POST /trade/create 的请求体
type TradeRequest struct {
	UserID    int64   `json:"user_id"`
	Symbol    string  `json:"symbol"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	StopLoss  float64 `json:"stop_loss"`
	Quantity  float64 `json:"quantity"`
}

// Validate 把草稿转换为请求；四个数值字段按表单顺序检查，
// 返回的 *ValidationError 指向第一个缺失或非法的字段。
func (d TradeDraft) Validate() (TradeRequest, error) {
	req := TradeRequest{
		UserID: d.UserID,
		Symbol: strings.TrimSpace(d.Symbol),
	}
	if req.Symbol == "" {
		return TradeRequest{}, &ValidationError{Field: "symbol", Reason: "required"}
	}

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"buy_price", d.BuyPrice, &req.BuyPrice},
		{"sell_price", d.SellPrice, &req.SellPrice},
		{"stop_loss", d.StopLoss, &req.StopLoss},
		{"quantity", d.Quantity, &req.Quantity},
	}
	for _, f := range fields {
		v, err := parsePositive(f.name, f.raw)
		if err != nil {
			return TradeRequest{}, err
		}
		*f.dst = v
	}
	return req, nil
}

func parsePositive(field, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ValidationError{Field: field, Reason: "required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field, Reason: "must be a finite number"}
	}
	if v <= 0 {
		return 0, &ValidationError{Field: field, Reason: "must be greater than 0"}
	}
	return v, nil
}
