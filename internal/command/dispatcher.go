// Package command 校验并提交操作员的新交易请求
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/metrics"
	"github.com/betbot/tradewatch/pkg/logger"
	sdkhttp "github.com/betbot/tradewatch/pkg/sdk/http"
)

// PathCreate 创建交易接口
const PathCreate = "/trade/create"

// Poster 发送 JSON 请求并返回 2xx 响应体
type Poster interface {
	Post(ctx context.Context, endpoint string, body any) ([]byte, error)
}

// LogSink 接收确认日志（Reconciler 满足）
type LogSink interface {
	AppendLog(msg string) error
}

// Refresher 提交成功后立即请求一次快照刷新（不阻塞）
type Refresher interface {
	RefreshNow()
}

// Receipt 提交成功的回执
type Receipt struct {
	Request   domain.TradeRequest
	Trade     *domain.Trade // 后端返回的新交易（无法解析时为 nil）
	Submitted time.Time
}

// TradeID 新交易 id，未知时为 0
func (r *Receipt) TradeID() int64 {
	if r == nil || r.Trade == nil {
		return 0
	}
	return r.Trade.ID
}

// Dispatcher 交易请求分发器
type Dispatcher struct {
	poster  Poster
	logs    LogSink
	refresh Refresher
	timeout time.Duration
}

// NewDispatcher logs/refresh 可以为 nil（一次性命令行提交时没有会话）
func NewDispatcher(poster Poster, logs LogSink, refresh Refresher, timeout time.Duration) *Dispatcher {
	return &Dispatcher{poster: poster, logs: logs, refresh: refresh, timeout: timeout}
}

// Submit 校验草稿并提交。
// 校验失败返回 *domain.ValidationError 且不发出任何请求；
// 提交失败返回 *domain.SubmissionError，本地状态不变。
func (d *Dispatcher) Submit(ctx context.Context, draft domain.TradeDraft) (*Receipt, error) {
	req, err := draft.Validate()
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	body, err := d.poster.Post(ctx, PathCreate, req)
	if err != nil {
		metrics.Submissions.WithLabelValues(metrics.ResultFailed).Inc()
		se := toSubmissionError(err)
		logger.Warnf("[Dispatcher] 提交交易失败 symbol=%s: %v", req.Symbol, se)
		return nil, se
	}

	receipt := &Receipt{Request: req, Submitted: time.Now()}
	var created domain.Trade
	if len(body) > 0 && json.Unmarshal(body, &created) == nil && created.ID > 0 {
		receipt.Trade = &created
	}
	metrics.Submissions.WithLabelValues(metrics.ResultOK).Inc()

	msg := "Trade created"
	if id := receipt.TradeID(); id > 0 {
		msg = fmt.Sprintf("Trade created #%d", id)
	}
	logger.Infof("[Dispatcher] %s symbol=%s buy=%v sell=%v stop=%v qty=%v",
		msg, req.Symbol, req.BuyPrice, req.SellPrice, req.StopLoss, req.Quantity)

	if d.logs != nil {
		if err := d.logs.AppendLog(msg); err != nil && !errors.Is(err, domain.ErrClosed) {
			logger.Warnf("[Dispatcher] 写入确认日志失败: %v", err)
		}
	}
	if d.refresh != nil {
		d.refresh.RefreshNow()
	}
	return receipt, nil
}

func toSubmissionError(err error) *domain.SubmissionError {
	se := &domain.SubmissionError{Err: err}
	var status *sdkhttp.StatusError
	if errors.As(err, &status) {
		se.StatusCode = status.StatusCode
		se.Detail = status.Detail
	}
	return se
}

// HTTPPoster 把 *sdkhttp.Client 适配为 Poster
type HTTPPoster struct {
	Client *sdkhttp.Client
}

// NewHTTPPoster 创建创建交易用的客户端；非幂等请求不重试
func NewHTTPPoster(baseURL string, timeout time.Duration) HTTPPoster {
	return HTTPPoster{Client: sdkhttp.NewClient(baseURL, sdkhttp.Options{Timeout: timeout})}
}

// Post 实现 Poster
func (p HTTPPoster) Post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	resp, err := p.Client.Post(ctx, endpoint, body, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
