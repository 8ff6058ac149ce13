// Package snapshot 拉取后端的完整交易快照（未平仓 + 历史）
package snapshot

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/metrics"
	sdkhttp "github.com/betbot/tradewatch/pkg/sdk/http"
)

const (
	PathActive  = "/trade/active"
	PathHistory = "/trade/history"
)

// Snapshot 一次拉取的结果，两个列表来自同一次并发请求
type Snapshot struct {
	Active    []domain.Trade
	History   []domain.Trade
	FetchedAt time.Time
}

// Getter 是 Fetcher 依赖的最小 HTTP 能力（*sdkhttp.Client 满足）
type Getter interface {
	Get(ctx context.Context, endpoint string, out any) error
}

// Fetcher 并发请求两个列表；任一失败则整体失败，另一个结果被丢弃
type Fetcher struct {
	client  Getter
	timeout time.Duration
}

// NewFetcher timeout 为单次快照（两个请求一起）的上限，0 表示只受 ctx 约束
func NewFetcher(client Getter, timeout time.Duration) *Fetcher {
	return &Fetcher{client: client, timeout: timeout}
}

// NewHTTPFetcher 基于 resty 客户端创建 Fetcher（不重试，由调用方决定何时再拉）
func NewHTTPFetcher(baseURL string, timeout time.Duration) *Fetcher {
	return NewFetcher(HTTPGetter{Client: sdkhttp.NewClient(baseURL, sdkhttp.Options{Timeout: timeout})}, timeout)
}

// FetchAll 拉取一次完整快照；失败返回 *domain.FetchError
func (f *Fetcher) FetchAll(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	defer func() { metrics.SnapshotDuration.Observe(time.Since(start).Seconds()) }()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var active, history []domain.Trade
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.fetch(gctx, PathActive, &active) })
	g.Go(func() error { return f.fetch(gctx, PathHistory, &history) })
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if active == nil {
		active = []domain.Trade{}
	}
	if history == nil {
		history = []domain.Trade{}
	}
	return Snapshot{Active: active, History: history, FetchedAt: time.Now()}, nil
}

func (f *Fetcher) fetch(ctx context.Context, endpoint string, out *[]domain.Trade) error {
	if err := f.client.Get(ctx, endpoint, out); err != nil {
		fe := &domain.FetchError{Endpoint: endpoint, Err: err}
		var se *sdkhttp.StatusError
		if errors.As(err, &se) {
			fe.StatusCode = se.StatusCode
		}
		return fe
	}
	return nil
}

// HTTPGetter 把 *sdkhttp.Client 适配为 Getter
type HTTPGetter struct {
	Client *sdkhttp.Client
}

// Get 实现 Getter
func (g HTTPGetter) Get(ctx context.Context, endpoint string, out any) error {
	_, err := g.Client.Get(ctx, endpoint, out)
	return err
}
