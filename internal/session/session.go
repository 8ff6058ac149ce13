// Package session 组装一次监控会话：状态、推送通道、快照拉取、下单，
// 并负责它们的启动顺序和关闭顺序。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradewatch/internal/command"
	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/metrics"
	"github.com/betbot/tradewatch/internal/snapshot"
	"github.com/betbot/tradewatch/internal/state"
	"github.com/betbot/tradewatch/pkg/config"
	"github.com/betbot/tradewatch/pkg/debounce"
	"github.com/betbot/tradewatch/pkg/logger"
	"github.com/betbot/tradewatch/pkg/sdk/websocket"
)

// Fetcher 拉取一次完整快照
type Fetcher interface {
	FetchAll(ctx context.Context) (snapshot.Snapshot, error)
}

// PushSource 推送通道（*websocket.Client 满足）
type PushSource interface {
	Events() <-chan domain.PushEvent
	Errors() <-chan error
	Done() <-chan struct{}
	Close() error
}

// DialFunc 建立推送通道
type DialFunc func(ctx context.Context) (PushSource, error)

// Deps 可替换的外部依赖；为 nil 的字段按配置创建默认实现
type Deps struct {
	Fetcher Fetcher
	Poster  command.Poster
	Dial    DialFunc
}

// Session 一次监控会话
type Session struct {
	id  string
	cfg *config.Config

	store      *state.Store
	rec        *state.Reconciler
	fetcher    Fetcher
	dispatcher *command.Dispatcher
	debouncer  *debounce.Debouncer
	dial       DialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	push    PushSource
	started bool
	closing bool
	wg      sync.WaitGroup

	pushDone  chan struct{}
	closeOnce sync.Once
}

// New 按配置创建会话（尚未联网）
func New(cfg *config.Config, deps Deps) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		store:    state.NewStore(cfg.LogCapacity),
		fetcher:  deps.Fetcher,
		dial:     deps.Dial,
		pushDone: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// trade_update 之后的刷新：窗口内多次触发只拉一次
	s.debouncer = debounce.New(cfg.RefreshDebounce, func() {
		s.runTracked(func() { _ = s.Refresh(s.ctx) })
	})
	s.rec = state.NewReconciler(s.store, s.debouncer)

	if s.fetcher == nil {
		s.fetcher = snapshot.NewHTTPFetcher(cfg.BackendURL, cfg.RequestTimeout)
	}
	poster := deps.Poster
	if poster == nil {
		poster = command.NewHTTPPoster(cfg.BackendURL, cfg.SubmitTimeout)
	}
	s.dispatcher = command.NewDispatcher(poster, s.rec, s, cfg.SubmitTimeout)
	if s.dial == nil {
		s.dial = DialWebSocket(cfg)
	}
	return s
}

// DialWebSocket 按配置连接推送通道
func DialWebSocket(cfg *config.Config) DialFunc {
	return func(ctx context.Context) (PushSource, error) {
		wsCfg := websocket.DefaultConfig()
		wsCfg.URL = cfg.WSURL
		wsCfg.ReconnectDelay = cfg.ReconnectDelay
		wsCfg.MaxReconnectDelay = cfg.ReconnectMaxDelay
		wsCfg.MaxReconnectAttempts = cfg.ReconnectMaxAttempts
		wsCfg.PingInterval = cfg.PingInterval
		wsCfg.PongTimeout = cfg.PongTimeout
		return websocket.Dial(ctx, wsCfg)
	}
}

// ID 会话 id（日志关联用）
func (s *Session) ID() string { return s.id }

// Store 只读状态
func (s *Session) Store() *state.Store { return s.store }

// PushDone 推送通道永久关闭（重连耗尽或会话关闭）后关闭
func (s *Session) PushDone() <-chan struct{} { return s.pushDone }

// Start 先拉一次初始快照，再连接推送通道并启动事件循环。
// 初始快照失败只记日志；推送通道连不上则返回错误。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	// 调用方的 ctx 结束也视为关闭
	stop := context.AfterFunc(ctx, s.cancel)
	go func() {
		<-s.ctx.Done()
		stop()
	}()

	log := logger.WithField("session", s.id)
	if err := s.Refresh(s.ctx); err != nil {
		log.Warnf("[Session] 初始快照失败: %v", err)
	}

	push, err := s.dial(s.ctx)
	if err != nil {
		close(s.pushDone)
		return err
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		push.Close()
		close(s.pushDone)
		return domain.ErrClosed
	}
	s.push = push
	s.wg.Add(2)
	s.mu.Unlock()

	go s.eventLoop(push)
	go s.errorLoop(push)

	if s.cfg.PollInterval > 0 {
		s.runTrackedAsync(s.pollLoop)
	}
	log.WithFields(logrus.Fields{
		"backend": s.cfg.BackendURL,
		"ws":      s.cfg.WSURL,
		"poll":    s.cfg.PollInterval,
	}).Info("[Session] 已启动")
	return nil
}

// eventLoop 按到达顺序处理推送事件；重连标记触发一次同步的强制刷新，
// 刷新完成前不读取后续事件。
func (s *Session) eventLoop(push PushSource) {
	defer s.wg.Done()
	defer close(s.pushDone)

	for ev := range push.Events() {
		if ev.Kind == domain.EventReconnected {
			metrics.Reconnects.Inc()
			s.debouncer.Cancel()
			logger.Infof("[Session] 推送通道已重连，强制同步快照")
			if err := s.Refresh(s.ctx); err != nil && !isQuiet(err) {
				// 失败已写入事件日志；再排一次防抖刷新兜底
				s.debouncer.Trigger()
			}
			continue
		}
		if err := s.rec.ApplyPush(ev); err != nil {
			if errors.Is(err, domain.ErrClosed) {
				return
			}
			logger.Warnf("[Session] 忽略推送事件: %v", err)
		}
	}

	if s.ctx.Err() == nil {
		logger.Errorf("[Session] 推送通道已关闭，不再接收实时事件")
		_ = s.rec.AppendLog("Push channel closed")
	}
}

// errorLoop 统计推送通道的错误
func (s *Session) errorLoop(push PushSource) {
	defer s.wg.Done()
	for {
		select {
		case <-push.Done():
			return
		case err := <-push.Errors():
			var me *domain.MalformedEventError
			var te *domain.TransportError
			switch {
			case errors.As(err, &me):
				metrics.MalformedEvents.Inc()
			case errors.As(err, &te):
				metrics.TransportErrors.Inc()
			}
		}
	}
}

func (s *Session) pollLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(s.ctx)
		}
	}
}

// Refresh 拉取一次快照并交给 Reconciler。
// 失败时写入 "Sync failed" 日志并返回 *domain.FetchError；
// 被更新的快照取代时返回 domain.ErrStaleSnapshot。
func (s *Session) Refresh(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return domain.ErrClosed
	}
	// 会话关闭时取消进行中的拉取
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	seq := s.rec.BeginSnapshot()
	snap, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return domain.ErrClosed
		}
		if recErr := s.rec.RecordFetchError(seq, err); recErr != nil {
			return recErr
		}
		return err
	}

	applied, err := s.rec.ApplySnapshot(seq, snap.Active, snap.History)
	if err != nil {
		return err
	}
	if !applied {
		return domain.ErrStaleSnapshot
	}
	logger.Debugf("[Session] 快照 seq=%d 已同步 open=%d closed=%d", seq, len(snap.Active), len(snap.History))
	return nil
}

// RefreshNow 后台立即刷新一次（下单成功后调用）
func (s *Session) RefreshNow() {
	s.runTrackedAsync(func() { _ = s.Refresh(s.ctx) })
}

// Submit 校验并提交新交易
func (s *Session) Submit(ctx context.Context, draft domain.TradeDraft) (*command.Receipt, error) {
	if s.isClosing() {
		return nil, domain.ErrClosed
	}
	if draft.UserID == 0 {
		draft.UserID = s.cfg.UserID
	}
	if draft.Symbol == "" {
		draft.Symbol = s.cfg.Symbol
	}
	return s.dispatcher.Submit(ctx, draft)
}

// Close 取消进行中的拉取，冻结状态，停止防抖和轮询，关闭推送通道并等待所有 goroutine 退出
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		push := s.push
		started := s.started
		s.mu.Unlock()

		s.cancel()
		s.rec.Close()
		s.debouncer.Stop()
		if push != nil {
			_ = push.Close()
		}
		s.wg.Wait()
		if !started {
			close(s.pushDone)
		}
		logger.WithField("session", s.id).Infof("[Session] 已关闭")
	})
	return nil
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// runTracked 在当前 goroutine 执行 fn，并计入关闭时的等待
func (s *Session) runTracked(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	fn()
}

func (s *Session) runTrackedAsync(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// isQuiet 不需要重试的刷新结果
func isQuiet(err error) bool {
	return errors.Is(err, domain.ErrStaleSnapshot) || errors.Is(err, domain.ErrClosed)
}
