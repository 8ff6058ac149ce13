package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/pkg/logger"
)

// Client 管理推送通道连接。
// Events() 按到达顺序输出事件，客户端停止后关闭；断线后自动重连，
// 重连成功时先输出一条 EventReconnected，再输出新连接上的事件。
type Client struct {
	config *Config
	dialer websocket.Dialer

	// 连接相关
	conn   *websocket.Conn
	connMu sync.Mutex

	// 消息通道
	events chan domain.PushEvent
	errCh  chan error

	// 生命周期管理
	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Dial 建立连接并启动读循环。
// ctx 取消等同于 Close；握手失败时已获得的连接会先关闭再返回错误。
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("websocket config is nil")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	eventBuf := config.EventBufferSize
	if eventBuf <= 0 {
		eventBuf = defaultEventBufferSize
	}
	errBuf := config.ErrorBufferSize
	if errBuf <= 0 {
		errBuf = defaultErrorBufferSize
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
		HandshakeTimeout: config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	// 配置代理（如果提供）
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	c := &Client{
		config: config,
		dialer: dialer,
		events: make(chan domain.PushEvent, eventBuf),
		errCh:  make(chan error, errBuf),
		doneCh: make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.connect(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}

	go c.run(conn)
	logger.Infof("[WebSocket] 已连接 %s", config.URL)
	return c, nil
}

// Events 返回事件通道
func (c *Client) Events() <-chan domain.PushEvent {
	return c.events
}

// Errors 返回错误通道（*domain.TransportError / *domain.MalformedEventError），满了丢弃
func (c *Client) Errors() <-chan error {
	return c.errCh
}

// Done 读循环退出后关闭
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// Close 优雅地关闭连接，可重复调用
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeConn()

		// 等待 goroutine 完成
		select {
		case <-c.doneCh:
		case <-time.After(closeWaitTimeout):
			logger.Warnf("[WebSocket] 关闭超时")
		}
		logger.Infof("[WebSocket] 已停止")
	})
	return nil
}

// connect 建立一次连接
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := make(http.Header)
	headers.Set("User-Agent", "tradewatch/1.0")

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, &domain.TransportError{Op: "dial", Err: errors.Wrapf(err, "dial %s", c.config.URL)}
	}

	deadline := time.Now().Add(c.config.PongTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, &domain.TransportError{Op: "dial", Err: errors.Wrap(err, "set read deadline")}
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// Close 可能与连接建立并发；此时由这里负责关闭新连接
	if c.ctx.Err() != nil {
		c.closeConn()
		return nil, &domain.TransportError{Op: "dial", Err: c.ctx.Err()}
	}
	return conn, nil
}

// closeConn 发送关闭帧并关闭当前连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	// WriteControl 与其它写操作并发安全
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
}

// run 读循环：断线后重连，直到 Close 或重连次数耗尽
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.doneCh)
	defer close(c.events)

	for {
		err := c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}

		logger.Warnf("[WebSocket] 连接断开: %v, 重连中...", err)
		c.reportError(&domain.TransportError{Op: "read", Err: err})

		conn = c.reconnect()
		if conn == nil {
			return
		}
		if !c.emit(domain.PushEvent{Kind: domain.EventReconnected, ReceivedAt: time.Now()}) {
			return
		}
	}
}

// serve 在一条连接上读取消息，直到出错
func (c *Client) serve(conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	pingDone := make(chan struct{})
	go c.pingLoop(conn, stopPing, pingDone)
	defer func() {
		close(stopPing)
		<-pingDone
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		ev, err := DecodeEvent(data, time.Now())
		if err != nil {
			logger.Warnf("[WebSocket] 丢弃无法解析的消息: %v", err)
			c.reportError(err)
			continue
		}
		if !c.emit(ev) {
			return c.ctx.Err()
		}
	}
}

// pingLoop 心跳循环，定期发送 ping；ctx 取消时关闭连接以唤醒读循环
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			c.closeConn()
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debugf("[WebSocket] PING 发送失败: %v", err)
				// 读循环会因读超时或连接错误退出并重连
				conn.Close()
				return
			}
		}
	}
}

// reconnect 重连逻辑（指数退避），失败到上限或被关闭时返回 nil
func (c *Client) reconnect() *websocket.Conn {
	maxAttempts := c.config.MaxReconnectAttempts
	for attempt := 1; maxAttempts == 0 || attempt <= maxAttempts; attempt++ {
		delay := Backoff(c.config.ReconnectDelay, c.config.MaxReconnectDelay, attempt)
		if maxAttempts > 0 {
			logger.Infof("[WebSocket] %v 后重连 (尝试 %d/%d)...", delay, attempt, maxAttempts)
		} else {
			logger.Infof("[WebSocket] %v 后重连 (尝试 %d)...", delay, attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.connect(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			logger.Warnf("[WebSocket] 重连失败: %v", err)
			c.reportError(err)
			continue
		}
		logger.Infof("[WebSocket] 重连成功 (尝试 %d)", attempt)
		return conn
	}

	err := &domain.TransportError{
		Op:  "reconnect",
		Err: fmt.Errorf("达到最大重连次数 (%d)", maxAttempts),
	}
	logger.Errorf("[WebSocket] %v", err)
	c.reportError(err)
	return nil
}

// emit 按顺序投递事件；消费方跟不上时阻塞（不丢事件），关闭时返回 false
func (c *Client) emit(ev domain.PushEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) reportError(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}
