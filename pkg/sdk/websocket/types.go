// Package websocket 交易后端推送通道客户端：自动重连、心跳保活，
// 把原始消息解码为 domain.PushEvent 按到达顺序交给消费方。
package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/tradewatch/internal/domain"
)

const (
	// 重连设置
	defaultReconnectDelay    = 1 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultPongTimeout       = 45 * time.Second

	// 通道缓冲区大小
	defaultEventBufferSize = 256
	defaultErrorBufferSize = 32

	// 关闭时等待读循环退出的上限
	closeWaitTimeout = 5 * time.Second

	// 错误信息里保留的原始消息长度
	payloadPreviewLen = 200
)

// Config 是 WebSocket 客户端配置
type Config struct {
	URL      string // ws:// 或 wss:// 地址
	ProxyURL string // 代理 URL（可选）

	// 重连设置
	ReconnectDelay       time.Duration // 首次重连延迟，之后指数增长
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 连续重连次数上限，0 表示不限

	// 心跳设置
	PingInterval time.Duration // Ping 间隔
	PongTimeout  time.Duration // 超过该时间没有 pong/消息即视为断线

	// 缓冲区设置
	EventBufferSize int // 事件通道缓冲区大小
	ErrorBufferSize int // 错误通道缓冲区大小

	// 连接设置
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 0,
		PingInterval:         defaultPingInterval,
		PongTimeout:          defaultPongTimeout,
		EventBufferSize:      defaultEventBufferSize,
		ErrorBufferSize:      defaultErrorBufferSize,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		HandshakeTimeout:     10 * time.Second,
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("无效的 WebSocket 地址: %q", c.URL)
	}
	if c.ReconnectDelay <= 0 || c.MaxReconnectDelay < c.ReconnectDelay {
		return fmt.Errorf("无效的重连延迟: %v/%v", c.ReconnectDelay, c.MaxReconnectDelay)
	}
	if c.PingInterval <= 0 || c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("pong 超时必须大于 ping 间隔: %v/%v", c.PongTimeout, c.PingInterval)
	}
	return nil
}

// Backoff 第 attempt 次（从 1 开始）重连前的等待时间：base * 2^(attempt-1)，不超过 max
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// wireMessage 后端推送消息
//
//	{"type": "price_update", "price": 101.5, "symbol": "BTCUSDT"}
//	{"type": "trade_update", "status": "bought", "price": 100.2}
type wireMessage struct {
	Type   string           `json:"type"`
	Symbol string           `json:"symbol,omitempty"`
	Price  *decimal.Decimal `json:"price"`
	Status *string          `json:"status,omitempty"`
}

// DecodeEvent 解码一条推送消息；无法识别的消息返回 *domain.MalformedEventError
func DecodeEvent(data []byte, receivedAt time.Time) (domain.PushEvent, error) {
	malformed := func(reason string) (domain.PushEvent, error) {
		return domain.PushEvent{}, &domain.MalformedEventError{
			Payload: preview(data),
			Reason:  reason,
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed("not a json object")
	}
	var msg wireMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return malformed("invalid json: " + err.Error())
	}

	ev := domain.PushEvent{
		Kind:       domain.PushEventKind(msg.Type),
		Symbol:     msg.Symbol,
		ReceivedAt: receivedAt,
	}
	switch ev.Kind {
	case domain.EventPriceUpdate:
	case domain.EventTradeUpdate:
		if msg.Status == nil || strings.TrimSpace(*msg.Status) == "" {
			return malformed("trade_update without status")
		}
		ev.Status = domain.TradeStatus(strings.TrimSpace(*msg.Status))
	default:
		return malformed(fmt.Sprintf("unknown type %q", msg.Type))
	}
	if msg.Price == nil {
		return malformed(string(ev.Kind) + " without price")
	}
	ev.Price = *msg.Price
	return ev, nil
}

func preview(data []byte) string {
	s := string(data)
	if len(s) > payloadPreviewLen {
		return s[:payloadPreviewLen] + "..."
	}
	return s
}
