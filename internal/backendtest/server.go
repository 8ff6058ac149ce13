// Package backendtest 提供一个进程内的假交易后端（REST + WebSocket），
// 供快照、下单、推送通道和会话的测试使用。
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/betbot/tradewatch/internal/domain"
)

const (
	PathActive  = "/trade/active"
	PathHistory = "/trade/history"
	PathCreate  = "/trade/create"
	PathWS      = "/ws"
)

type failure struct {
	status int
	detail string
}

// Server 假后端
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	active   []domain.Trade
	history  []domain.Trade
	failures map[string]failure
	latency  map[string]time.Duration
	hits     map[string]int
	created  []domain.TradeRequest
	nextID   int64

	wsMu     sync.Mutex
	conns    map[*websocket.Conn]struct{}
	accepted int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// New 启动假后端，测试结束时自动关闭
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		failures: make(map[string]failure),
		latency:  make(map[string]time.Duration),
		hits:     make(map[string]int),
		conns:    make(map[*websocket.Conn]struct{}),
		nextID:   1000,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.track())
	r.GET(PathActive, func(c *gin.Context) { s.respondList(c, true) })
	r.GET(PathHistory, func(c *gin.Context) { s.respondList(c, false) })
	r.POST(PathCreate, s.handleCreate)
	r.GET(PathWS, s.handleWS)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// URL REST 基础地址
func (s *Server) URL() string { return s.srv.URL }

// WSURL 推送通道地址
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + PathWS
}

// Close 断开所有推送连接并关闭服务
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// SetActive 设置 /trade/active 的返回
func (s *Server) SetActive(trades ...domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = append([]domain.Trade(nil), trades...)
}

// SetHistory 设置 /trade/history 的返回
func (s *Server) SetHistory(trades ...domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]domain.Trade(nil), trades...)
}

// Fail 让 path 返回 status 和 {"detail": detail}；status 为 0 时恢复正常
func (s *Server) Fail(path string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = failure{status: status, detail: detail}
}

// SetLatency 给 path 增加响应延迟（请求取消时提前返回）
func (s *Server) SetLatency(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[path] = d
}

// Hits path 被请求的次数
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Created 成功创建的交易请求
func (s *Server) Created() []domain.TradeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TradeRequest(nil), s.created...)
}

// track 计数、注入延迟和失败
func (s *Server) track() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		s.mu.Lock()
		s.hits[path]++
		delay := s.latency[path]
		fail, failing := s.failures[path]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}
		if failing {
			c.AbortWithStatusJSON(fail.status, gin.H{"detail": fail.detail})
			return
		}
		c.Next()
	}
}

func (s *Server) respondList(c *gin.Context, active bool) {
	s.mu.Lock()
	list := s.history
	if active {
		list = s.active
	}
	out := append([]domain.Trade{}, list...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// handleCreate 复刻后端的校验顺序和错误文案
func (s *Server) handleCreate(c *gin.Context) {
	var req domain.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"buy_price", req.BuyPrice}, {"sell_price", req.SellPrice}, {"stop_loss", req.StopLoss}, {"quantity", req.Quantity}} {
		if f.v <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
				{"loc": []string{"body", f.name}, "msg": "ensure this value is greater than 0"},
			}})
			return
		}
	}
	if req.SellPrice <= req.BuyPrice {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Sell price must be greater than buy price"})
		return
	}
	if req.StopLoss >= req.BuyPrice {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Stop loss must be less than buy price"})
		return
	}

	s.mu.Lock()
	s.nextID++
	tr := domain.Trade{
		ID:        s.nextID,
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		BuyPrice:  decimal.NewFromFloat(req.BuyPrice),
		SellPrice: decimal.NewFromFloat(req.SellPrice),
		StopLoss:  decimal.NewFromFloat(req.StopLoss),
		Quantity:  decimal.NewFromFloat(req.Quantity),
		Status:    domain.TradeStatusPending,
		CreatedAt: domain.Timestamp{Time: time.Now().UTC()},
	}
	s.created = append(s.created, req)
	s.active = append(s.active, tr)
	s.mu.Unlock()

	c.JSON(http.StatusOK, tr)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.wsMu.Lock()
	s.conns[conn] = struct{}{}
	s.accepted++
	s.wsMu.Unlock()

	// 读循环：响应客户端 ping（默认 PingHandler 回 pong），检测断开
	go func() {
		defer s.forget(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) forget(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.conns, conn)
	s.wsMu.Unlock()
	conn.Close()
}

// Push 把 v 编码为 JSON 推送给所有连接
func (s *Server) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.PushRaw(string(data))
}

// PushRaw 原样推送一条文本消息
func (s *Server) PushRaw(msg string) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	var firstErr error
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropConnections 直接断开所有推送连接（不发关闭帧，模拟网络中断）
func (s *Server) DropConnections() {
	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.wsMu.Unlock()
	for _, conn := range conns {
		conn.NetConn().Close()
	}
}

// Accepted 累计接受的推送连接数
func (s *Server) Accepted() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.accepted
}

// Live 当前存活的推送连接数
func (s *Server) Live() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.conns)
}

// NewTrade 构造测试用交易：买 100 / 卖 110 / 止损 95 / 数量 1；
// 已平仓状态带成交价（stopped 以止损价卖出）。
func NewTrade(id int64, status domain.TradeStatus) domain.Trade {
	tr := domain.Trade{
		ID:        id,
		UserID:    1,
		Symbol:    "BTCUSDT",
		BuyPrice:  decimal.NewFromInt(100),
		SellPrice: decimal.NewFromInt(110),
		StopLoss:  decimal.NewFromInt(95),
		Quantity:  decimal.NewFromInt(1),
		Status:    status,
		CreatedAt: domain.Timestamp{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	switch status {
	case domain.TradeStatusBought:
		tr.ExecutedBuyPrice = decimal.NewNullDecimal(decimal.NewFromInt(100))
	case domain.TradeStatusSold:
		tr.ExecutedBuyPrice = decimal.NewNullDecimal(decimal.NewFromInt(100))
		tr.ExecutedSellPrice = decimal.NewNullDecimal(decimal.NewFromInt(110))
	case domain.TradeStatusStopped:
		tr.ExecutedBuyPrice = decimal.NewNullDecimal(decimal.NewFromInt(100))
		tr.ExecutedSellPrice = decimal.NewNullDecimal(decimal.NewFromInt(95))
	}
	return tr
}
