// Package statusapi 本地只读状态接口，外加一个下单入口（供脚本或其它工具调用）
package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/tradewatch/internal/command"
	"github.com/betbot/tradewatch/internal/derive"
	"github.com/betbot/tradewatch/internal/domain"
	"github.com/betbot/tradewatch/internal/state"
	"github.com/betbot/tradewatch/pkg/logger"
)

// Source 会话能力（*session.Session 满足）
type Source interface {
	Store() *state.Store
	Submit(ctx context.Context, draft domain.TradeDraft) (*command.Receipt, error)
	Refresh(ctx context.Context) error
}

type Server struct {
	src Source
}

func New(src Source) *Server {
	return &Server{src: src}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/state", s.handleState)
	api.POST("/refresh", s.handleRefresh)
	api.GET("/logs", s.handleLogs)

	trades := api.Group("/trades")
	trades.GET("/open", s.handleOpen)
	trades.GET("/closed", s.handleClosed)
	trades.POST("", s.handleSubmit)

	return r
}

// StartAsync 非阻塞启动，ctx 结束时优雅关闭
func StartAsync(ctx context.Context, listenAddr string, src Source) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	hs := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           New(src).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[StatusAPI] 服务异常退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	logger.Infof("[StatusAPI] 监听 %s", hs.Addr)
	return hs, nil
}

func (s *Server) summary() derive.Summary {
	return derive.Summarize(s.src.Store().View())
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.summary())
}

func (s *Server) handleOpen(c *gin.Context) {
	sum := s.summary()
	c.JSON(http.StatusOK, gin.H{
		"status":       sum.Status,
		"status_label": sum.StatusLabel,
		"trades":       sum.Open,
	})
}

func (s *Server) handleClosed(c *gin.Context) {
	sum := s.summary()
	c.JSON(http.StatusOK, gin.H{
		"trades":   sum.Closed,
		"realized": sum.Realized,
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	logs := s.src.Store().View().Logs
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(logs) {
			logs = logs[:n]
		}
	}
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleRefresh(c *gin.Context) {
	err := s.src.Refresh(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"applied": true, "version": s.src.Store().Version()})
	case errors.Is(err, domain.ErrStaleSnapshot):
		c.JSON(http.StatusOK, gin.H{"applied": false, "version": s.src.Store().Version()})
	case errors.Is(err, domain.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	receipt, err := s.src.Submit(c.Request.Context(), req.draft())
	var ve *domain.ValidationError
	var se *domain.SubmissionError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"trade_id": receipt.TradeID(), "trade": receipt.Trade})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"detail": ve.Error(), "field": ve.Field})
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, gin.H{"detail": se.Error(), "status_code": se.StatusCode})
	case errors.Is(err, domain.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"detail": msg})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[StatusAPI] %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
