package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleSnapshot 快照序号落后于最新发出的序号，结果被丢弃
	ErrStaleSnapshot = errors.New("stale snapshot")
	// ErrClosed 会话已关闭，不再接受任何状态变更
	ErrClosed = errors.New("session closed")
)

// ValidationError 交易请求字段缺失或非法（发生在任何网络调用之前）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError 推送通道断开或无法建立
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FetchError 拉取快照失败；Store 保持不变
type FetchError struct {
	Endpoint   string
	StatusCode int // 0 表示没有拿到 HTTP 响应
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: http %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubmissionError 创建交易请求失败；不产生任何本地状态变更
type SubmissionError struct {
	StatusCode int
	Detail     string // 后端返回的 {"detail": "..."}
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("submit trade: http %d: %s", e.StatusCode, e.Detail)
	case e.StatusCode > 0:
		return fmt.Sprintf("submit trade: http %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("submit trade: %v", e.Err)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// MalformedEventError 推送消息无法解析，丢弃并记录
type MalformedEventError struct {
	Payload string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed push event (%s): %s", e.Reason, e.Payload)
}
