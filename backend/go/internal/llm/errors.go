package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind 是提供商调用失败的分类。
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrAuth        ErrorKind = "auth"
	ErrServer      ErrorKind = "server"
	ErrBadRequest  ErrorKind = "bad_request"
	ErrEmpty       ErrorKind = "empty_response"
	ErrUnknown     ErrorKind = "unknown"
)

// Error 是提供商调用失败时返回的错误。
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 判断错误是否为瞬时故障（超时、限流、服务端错误、网络错误）。
// 认证失败和请求本身不合法时重试没有意义，直接切换到下一个提供商。
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case ErrTimeout, ErrRateLimited, ErrServer, ErrUnknown, ErrEmpty:
		return true
	}
	return false
}

// KindFromStatus 根据 HTTP 状态码给出分类。
func KindFromStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrServer
	case code >= 400:
		return ErrBadRequest
	}
	return ErrUnknown
}

// classify 把底层错误包装为 *Error。status 为 0 时根据错误内容推断。
func classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	e := &Error{Provider: provider, StatusCode: status, Err: err}
	switch {
	case status != 0:
		e.Kind = KindFromStatus(status)
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = ErrTimeout
	default:
		e.Kind = kindFromMessage(err)
	}
	return e
}

// kindFromMessage 对没有结构化状态码的错误（如 gRPC 客户端）做文本推断。
func kindFromMessage(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlineexceeded") || strings.Contains(msg, "timeout"):
		return ErrTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "resourceexhausted") || strings.Contains(msg, "rate limit"):
		return ErrRateLimited
	case strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permissiondenied") ||
		strings.Contains(msg, "api key not valid") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return ErrAuth
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "internal") || strings.Contains(msg, "503") || strings.Contains(msg, "502"):
		return ErrServer
	case strings.Contains(msg, "invalidargument"):
		return ErrBadRequest
	}
	return ErrUnknown
}
