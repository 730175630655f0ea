// Package faults 定义了处理管线的错误分类。
//
// 每个致命或可降级的错误都带有一个 Kind，编排器据此决定任务走向，
// 对外返回的错误信息则经过 Sanitize 处理，避免泄露凭证和本机路径。
package faults

import (
	"DeepDistill/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind 是错误的分类。
type Kind string

const (
	KindUnsupportedFormat     Kind = "unsupported_format"
	KindExtraction            Kind = "extraction"
	KindEnhancement           Kind = "enhancement"
	KindAllProvidersExhausted Kind = "all_providers_exhausted"
	KindExport                Kind = "export"
	KindTimeout               Kind = "timeout"
	KindAdmissionRejected     Kind = "admission_rejected"
	KindNotFound              Kind = "not_found"
	KindInternal              Kind = "internal"
)

// Error 是带分类和阶段信息的错误。
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Stage != "" {
		sb.WriteString(e.Stage)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建一个分类错误。
func New(kind Kind, stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

// Wrap 用分类包装一个底层错误。err 为 nil 时返回 nil。
func Wrap(kind Kind, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Wrapf 用分类和附加说明包装一个底层错误。
func Wrapf(kind Kind, stage string, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// Rejected 创建一个准入拒绝错误。
func Rejected(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAdmissionRejected, Stage: "admission", Message: fmt.Sprintf(format, args...)}
}

// Timeout 创建一个超时错误，stage 标明是哪一级超时。
func Timeout(stage string, err error) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Message: "deadline exceeded", Err: err}
}

// KindOf 返回错误链上最近的分类。
// 未分类的 context.DeadlineExceeded 视为超时，其他未分类错误视为 internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is 判断错误是否属于指定分类。
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// StageOf 返回错误链上最近的阶段名称。
func StageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`)
	paramPattern  = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?key|secret[_-]?key|secret|token|password|passwd|key)=([^&\s"']+)`)
	secretPattern = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{8,}|AIza[0-9A-Za-z_\-]{20,}|hf_[A-Za-z0-9]{16,})`)
	unixPath      = regexp.MustCompile(`(^|[\s'"(=\[])(/[^\s'"():,\]]+)`)
	windowsPath   = regexp.MustCompile(`\b[A-Za-z]:\\[^\s'"():,]*`)
)

// Sanitize 生成可以对外展示的错误信息：去掉凭证、令牌和本机文件路径。
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage 对任意文本执行与 Sanitize 相同的脱敏规则。
func SanitizeMessage(msg string) string {
	msg = bearerPattern.ReplaceAllString(msg, "Bearer [redacted]")
	msg = paramPattern.ReplaceAllString(msg, "$1=[redacted]")
	msg = secretPattern.ReplaceAllString(msg, "[redacted]")
	msg = unixPath.ReplaceAllString(msg, "$1[path]")
	msg = windowsPath.ReplaceAllString(msg, "[path]")
	return msg
}

// Info 把错误转换为结构化的 ErrorInfo，消息已经过脱敏。
func Info(err error) models.ErrorInfo {
	return models.ErrorInfo{
		Message: Sanitize(err),
		Kind:    string(KindOf(err)),
		Stage:   StageOf(err),
	}
}
