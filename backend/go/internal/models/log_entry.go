package models

// RequestInfo 存储了关于 HTTP 请求的上下文信息，由访问日志中间件写入日志字段。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`        // 错误分类，例如 "timeout", "extraction"
	Stage      string `json:"stage,omitempty"`       // 出错的处理阶段
	StatusCode int    `json:"status_code,omitempty"` // 相关的HTTP状态码
}
