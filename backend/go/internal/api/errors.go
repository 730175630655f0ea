package api

import (
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/internal/orchestrator"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusFor 把分类错误映射到 HTTP 状态码。
func statusFor(err error) int {
	if errors.Is(err, orchestrator.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	switch faults.KindOf(err) {
	case faults.KindAdmissionRejected:
		if faults.StageOf(err) == "registry" {
			return http.StatusServiceUnavailable
		}
		return http.StatusRequestEntityTooLarge
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case faults.KindExport:
		return http.StatusBadGateway
	case faults.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError 写出脱敏后的错误。
func (a *API) respondError(c *gin.Context, err error) {
	info := faults.Info(err)
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.WithError(info).Error("请求处理失败")
	} else {
		a.logger.WithError(info).Warn("请求被拒绝")
	}
	if code == http.StatusServiceUnavailable {
		c.Header("Retry-After", "30")
	}
	c.JSON(code, gin.H{"error": info.Message, "kind": info.Kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// errorBody 用于 SSE 流中的错误事件。
func errorBody(err error) models.ErrorInfo {
	return faults.Info(err)
}
