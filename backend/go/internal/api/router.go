package api

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/logger"
	"DeepDistill/backend/go/pkg/ratelimiter"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware 按客户端 IP 限流，超限时返回 429。
func RateLimitMiddleware(cfg config.RateLimiterConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := ratelimiter.NewKeyed(cfg.Rate, cfg.Capacity, 10*time.Minute)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 为每个请求记录一条结构化日志。
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		}).WithField("status", c.Writer.Status()).WithField("latency_ms", time.Since(start).Milliseconds())
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("请求完成")
			return
		}
		entry.Debug("请求完成")
	}
}

// RegisterRoutes 注册控制面的所有路由。提交类路由受限流保护。
func RegisterRoutes(router *gin.Engine, api *API, limiter gin.HandlerFunc) {
	router.GET("/health", api.HealthHandler)

	group := router.Group("/api")
	group.GET("/config", api.ConfigHandler)

	process := group.Group("/process")
	if limiter != nil {
		process.Use(limiter)
	}
	{
		process.POST("", api.ProcessFileHandler)
		process.POST("/batch", api.ProcessBatchHandler)
		process.POST("/url", api.ProcessURLHandler)
		process.POST("/local", api.ProcessLocalHandler)
	}

	tasks := group.Group("/tasks")
	{
		tasks.GET("", api.GetTasksHandler)
		tasks.GET("/:id", api.GetTaskHandler)
		tasks.GET("/:id/events", api.TaskEventsHandler)
		tasks.POST("/:id/export", api.ExportTaskHandler)
	}
}
