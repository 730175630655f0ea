package api

import (
	"DeepDistill/backend/go/internal/events"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// TaskEventsHandler 以 SSE 推送任务快照，直到任务进入终态或客户端断开。
//
// 事件来自进程内 Hub；每个心跳周期还会回读一次注册表，
// 因此 Hub 丢弃的中间快照不影响最终状态的送达。
func (a *API) TaskEventsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := a.service.GetStatus(id); err != nil {
		a.respondError(c, err)
		return
	}

	var ch <-chan events.Event
	if a.hub != nil {
		sub, cancel := a.hub.Subscribe(id)
		defer cancel()
		ch = sub
	}
	// 订阅之后再读一次快照，订阅之前发生的变化不会丢失
	task, err := a.service.GetStatus(id)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	first := events.NewEvent(task, a.previewLen, time.Now())
	c.SSEvent("task", first)
	c.Writer.Flush()
	if first.Terminal {
		return
	}

	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Hub 已关闭，退回到只读注册表
				ch = nil
				return true
			}
			c.SSEvent("task", ev)
			return !ev.Terminal
		case <-ticker.C:
			t, err := a.service.GetStatus(id)
			if err != nil {
				c.SSEvent("error", errorBody(err))
				return false
			}
			ev := events.NewEvent(t, a.previewLen, time.Now())
			c.SSEvent("task", ev)
			return !ev.Terminal
		case <-ctx.Done():
			return false
		}
	})
}
