// Package events 把任务快照的变化分发给进程内订阅者（SSE）和外部事件流（Kafka / Redis）。
//
// Registry 是状态的唯一来源，这里只做通知：订阅者收到的总是某个时刻的完整快照，
// 慢的订阅者会丢掉中间快照，但一定能收到最新的一个。
package events

import (
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/logger"
	"context"
	"sync"
	"time"
)

const (
	subscriberBuffer = 8
	sinkTimeout      = 5 * time.Second
)

// Event 是一次任务快照变化。
type Event struct {
	TaskID    string            `json:"task_id"`
	Status    models.TaskStatus `json:"status"`
	Progress  int               `json:"progress"`
	StepLabel string            `json:"step_label"`
	Terminal  bool              `json:"terminal"`
	Time      time.Time         `json:"time"`
	Task      models.TaskView   `json:"task"`
}

// NewEvent 从任务快照构造事件，大文本字段截断为 previewLen 个字符。
func NewEvent(t *models.Task, previewLen int, now time.Time) Event {
	return Event{
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		StepLabel: t.StepLabel,
		Terminal:  t.Status.IsTerminal(),
		Time:      now,
		Task:      t.View(previewLen),
	}
}

// Sink 是外部事件出口。
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Hub 管理订阅者并异步转发到外部出口。Publish 永不阻塞，可以在任务锁内调用。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	closed bool

	previewLen int
	sinks      []Sink
	queue      chan Event
	wg         sync.WaitGroup
	log        *logger.Logger
	now        func() time.Time
}

// Option 配置 Hub。
type Option func(*Hub)

// WithSinks 添加外部事件出口。
func WithSinks(sinks ...Sink) Option {
	return func(h *Hub) { h.sinks = append(h.sinks, sinks...) }
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// NewHub 创建 Hub。bufferSize 是外部出口的异步队列长度。
func NewHub(previewLen, bufferSize int, opts ...Option) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	h := &Hub{
		subs:       make(map[string]map[chan Event]struct{}),
		previewLen: previewLen,
		queue:      make(chan Event, bufferSize),
		log:        logger.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.sinks) > 0 {
		h.wg.Add(1)
		go h.forward()
	}
	return h
}

// Subscribe 订阅某个任务的事件。返回的 cancel 必须被调用以释放订阅。
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[taskID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, taskID)
				}
			}
		})
	}
}

// Subscribers 返回某个任务当前的订阅者数量。
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

// PublishTask 是 registry.Hook 的实现。
func (h *Hub) PublishTask(t *models.Task) {
	h.Publish(NewEvent(t, h.previewLen, h.now()))
}

// Publish 把事件投递给订阅者和外部出口。
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subs[ev.TaskID] {
		deliverLatest(ch, ev)
	}
	if len(h.sinks) == 0 {
		return
	}
	select {
	case h.queue <- ev:
	default:
		h.log.WithTask(ev.TaskID).Warn("事件队列已满，丢弃事件")
	}
}

// deliverLatest 非阻塞发送；缓冲区满时丢弃最旧的事件，保证最新快照能够送达。
func deliverLatest(ch chan Event, ev Event) {
	for i := 0; i < 2; i++ {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) forward() {
	defer h.wg.Done()
	for ev := range h.queue {
		for _, s := range h.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Publish(ctx, ev); err != nil {
				h.log.WithTask(ev.TaskID).WithField("sink", s.Name()).Warn("事件投递失败: " + err.Error())
			}
			cancel()
		}
	}
}

// Close 关闭所有订阅，等待排队的事件发往外部出口后关闭出口。可以重复调用。
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, id)
	}
	close(h.queue)
	h.mu.Unlock()

	h.wg.Wait()
	var firstErr error
	for _, s := range h.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
