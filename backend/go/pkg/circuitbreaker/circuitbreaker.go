// Package circuitbreaker 为对外部协作服务（ASR、OCR、视觉分析、网页抓取）的调用提供熔断保护。
// 连续失败达到阈值后熔断器打开，在冷却期内直接拒绝调用，避免慢速故障拖垮整条管线。
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State 表示熔断器的状态。
type State int

const (
	// Closed 是初始状态，允许请求通过。
	Closed State = iota
	// Open 表示熔断器已跳闸，请求被直接拒绝。
	Open
	// HalfOpen 表示冷却期结束，允许试探请求检验服务是否恢复。
	HalfOpen
)

// String 返回状态的字符串表示。
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 在熔断器打开时返回。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker 是熔断器实现，可以被多个 goroutine 并发使用。
type Breaker struct {
	name             string
	failureThreshold uint32
	successThreshold uint32
	timeout          time.Duration

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
	now       func() time.Time

	onStateChange func(name string, from, to State)
}

// Option 用于配置 Breaker。
type Option func(*Breaker)

// WithStateChange 注册状态变化回调，通常用于记录日志。回调在持锁状态下调用，不应阻塞。
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithClock 替换时间源，用于测试。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New 创建一个熔断器。
//
// 参数:
//
//	name: 熔断器名称，出现在状态回调中。
//	failureThreshold: 打开熔断器所需的连续失败次数。
//	successThreshold: 半开状态下关闭熔断器所需的连续成功次数。
//	timeout: 打开状态持续多久后转为半开。
func New(name string, failureThreshold, successThreshold uint32, timeout time.Duration, opts ...Option) *Breaker {
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if successThreshold == 0 {
		successThreshold = 1
	}
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Do 在熔断保护下执行 fn。熔断器打开时不调用 fn，直接返回 ErrCircuitOpen。
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	b.advance()
	if b.state == Open {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	return err
}

// advance 在冷却期结束后把 Open 转为 HalfOpen。调用方必须持有锁。
func (b *Breaker) advance() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.timeout {
		b.setState(HalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(Closed)
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.setState(Open)
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
