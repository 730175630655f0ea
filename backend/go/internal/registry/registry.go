// Package registry 保存进程内所有任务，是任务状态的唯一来源。
//
// 每个任务的修改都在该任务自己的锁内完成：先克隆、再修改、最后校验状态机约束，
// 校验失败时原任务保持不变。读操作返回深拷贝，调用方不会与管线产生数据竞争。
package registry

import (
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound 表示任务不存在（从未创建或已被清理）。
	ErrNotFound = faults.New(faults.KindNotFound, "registry", "task not found")
	// ErrTerminal 表示任务已经处于终态，不允许再修改。
	ErrTerminal = errors.New("task is already terminal")
	// ErrNotTerminal 表示任务仍在处理中，不能被移除。
	ErrNotTerminal = errors.New("task is still active")
)

// Filter 是 List 的查询条件。
type Filter struct {
	Status models.TaskStatus // 为空时不过滤
	Limit  int               // <= 0 时不限制
}

// Hook 在任务快照发生变化后被调用，参数是变化后的深拷贝。
type Hook func(t *models.Task)

type entry struct {
	mu   sync.Mutex
	task *models.Task
	seq  uint64 // 插入序号，用于稳定排序
}

// Registry 是有容量上限的任务表。
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	seq      uint64
	capacity int

	now      func() time.Time
	onChange Hook
	onEvict  Hook
}

// Option 配置 Registry。
type Option func(*Registry)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithChangeHook 设置任务变化回调，用于推送进度事件。
// 回调在任务锁内同步执行，不能阻塞，也不能回调 Registry。
func WithChangeHook(h Hook) Option {
	return func(r *Registry) { r.onChange = h }
}

// WithEvictHook 设置任务被移除后的回调，用于删除任务拥有的临时文件。
func WithEvictHook(h Hook) Option {
	return func(r *Registry) { r.onEvict = h }
}

// New 创建容量为 capacity 的 Registry。capacity <= 0 表示不限制。
func New(capacity int, opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create 登记一个新任务并返回其快照。任务被强制置为 queued、进度 0，并分配新的 ID。
// 容量已满时淘汰最早进入终态的任务；没有可淘汰的任务时返回 AdmissionRejected 错误。
func (r *Registry) Create(t *models.Task) (*models.Task, error) {
	out, err := r.CreateBatch([]*models.Task{t})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateBatch 原子地登记一批任务：要么全部创建，要么一个都不创建。
func (r *Registry) CreateBatch(ts []*models.Task) ([]*models.Task, error) {
	if len(ts) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	victims, err := r.makeRoomLocked(len(ts))
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	now := r.now()
	out := make([]*models.Task, len(ts))
	for i, t := range ts {
		task := t.Clone()
		task.ID = r.newIDLocked()
		task.Status = models.StatusQueued
		task.Progress = 0
		if task.StepLabel == "" {
			task.StepLabel = "排队中"
		}
		task.CreatedAt = now
		task.StartedAt, task.FinishedAt = nil, nil
		task.Result, task.ExportResult = nil, nil
		task.Error, task.ErrorKind = "", ""

		r.seq++
		r.entries[task.ID] = &entry{task: task, seq: r.seq}
		out[i] = task.Clone()
	}
	r.mu.Unlock()

	for _, v := range victims {
		r.evicted(v)
	}
	for _, t := range out {
		r.changed(t)
	}
	return out, nil
}

// makeRoomLocked 为 n 个新任务腾出空间，返回被淘汰的任务。调用方持有 r.mu。
func (r *Registry) makeRoomLocked(n int) ([]*models.Task, error) {
	if r.capacity <= 0 {
		return nil, nil
	}
	if n > r.capacity {
		return nil, faults.New(faults.KindAdmissionRejected, "registry", fmt.Sprintf("batch of %d tasks exceeds registry capacity %d", n, r.capacity))
	}
	need := len(r.entries) + n - r.capacity
	if need <= 0 {
		return nil, nil
	}

	type candidate struct {
		id       string
		finished time.Time
		seq      uint64
	}
	var terminal []candidate
	for id, e := range r.entries {
		e.mu.Lock()
		if e.task.Status.IsTerminal() {
			finished := e.task.CreatedAt
			if e.task.FinishedAt != nil {
				finished = *e.task.FinishedAt
			}
			terminal = append(terminal, candidate{id: id, finished: finished, seq: e.seq})
		}
		e.mu.Unlock()
	}
	if len(terminal) < need {
		return nil, faults.New(faults.KindAdmissionRejected, "registry", fmt.Sprintf("task registry is full (%d tasks, none finished)", len(r.entries)))
	}
	sort.Slice(terminal, func(i, j int) bool {
		if !terminal[i].finished.Equal(terminal[j].finished) {
			return terminal[i].finished.Before(terminal[j].finished)
		}
		return terminal[i].seq < terminal[j].seq
	})

	victims := make([]*models.Task, 0, need)
	for _, c := range terminal[:need] {
		e := r.entries[c.id]
		e.mu.Lock()
		victims = append(victims, e.task.Clone())
		e.mu.Unlock()
		delete(r.entries, c.id)
	}
	return victims, nil
}

func (r *Registry) newIDLocked() string {
	for {
		id := uuid.NewString()
		if _, exists := r.entries[id]; !exists {
			return id
		}
	}
}

// Get 返回任务快照。
func (r *Registry) Get(id string) (*models.Task, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// List 按创建时间倒序返回符合条件的任务快照。
func (r *Registry) List(f Filter) []*models.Task {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	var out []*models.Task
	for _, e := range entries {
		e.mu.Lock()
		match := f.Status == "" || e.task.Status == f.Status
		var snap *models.Task
		if match {
			snap = e.task.Clone()
		}
		e.mu.Unlock()
		if !match {
			continue
		}
		out = append(out, snap)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Update 在任务锁内对任务的副本执行 fn，校验通过后替换原任务。
//
// 校验规则：状态只能单向推进；非终态时进度不能回退；completed 必须带结果；failed 必须带错误。
// 任务已处于终态时返回 ErrTerminal，fn 不会被调用。
func (r *Registry) Update(id string, fn func(t *models.Task) error) (*models.Task, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	cur := e.task
	if cur.Status.IsTerminal() {
		e.mu.Unlock()
		return nil, ErrTerminal
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := validate(cur, next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	now := r.now()
	if next.Status == models.StatusProcessing && next.StartedAt == nil {
		next.StartedAt = &now
	}
	if next.Status.IsTerminal() && next.FinishedAt == nil {
		next.FinishedAt = &now
	}
	e.task = next
	snap := next.Clone()
	r.changed(snap)
	e.mu.Unlock()
	return snap, nil
}

// SetExportResult 记录导出结果。导出独立于任务状态，已完成的任务也可以更新。
func (r *Registry) SetExportResult(id string, res *models.ExportResult) (*models.Task, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	e.task.ExportResult = res.Clone()
	snap := e.task.Clone()
	r.changed(snap)
	e.mu.Unlock()
	return snap, nil
}

// Evict 移除一个终态任务。处理中的任务返回 ErrNotTerminal。
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	e.mu.Lock()
	terminal := e.task.Status.IsTerminal()
	snap := e.task.Clone()
	e.mu.Unlock()
	if !terminal {
		r.mu.Unlock()
		return ErrNotTerminal
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.evicted(snap)
	return nil
}

// Expired 返回在 before 之前进入终态的任务 ID。
func (r *Registry) Expired(before time.Time) []string {
	var ids []string
	for _, t := range r.List(Filter{}) {
		if t.Status.IsTerminal() && t.FinishedAt != nil && t.FinishedAt.Before(before) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// ReferencedFiles 返回仍在注册表中的任务引用的所有本地文件。
func (r *Registry) ReferencedFiles() map[string]bool {
	files := make(map[string]bool)
	for _, t := range r.List(Filter{}) {
		if t.SourcePath != "" {
			files[t.SourcePath] = true
		}
		for _, f := range t.TempFiles {
			files[f] = true
		}
	}
	return files
}

// Len 返回当前任务数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Counts 按状态统计任务数。
func (r *Registry) Counts() map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int)
	for _, t := range r.List(Filter{}) {
		counts[t.Status]++
	}
	return counts
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) changed(t *models.Task) {
	if r.onChange != nil {
		r.onChange(t)
	}
}

func (r *Registry) evicted(t *models.Task) {
	if r.onEvict != nil {
		r.onEvict(t)
	}
}

// validate 检查从 cur 到 next 的修改是否满足任务状态机约束。
func validate(cur, next *models.Task) error {
	if next.ID != cur.ID || !next.CreatedAt.Equal(cur.CreatedAt) {
		return fmt.Errorf("task %s: id and created_at are immutable", cur.ID)
	}
	if next.Status != cur.Status && !cur.Status.CanTransitionTo(next.Status) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", cur.ID, cur.Status, next.Status)
	}
	if next.Progress < cur.Progress {
		return fmt.Errorf("task %s: progress cannot decrease (%d -> %d)", cur.ID, cur.Progress, next.Progress)
	}
	if next.Progress > 100 {
		return fmt.Errorf("task %s: progress %d out of range", cur.ID, next.Progress)
	}
	switch next.Status {
	case models.StatusCompleted:
		if next.Result == nil {
			return fmt.Errorf("task %s: completed task must carry a result", cur.ID)
		}
		next.Error, next.ErrorKind = "", ""
	case models.StatusFailed:
		if next.Error == "" {
			return fmt.Errorf("task %s: failed task must carry an error", cur.ID)
		}
		next.Result = nil
	}
	return nil
}
