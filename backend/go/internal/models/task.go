package models

import "time"

// TaskStatus 表示任务在处理管线中的状态。
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"     // 已接收，等待并发槽位
	StatusProcessing TaskStatus = "processing" // 正在执行管线阶段
	StatusCompleted  TaskStatus = "completed"  // 处理成功
	StatusFailed     TaskStatus = "failed"     // 处理失败
)

// IsTerminal 判断状态是否为终态（completed 或 failed）。
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid 判断是否为已知状态，用于解析查询参数。
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo 判断状态迁移是否合法。状态只能单向推进：
// queued -> processing -> completed|failed。
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == next {
		return !s.IsTerminal()
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Task 是编排的基本单位，对应一次提交的处理请求。
type Task struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	SourceURL string     `json:"source_url,omitempty"`
	Size      int64      `json:"size"`
	Category  Category   `json:"category,omitempty"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	StepLabel string     `json:"step_label"`
	Options   Options    `json:"options"`

	Result       *ProcessingResult `json:"result,omitempty"`
	ExportResult *ExportResult     `json:"export_result,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// SourcePath 是待处理文件在本机的路径，不对外暴露。
	SourcePath string `json:"-"`
	// TempFiles 是任务拥有的临时文件，任务被清理时一并删除。
	TempFiles []string `json:"-"`
}

// Clone 返回任务的深拷贝，调用方可以随意读取而不会与管线产生数据竞争。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.TempFiles != nil {
		c.TempFiles = append([]string(nil), t.TempFiles...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	c.Result = t.Result.Clone()
	c.ExportResult = t.ExportResult.Clone()
	return &c
}

// TaskView 是对外序列化的任务视图，其中的大文本字段被截断为预览。
type TaskView struct {
	ID           string            `json:"id"`
	Filename     string            `json:"filename"`
	SourceURL    string            `json:"source_url,omitempty"`
	Category     Category          `json:"category,omitempty"`
	Status       TaskStatus        `json:"status"`
	Progress     int               `json:"progress"`
	StepLabel    string            `json:"step_label"`
	Options      Options           `json:"options"`
	Result       *ProcessingResult `json:"result"`
	ExportResult *ExportResult     `json:"export_result"`
	Error        *string           `json:"error"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// View 生成对外视图。previewLen <= 0 时不截断。
func (t *Task) View(previewLen int) TaskView {
	v := TaskView{
		ID:           t.ID,
		Filename:     t.Filename,
		SourceURL:    t.SourceURL,
		Category:     t.Category,
		Status:       t.Status,
		Progress:     t.Progress,
		StepLabel:    t.StepLabel,
		Options:      t.Options,
		ExportResult: t.ExportResult.Clone(),
		ErrorKind:    t.ErrorKind,
		CreatedAt:    t.CreatedAt,
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		v.FinishedAt = &ts
	}
	if t.Error != "" {
		msg := t.Error
		v.Error = &msg
	}
	if t.Result != nil {
		r := t.Result.Clone()
		r.Text, r.TextTruncated = Preview(r.Text, previewLen)
		r.Rendered, _ = Preview(r.Rendered, previewLen)
		v.Result = r
	}
	return v
}

// Preview 按字符（rune）截断文本，返回截断后的文本以及是否发生了截断。
func Preview(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "...", true
		}
		count++
	}
	return s, false
}
