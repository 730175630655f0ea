package models

// Category 是格式路由给出的内容类别。
type Category string

const (
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryWebpage  Category = "webpage"
)

// SupportsVisual 判断该类别是否可以进行视觉增强分析。
func (c Category) SupportsVisual() bool {
	return c == CategoryVideo || c == CategoryImage
}

// Intent 表示用户的处理意图：提炼内容，或同时分析视觉风格。
type Intent string

const (
	IntentContent Intent = "content"
	IntentStyle   Intent = "style"
)

// DocType 决定导出哪种文档：普通文档、Skill 文档或者两者都导出。
type DocType string

const (
	DocTypeDoc   DocType = "doc"
	DocTypeSkill DocType = "skill"
	DocTypeBoth  DocType = "both"
)

// ExportFormat 是导出文件的格式。
type ExportFormat string

const (
	ExportFormatDoc   ExportFormat = "doc"   // 在线文档 (Markdown)
	ExportFormatWord  ExportFormat = "word"  // .docx
	ExportFormatExcel ExportFormat = "excel" // .xlsx
)

// Valid 判断导出格式是否受支持。
func (f ExportFormat) Valid() bool {
	return f == ExportFormatDoc || f == ExportFormatWord || f == ExportFormatExcel
}

// Options 是提交时捕获的处理选项快照，任务开始后不可修改。
type Options struct {
	Intent       Intent       `json:"intent"`
	OutputFormat string       `json:"output_format"` // 本地渲染格式: markdown | json
	DocType      DocType      `json:"doc_type"`
	ExportFormat ExportFormat `json:"export_format"`
	Category     string       `json:"category,omitempty"` // 导出分类，为空时自动推断
	AutoExport   bool         `json:"auto_export"`
}

// Normalize 为缺省字段填充默认值。
func (o Options) Normalize() Options {
	if o.Intent != IntentStyle {
		o.Intent = IntentContent
	}
	if o.OutputFormat != "json" {
		o.OutputFormat = "markdown"
	}
	switch o.DocType {
	case DocTypeSkill, DocTypeBoth:
	default:
		o.DocType = DocTypeDoc
	}
	if !o.ExportFormat.Valid() {
		o.ExportFormat = ExportFormatDoc
	}
	return o
}

// Section 是内容结构中的一个章节。
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Structure 描述内容的整体结构。
type Structure struct {
	Type     string    `json:"type"`
	Sections []Section `json:"sections"`
}

// Analysis 是 AI 分析阶段产出的结构化知识。
type Analysis struct {
	Summary    string    `json:"summary"`
	KeyPoints  []string  `json:"key_points"`
	Keywords   []string  `json:"keywords"`
	Structure  Structure `json:"structure"`
	ParseError bool      `json:"parse_error,omitempty"`
	Provider   string    `json:"provider,omitempty"`
}

// Clone 返回分析结果的深拷贝。
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.KeyPoints = append([]string(nil), a.KeyPoints...)
	c.Keywords = append([]string(nil), a.Keywords...)
	c.Structure.Sections = append([]Section(nil), a.Structure.Sections...)
	return &c
}

// Scene 是视觉分析检测到的一个场景片段。
type Scene struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description,omitempty"`
}

// VisualFindings 是视觉增强阶段的输出。
type VisualFindings struct {
	StyleSummary   string            `json:"style_summary,omitempty"`
	Style          map[string]string `json:"style,omitempty"`
	Scenes         []Scene           `json:"scenes,omitempty"`
	Objects        []string          `json:"objects,omitempty"`
	Cinematography string            `json:"cinematography,omitempty"`
}

// Clone 返回视觉分析结果的深拷贝。
func (v *VisualFindings) Clone() *VisualFindings {
	if v == nil {
		return nil
	}
	c := *v
	if v.Style != nil {
		c.Style = make(map[string]string, len(v.Style))
		for k, val := range v.Style {
			c.Style[k] = val
		}
	}
	c.Scenes = append([]Scene(nil), v.Scenes...)
	c.Objects = append([]string(nil), v.Objects...)
	return &c
}

// EnhancementResult 记录增强阶段的结果。失败时 Findings 为空、Error 记录原因。
type EnhancementResult struct {
	Findings *VisualFindings `json:"findings,omitempty"`
	Skipped  bool            `json:"skipped,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProcessingResult 是任务成功后的完整输出。
// Text 在内部保存完整文本，对外视图中会被截断。
type ProcessingResult struct {
	Category       Category           `json:"source_type"`
	Text           string             `json:"extracted_text"`
	TextLength     int                `json:"extracted_text_length"`
	TextTruncated  bool               `json:"extracted_text_truncated,omitempty"`
	Analysis       *Analysis          `json:"ai_result"`
	Enhancement    *EnhancementResult `json:"enhancement,omitempty"`
	RenderFormat   string             `json:"render_format,omitempty"`
	Rendered       string             `json:"rendered,omitempty"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
}

// Clone 返回处理结果的深拷贝。
func (r *ProcessingResult) Clone() *ProcessingResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Analysis = r.Analysis.Clone()
	if r.Enhancement != nil {
		e := *r.Enhancement
		e.Findings = r.Enhancement.Findings.Clone()
		c.Enhancement = &e
	}
	return &c
}

// ExportedDoc 是一次导出中生成的单个文档。
type ExportedDoc struct {
	DocID  string `json:"doc_id"`
	DocURL string `json:"doc_url"`
	Title  string `json:"title"`
	IsRaw  bool   `json:"is_raw,omitempty"`
}

// ExportReceipt 是导出协作方返回的回执。
type ExportReceipt struct {
	Provider  string        `json:"provider"`
	Category  string        `json:"category"`
	Format    ExportFormat  `json:"format"`
	FolderURL string        `json:"folder_url,omitempty"`
	Documents []ExportedDoc `json:"documents"`
}

// ExportResult 记录导出的结果，成功与失败二选一。
type ExportResult struct {
	Success bool           `json:"success"`
	Receipt *ExportReceipt `json:"receipt,omitempty"`
	Error   *ErrorInfo     `json:"error,omitempty"`
}

// Clone 返回导出结果的深拷贝。
func (e *ExportResult) Clone() *ExportResult {
	if e == nil {
		return nil
	}
	c := *e
	if e.Receipt != nil {
		r := *e.Receipt
		r.Documents = append([]ExportedDoc(nil), e.Receipt.Documents...)
		c.Receipt = &r
	}
	if e.Error != nil {
		ei := *e.Error
		c.Error = &ei
	}
	return &c
}
