package fusion

import (
	"DeepDistill/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// rawTextLimit 是 Markdown 输出中附带的原始文本上限。
const rawTextLimit = 5000

// Document 是渲染的输入。
type Document struct {
	Filename       string
	Category       models.Category
	Text           string
	Analysis       *models.Analysis
	Enhancement    *models.EnhancementResult
	ElapsedSeconds float64
	CreatedAt      time.Time
	Warnings       []string
}

// Render 按 format 渲染文档，支持 "markdown" 与 "json"。
func Render(format string, doc Document) (string, error) {
	switch format {
	case "", "markdown":
		return Markdown(doc), nil
	case "json":
		return JSON(doc)
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// Stem 返回去掉扩展名的文件名。
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Markdown 渲染可读的 Markdown 报告。
func Markdown(doc Document) string {
	var b strings.Builder
	stem := Stem(doc.Filename)
	fmt.Fprintf(&b, "# %s\n\n", stem)
	fmt.Fprintf(&b, "> 来源: `%s` | 类型: %s | 处理耗时: %.2fs\n\n", doc.Filename, doc.Category, doc.ElapsedSeconds)

	if a := doc.Analysis; a != nil {
		if a.Summary != "" {
			b.WriteString("## 摘要\n\n" + a.Summary + "\n\n")
		}
		if len(a.KeyPoints) > 0 {
			b.WriteString("## 核心观点\n\n")
			for _, p := range a.KeyPoints {
				b.WriteString("- " + p + "\n")
			}
			b.WriteString("\n")
		}
		if len(a.Keywords) > 0 {
			tags := make([]string, len(a.Keywords))
			for i, kw := range a.Keywords {
				tags[i] = "`" + kw + "`"
			}
			b.WriteString("## 关键词\n\n" + strings.Join(tags, " ") + "\n\n")
		}
		if a.Structure.Type != "" || len(a.Structure.Sections) > 0 {
			b.WriteString("## 内容结构\n\n")
			if a.Structure.Type != "" {
				b.WriteString("**类型**: " + a.Structure.Type + "\n\n")
			}
			for _, s := range a.Structure.Sections {
				heading := s.Heading
				if heading == "" {
					heading = "未命名"
				}
				b.WriteString("### " + heading + "\n\n" + s.Content + "\n\n")
			}
		}
	}

	if doc.Text != "" {
		text := doc.Text
		if r := []rune(text); len(r) > rawTextLimit {
			text = string(r[:rawTextLimit]) + fmt.Sprintf("\n\n... (共 %d 字符，已截断)", len(r))
		}
		b.WriteString("---\n\n<details>\n<summary>原始提取文本</summary>\n\n" + text + "\n\n</details>\n\n")
	}

	warnings := doc.Warnings
	if doc.Enhancement != nil && doc.Enhancement.Error != "" {
		warnings = append(append([]string(nil), warnings...), "视觉增强失败: "+doc.Enhancement.Error)
	}
	if len(warnings) > 0 {
		b.WriteString("---\n\n## 处理警告\n\n")
		for _, w := range warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

type jsonSource struct {
	Filename string          `json:"filename"`
	Type     models.Category `json:"type"`
}

type jsonMetadata struct {
	ProcessingTimeSec float64  `json:"processing_time_sec"`
	CreatedAt         string   `json:"created_at,omitempty"`
	Errors            []string `json:"errors"`
}

type jsonDocument struct {
	Source        jsonSource             `json:"source"`
	ExtractedText string                 `json:"extracted_text"`
	AIAnalysis    *models.Analysis       `json:"ai_analysis"`
	VisualFinding *models.VisualFindings `json:"video_analysis"`
	Metadata      jsonMetadata           `json:"metadata"`
}

// JSON 渲染结构化 JSON 报告。
func JSON(doc Document) (string, error) {
	out := jsonDocument{
		Source:        jsonSource{Filename: doc.Filename, Type: doc.Category},
		ExtractedText: doc.Text,
		AIAnalysis:    doc.Analysis,
		Metadata: jsonMetadata{
			ProcessingTimeSec: doc.ElapsedSeconds,
			Errors:            append([]string{}, doc.Warnings...),
		},
	}
	if !doc.CreatedAt.IsZero() {
		out.Metadata.CreatedAt = doc.CreatedAt.Format(time.RFC3339)
	}
	if doc.Enhancement != nil {
		out.VisualFinding = doc.Enhancement.Findings
		if doc.Enhancement.Error != "" {
			out.Metadata.Errors = append(out.Metadata.Errors, "视觉增强失败: "+doc.Enhancement.Error)
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
