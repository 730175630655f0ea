package export

import (
	"DeepDistill/backend/go/internal/models"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const docPreviewLen = 500

// Source 是导出时使用的任务快照。Result.Text 必须是完整文本。
type Source struct {
	Filename string
	Result   *models.ProcessingResult
}

func (s Source) analysis() *models.Analysis {
	if s.Result == nil || s.Result.Analysis == nil {
		return &models.Analysis{}
	}
	return s.Result.Analysis
}

func (s Source) sourceType() string {
	if s.Result == nil || s.Result.Category == "" {
		return "未知"
	}
	return string(s.Result.Category)
}

func (s Source) text() string {
	if s.Result == nil {
		return ""
	}
	return s.Result.Text
}

// Document 是一份待上传的 Markdown 文档。
type Document struct {
	Title    string
	Markdown string
	IsRaw    bool
}

// mdBuilder 按行拼接 Markdown。
type mdBuilder struct {
	lines []string
}

func (b *mdBuilder) add(lines ...string) {
	b.lines = append(b.lines, lines...)
}

func (b *mdBuilder) String() string {
	return strings.Join(b.lines, "\n")
}

// BuildDoc 生成普通文档：摘要、核心观点、关键词以及原始文本预览。
func BuildDoc(src Source, title string) Document {
	a := src.analysis()
	var b mdBuilder
	b.add("# "+title, "")
	if a.Summary != "" {
		b.add("## 摘要", "", a.Summary, "")
	}
	if len(a.KeyPoints) > 0 {
		b.add("## 核心观点", "")
		for _, p := range a.KeyPoints {
			b.add("- " + p)
		}
		b.add("")
	}
	if len(a.Keywords) > 0 {
		b.add("## 关键词", "", backticked(a.Keywords, ""), "")
	}
	if text := src.text(); text != "" {
		preview := truncateRunes(text, docPreviewLen)
		n := utf8.RuneCountInString(text)
		if n > docPreviewLen {
			preview += "..."
		}
		b.add("---", "", "## 原始文本预览", "",
			fmt.Sprintf("> 完整原始文本请查看同目录下的 **[源文件]** 文档（共 %d 字符）", n), "",
			preview, "")
	}
	return Document{Title: title, Markdown: b.String()}
}

// BuildSkill 生成 Skill 文档，用于沉淀成可复用的知识卡片。
func BuildSkill(src Source, title string, now time.Time) Document {
	a := src.analysis()
	var b mdBuilder
	b.add("# SKILL: "+title, "")
	if a.Summary != "" {
		b.add("> **核心摘要**: "+a.Summary, "")
	}
	if len(a.Keywords) > 0 {
		b.add("**标签**: "+backticked(a.Keywords, "#"), "")
	}
	if len(a.KeyPoints) > 0 {
		b.add("## 知识要点", "")
		for i, p := range a.KeyPoints {
			b.add(fmt.Sprintf("%d. %s", i+1, p))
		}
		b.add("")
	}
	if sections := a.Structure.Sections; len(sections) > 0 {
		b.add("## 详细内容", "")
		for _, s := range sections {
			heading := s.Heading
			if heading == "" {
				heading = "未命名"
			}
			b.add("### "+heading, "", s.Content, "")
		}
	}
	b.add("## 实践指南", "",
		"1. 快速浏览核心摘要了解主旨",
		"2. 根据关键词标签关联相关知识",
		"3. 深入阅读感兴趣的章节",
		"4. 将知识要点应用到实际项目中",
		"")
	if len(a.Keywords) > 0 {
		b.add("## 关联知识", "")
		for i, kw := range a.Keywords {
			if i == 5 {
				break
			}
			b.add(fmt.Sprintf("- 搜索: `%s` 查找相关内容", kw))
		}
		b.add("")
	}
	length := 0
	if src.Result != nil {
		length = src.Result.TextLength
	}
	b.add("---", "", "## 元信息", "",
		fmt.Sprintf("- **来源文件**: `%s`", src.Filename),
		"- **文件类型**: "+src.sourceType(),
		fmt.Sprintf("- **提取文本长度**: %d 字符", length),
		"- **生成时间**: "+now.UTC().Format("2006-01-02"),
		"")
	return Document{Title: title + " [SKILL]", Markdown: b.String()}
}

// BuildRaw 生成源文件文档，完整保留提取出的原始文本。
func BuildRaw(src Source, title string, now time.Time) Document {
	text := src.text()
	body := text
	if body == "" {
		body = "（无提取文本）"
	}
	var b mdBuilder
	b.add("# "+title+" 源文件", "",
		"> **这是原始提取文本（未经 AI 加工），完整保留了源内容。**", "",
		"---", "",
		fmt.Sprintf("- **来源文件**: `%s`", src.Filename),
		"- **文件类型**: "+src.sourceType(),
		fmt.Sprintf("- **文本长度**: %d 字符", utf8.RuneCountInString(text)),
		"- **提取时间**: "+now.UTC().Format("2006-01-02 15:04"),
		"",
		"---", "",
		"## 原始文本", "",
		body, "")
	return Document{Title: title + " [源文件]", Markdown: b.String(), IsRaw: true}
}

func backticked(words []string, prefix string) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = "`" + prefix + w + "`"
	}
	return strings.Join(parts, " ")
}
