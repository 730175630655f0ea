package analysis

import (
	"DeepDistill/backend/go/internal/models"
	"sort"
	"strings"
)

const systemPrompt = "你是一个专业的内容分析助手。请严格按照 JSON 格式输出分析结果，不要输出任何其他内容。确保 JSON 格式正确。"

const contentPlaceholder = "{{CONTENT}}"

const summarizeTemplate = `请分析以下内容，输出 JSON 格式的结构化结果。

## 要求
1. summary: 200 字以内的核心摘要
2. key_points: 3-7 条核心观点（每条一句话）
3. keywords: 5-10 个关键词/标签
4. structure: 内容的结构分析
   - type: 内容类型（教程/分析/叙事/演讲/对话/其他）
   - sections: 主要章节/段落列表

## 输出格式（严格 JSON）
{
  "summary": "...",
  "key_points": ["...", "..."],
  "keywords": ["...", "..."],
  "structure": {
    "type": "...",
    "sections": [
      {"heading": "...", "content": "..."}
    ]
  }
}

## 待分析内容
{{CONTENT}}
`

const styleTemplate = `请分析以下内容的表达风格与视觉风格，输出 JSON 格式的结构化结果。

## 要求
1. summary: 200 字以内的风格总结（色调、节奏、构图、语气）
2. key_points: 3-7 条可复用的风格要点
3. keywords: 5-10 个风格标签
4. structure: 内容的结构分析
   - type: 内容类型
   - sections: 主要段落及其风格特征

## 输出格式（严格 JSON）
{
  "summary": "...",
  "key_points": ["..."],
  "keywords": ["..."],
  "structure": {"type": "...", "sections": [{"heading": "...", "content": "..."}]}
}

## 待分析内容
{{CONTENT}}
`

// skillHint 在 content 意图下要导出 Skill 文档时追加。
const skillHint = "本输出将用于 Skill 文档，请尽量补充 rules（规则/约束）、steps（实践步骤，每项含 step_number, title, summary）及 related（关联知识）。"

// templateFor 只有两个模板：summarize 与 style。Skill 文档使用 summarize 加提示。
func templateFor(intent models.Intent) string {
	if intent == models.IntentStyle {
		return styleTemplate
	}
	return summarizeTemplate
}

// buildPrompt 组装用户提示词，text 需已截断。
func buildPrompt(in Input, text string) string {
	p := strings.Replace(templateFor(in.Intent), contentPlaceholder, text, 1)
	if in.Intent != models.IntentStyle && (in.DocType == models.DocTypeSkill || in.DocType == models.DocTypeBoth) {
		p += "\n\n## 附加要求\n" + skillHint
	}
	if v := in.Visual; v != nil && (len(v.Scenes) > 0 || v.StyleSummary != "" || len(v.Style) > 0) {
		p += "\n\n## 视觉分析结果\n" + describeVisual(v)
	}
	return p
}

func describeVisual(v *models.VisualFindings) string {
	var sb strings.Builder
	if v.StyleSummary != "" {
		sb.WriteString("风格: " + v.StyleSummary + "\n")
	}
	keys := make([]string, 0, len(v.Style))
	for k := range v.Style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("- " + k + ": " + v.Style[k] + "\n")
	}
	if v.Cinematography != "" {
		sb.WriteString("镜头语言: " + v.Cinematography + "\n")
	}
	if len(v.Objects) > 0 {
		sb.WriteString("主要对象: " + strings.Join(v.Objects, ", ") + "\n")
	}
	for i, s := range v.Scenes {
		sb.WriteString("场景 ")
		sb.WriteString(itoa(i + 1))
		sb.WriteString(": ")
		sb.WriteString(formatSeconds(s.Start) + "-" + formatSeconds(s.End))
		if s.Description != "" {
			sb.WriteString(" " + s.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
