package analysis

import (
	"DeepDistill/backend/go/internal/models"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// degradedSummaryLen 是解析失败时保留的原始文本长度。
const degradedSummaryLen = 500

// rawAnalysis 宽松地接收模型输出：顶层必须是对象，各字段形状不对时逐个降级，不影响其他字段。
type rawAnalysis struct {
	Summary   json.RawMessage `json:"summary"`
	KeyPoints json.RawMessage `json:"key_points"`
	Keywords  json.RawMessage `json:"keywords"`
	Structure json.RawMessage `json:"structure"`
}

// ParseResponse 从模型响应中解析结构化结果。
//
// 依次尝试：整体解析、```json 代码块、首个 { 到最后一个 } 的片段。
// 全部失败时返回降级结果：summary 为原始文本前 500 个字符，ParseError 为 true。
// 解析失败不是提供商故障，不会触发回退。
func ParseResponse(raw string) *models.Analysis {
	for _, candidate := range jsonCandidates(raw) {
		if a, ok := decode(candidate); ok {
			return a
		}
	}
	summary := strings.TrimSpace(raw)
	if r := []rune(summary); len(r) > degradedSummaryLen {
		summary = string(r[:degradedSummaryLen])
	}
	return &models.Analysis{
		Summary:    summary,
		KeyPoints:  []string{},
		Keywords:   []string{},
		ParseError: true,
	}
}

func jsonCandidates(raw string) []string {
	out := []string{strings.TrimSpace(raw)}
	if i := strings.Index(raw, "```json"); i >= 0 {
		rest := raw[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			out = append(out, strings.TrimSpace(rest[:j]))
		}
	}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		out = append(out, raw[i:j+1])
	}
	return out
}

func decode(s string) (*models.Analysis, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var r rawAnalysis
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return nil, false
	}
	return &models.Analysis{
		Summary:   strings.TrimSpace(stringValue(r.Summary)),
		KeyPoints: stringList(r.KeyPoints),
		Keywords:  stringList(r.Keywords),
		Structure: structure(r.Structure),
	}, true
}

// stringValue 返回字符串字段的值，非字符串时返回空串。
func stringValue(raw json.RawMessage) string {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v
}

// structure 接受 {type, sections}，sections 可以是数组、单个字符串或单个对象。
func structure(raw json.RawMessage) models.Structure {
	var st models.Structure
	var r struct {
		Type     json.RawMessage `json:"type"`
		Sections json.RawMessage `json:"sections"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &r) != nil {
		return st
	}
	st.Type = stringValue(r.Type)
	var list []json.RawMessage
	switch {
	case len(r.Sections) == 0 || string(r.Sections) == "null":
	case json.Unmarshal(r.Sections, &list) == nil:
		for _, sec := range list {
			st.Sections = append(st.Sections, section(sec))
		}
	default:
		if sec := section(r.Sections); sec.Heading != "" || sec.Content != "" {
			st.Sections = append(st.Sections, sec)
		}
	}
	return st
}

// stringList 接受字符串数组、单个字符串（逗号/换行分隔）或对象数组。
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			switch v := item.(type) {
			case string:
				if v = strings.TrimSpace(v); v != "" {
					out = append(out, v)
				}
			case map[string]interface{}:
				for _, key := range []string{"point", "text", "content", "title"} {
					if s, ok := v[key].(string); ok && s != "" {
						out = append(out, s)
						break
					}
				}
			case nil:
			default:
				out = append(out, fmt.Sprint(v))
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		for _, part := range strings.FieldsFunc(single, func(r rune) bool {
			return r == ',' || r == '，' || r == '\n' || r == '、'
		}) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func section(raw json.RawMessage) models.Section {
	var s models.Section
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var heading string
	_ = json.Unmarshal(raw, &heading)
	return models.Section{Heading: heading}
}

func itoa(i int) string { return strconv.Itoa(i) }

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 1, 64) + "s"
}
