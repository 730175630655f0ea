// Package fusion 对 AI 分析结果做后处理（去重、合并、补全、视觉信息融合），
// 并把处理结果渲染为 Markdown 或 JSON。
package fusion

import (
	"DeepDistill/backend/go/internal/models"
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	maxSummaryRunes  = 500
	maxKeyPoints     = 10
	maxKeywords      = 15
	fallbackPoints   = 5
	duplicateCutoff  = 0.7
	mergeLowerCutoff = 0.4
)

// Process 返回融合后的分析结果，不修改入参。
// 步骤依次为：去重、合并相似要点、补全缺失字段、融合视觉分析、质量检查。
func Process(a *models.Analysis, text string, visual *models.VisualFindings) *models.Analysis {
	var r *models.Analysis
	if a == nil {
		r = &models.Analysis{}
	} else {
		r = a.Clone()
	}
	deduplicate(r)
	mergeSimilar(r)
	complete(r, text)
	if visual != nil {
		withVisual(r, visual)
	}
	qualityCheck(r)
	return r
}

func deduplicate(r *models.Analysis) {
	seen := make(map[string]bool, len(r.Keywords))
	keywords := r.Keywords[:0:0]
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		norm := strings.ToLower(kw)
		if kw == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		keywords = append(keywords, kw)
	}
	r.Keywords = keywords

	var points []string
	for _, p := range r.KeyPoints {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dup := false
		for _, existing := range points {
			if Similarity(p, existing) > duplicateCutoff {
				dup = true
				break
			}
		}
		if !dup {
			points = append(points, p)
		}
	}
	r.KeyPoints = points
}

// mergeSimilar 把相似度介于 0.4 与 0.7 之间的要点合并，保留最长的一条。
func mergeSimilar(r *models.Analysis) {
	if len(r.KeyPoints) < 2 {
		return
	}
	used := make([]bool, len(r.KeyPoints))
	merged := make([]string, 0, len(r.KeyPoints))
	for i, a := range r.KeyPoints {
		if used[i] {
			continue
		}
		longest := a
		for j := i + 1; j < len(r.KeyPoints); j++ {
			if used[j] {
				continue
			}
			b := r.KeyPoints[j]
			if sim := Similarity(a, b); sim > mergeLowerCutoff && sim < duplicateCutoff {
				used[j] = true
				if len([]rune(b)) > len([]rune(longest)) {
					longest = b
				}
			}
		}
		used[i] = true
		merged = append(merged, longest)
	}
	r.KeyPoints = merged
}

func complete(r *models.Analysis, text string) {
	text = strings.TrimSpace(text)
	if strings.TrimSpace(r.Summary) == "" {
		if rs := []rune(text); len(rs) > 200 {
			r.Summary = strings.TrimSpace(string(rs[:200])) + "..."
		} else {
			r.Summary = text
		}
	}
	if len(r.KeyPoints) == 0 {
		for _, s := range strings.FieldsFunc(text, func(c rune) bool {
			return c == '。' || c == '！' || c == '？' || c == '\n'
		}) {
			if s = strings.TrimSpace(s); len([]rune(s)) > 10 {
				r.KeyPoints = append(r.KeyPoints, s)
				if len(r.KeyPoints) == fallbackPoints {
					break
				}
			}
		}
	}
	if r.KeyPoints == nil {
		r.KeyPoints = []string{}
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.Structure.Type == "" && len(r.Structure.Sections) == 0 {
		r.Structure.Type = "未分类"
	}
	if rs := []rune(r.Summary); len(rs) > maxSummaryRunes {
		r.Summary = string(rs[:maxSummaryRunes-3]) + "..."
	}
	if len(r.KeyPoints) > maxKeyPoints {
		r.KeyPoints = r.KeyPoints[:maxKeyPoints]
	}
	if len(r.Keywords) > maxKeywords {
		r.Keywords = r.Keywords[:maxKeywords]
	}
}

func withVisual(r *models.Analysis, v *models.VisualFindings) {
	if v.StyleSummary != "" {
		r.Structure.Sections = append(r.Structure.Sections, models.Section{Heading: "视觉风格", Content: v.StyleSummary})
	}
	if len(v.Scenes) > 0 {
		var total float64
		for _, s := range v.Scenes {
			total += s.Duration
		}
		r.Structure.Sections = append(r.Structure.Sections, models.Section{
			Heading: "视频结构",
			Content: fmt.Sprintf("共 %d 个场景，总时长 %.1f 秒", len(v.Scenes), math.Round(total*10)/10),
		})
	}
	existing := make(map[string]bool, len(r.Keywords))
	for _, kw := range r.Keywords {
		existing[strings.ToLower(kw)] = true
	}
	for _, obj := range v.Objects {
		if obj != "" && !existing[strings.ToLower(obj)] {
			r.Keywords = append(r.Keywords, obj)
			existing[strings.ToLower(obj)] = true
		}
	}
	if v.Cinematography != "" {
		r.Structure.Sections = append(r.Structure.Sections, models.Section{Heading: "拍摄手法", Content: v.Cinematography})
	}
}

func qualityCheck(r *models.Analysis) {
	points := r.KeyPoints[:0]
	for _, p := range r.KeyPoints {
		if strings.TrimSpace(p) != "" {
			points = append(points, p)
		}
	}
	r.KeyPoints = points

	keywords := r.Keywords[:0]
	for _, kw := range r.Keywords {
		if strings.TrimSpace(kw) != "" {
			keywords = append(keywords, kw)
		}
	}
	r.Keywords = keywords

	var sections []models.Section
	for _, s := range r.Structure.Sections {
		if s.Heading != "" && s.Content != "" {
			sections = append(sections, s)
		}
	}
	r.Structure.Sections = sections
}

// Similarity 返回两段文本字符 2-gram 集合的 Jaccard 系数，取值 0 到 1。
func Similarity(a, b string) float64 {
	sa, sb := bigrams(a), bigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for g := range sa {
		if sb[g] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func bigrams(s string) map[string]bool {
	var clean []rune
	for _, c := range strings.ToLower(s) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			clean = append(clean, c)
		}
	}
	out := make(map[string]bool, len(clean))
	for i := 0; i+1 < len(clean); i++ {
		out[string(clean[i:i+2])] = true
	}
	return out
}
