package export

import (
	"DeepDistill/backend/go/internal/models"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen   = 8
	untitled      = "未命名文档"
	titleScanSpan = 30
)

var (
	boilerplateRe = regexp.MustCompile(`^(本文|该文|这篇文章|文章|本视频|该视频|这个视频|视频|本页面|该页面|页面)` +
		`(主要|详细|全面|系统|深入)?` +
		`(介绍|讲解|分析|阐述|探讨|说明|描述|总结|概述|讨论|涵盖|涉及|关注|聚焦)` +
		`(了)?`)
	cjkRunRe   = regexp.MustCompile(`[\p{Han}]+`)
	cjkTitleRe = regexp.MustCompile(`[\p{Han}]{2,8}`)

	// leadingParticles 是标题开头需要跳过的虚词。
	leadingParticles = "的在了是有和与及"
	// cutWords 按优先级排列，标题过长时在最后一次出现处截断。
	cutWords = []string{"和", "与", "的", "及", "等", "在", "方面"}
)

// ShortTitle 从分析结果中提取不超过 8 个汉字的中文短标题。
//
// 依次尝试：摘要、第一条核心观点、中文关键词、摘要中的第一段中文、含中文的文件名，
// 都失败时返回 "未命名文档"。
func ShortTitle(a *models.Analysis, filename string) string {
	if a != nil {
		if t := titleFrom(a.Summary); t != "" {
			return t
		}
		if len(a.KeyPoints) > 0 {
			if t := titleFrom(a.KeyPoints[0]); t != "" {
				return t
			}
		}
		for _, kw := range a.Keywords {
			kw = strings.Trim(strings.TrimSpace(kw), "#`")
			if kw != "" && hasHan(kw) && utf8.RuneCountInString(kw) <= maxTitleLen {
				return kw
			}
		}
		if m := cjkTitleRe.FindString(a.Summary); m != "" {
			return m
		}
	}

	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if hasHan(stem) {
		return truncateRunes(stem, maxTitleLen)
	}
	return untitled
}

// titleFrom 从一句话中提取短标题，无法得到至少两个汉字时返回空串。
func titleFrom(s string) string {
	if s == "" {
		return ""
	}
	s = boilerplateRe.ReplaceAllString(s, "")
	if loc := cjkRunRe.FindStringIndex(s); loc != nil {
		s = s[loc[0]:]
	}
	if r, size := utf8.DecodeRuneInString(s); size > 0 && strings.ContainsRune(leadingParticles, r) {
		s = s[size:]
	}

	var title []rune
	for _, seg := range cjkRunRe.FindAllString(truncateRunes(s, titleScanSpan), -1) {
		runes := []rune(seg)
		if len(title)+len(runes) <= maxTitleLen {
			title = append(title, runes...)
			continue
		}
		if remaining := maxTitleLen - len(title); remaining >= 2 {
			title = append(title, runes[:remaining]...)
		}
		break
	}

	if len(title) > 6 {
		for _, cut := range cutWords {
			if idx := lastIndexFrom(title, []rune(cut), 3); idx >= 3 {
				title = title[:idx]
				break
			}
		}
	}
	if len(title) < 2 {
		return ""
	}
	return string(title)
}

// lastIndexFrom 返回 sub 在 s[from:] 中最后一次出现的位置（相对于 s），未找到返回 -1。
func lastIndexFrom(s, sub []rune, from int) int {
	for i := len(s) - len(sub); i >= from; i-- {
		match := true
		for j := range sub {
			if s[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func hasHan(s string) bool {
	return cjkRunRe.MatchString(s)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
