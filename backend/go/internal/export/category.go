// Package export 把任务结果整理成文档并上传到外部文档存储。
//
// 一次导出包含按 doc_type 生成的普通文档和/或 Skill 文档，外加一份保存完整原始文本的源文件文档。
// 所有文档都放入分类子目录，分类缺省或不合法时根据关键词自动推断。
package export

import (
	"DeepDistill/backend/go/internal/models"
	"strings"
)

// DefaultCategory 是无法推断分类时使用的兜底分类。
const DefaultCategory = "其他"

// Categories 是导出允许使用的分类集合。
var Categories = []string{
	"投诉维权",
	"学习笔记",
	"技术文档",
	"市场分析",
	"会议纪要",
	"创意素材",
	"法律法规",
	DefaultCategory,
}

// categoryRule 是自动分类使用的一条规则，按声明顺序匹配，先命中者胜出。
type categoryRule struct {
	category string
	keywords []string
}

var categoryRules = []categoryRule{
	{"技术文档", []string{
		"api", "code", "docker", "python", "javascript", "react",
		"框架", "编程", "算法", "架构", "部署", "开发", "技术", "软件",
		"数据库", "服务器", "kubernetes", "linux", "git",
		"machine learning", "deep learning", "ai", "artificial intelligence",
		"nlp", "computer vision",
	}},
	{"市场分析", []string{
		"市场", "行情", "交易", "投资", "金融", "股票", "加密",
		"比特币", "以太坊", "区块链", "crypto", "bitcoin", "ethereum",
		"blockchain", "cryptocurrency", "trading", "finance", "defi",
	}},
	{"学习笔记", []string{
		"教程", "学习", "入门", "指南", "tutorial", "guide", "course",
		"documentation", "docs", "笔记", "总结", "知识",
	}},
	{"投诉维权", []string{"投诉", "维权", "举报", "违规", "欺诈", "诈骗"}},
	{"会议纪要", []string{"会议", "纪要", "讨论", "决议", "meeting", "minutes"}},
	{"创意素材", []string{"设计", "素材", "图片", "视频", "创意", "风格", "配色", "ui", "ux"}},
	{"法律法规", []string{"法律", "法规", "条例", "合规", "监管", "regulation", "law", "legal"}},
}

// IsCategory 判断分类是否在允许的集合中。
func IsCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// ResolveCategory 返回本次导出实际使用的分类：requested 合法时原样使用，否则自动推断。
func ResolveCategory(requested string, a *models.Analysis) string {
	requested = strings.TrimSpace(requested)
	if IsCategory(requested) {
		return requested
	}
	return Categorize(a)
}

// Categorize 根据关键词和摘要推断分类，未命中任何规则时返回 DefaultCategory。
func Categorize(a *models.Analysis) string {
	if a == nil {
		return DefaultCategory
	}
	var b strings.Builder
	for _, kw := range a.Keywords {
		b.WriteString(strings.ToLower(kw))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToLower(a.Summary))
	blob := b.String()

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(blob, kw) {
				return rule.category
			}
		}
	}
	return DefaultCategory
}
