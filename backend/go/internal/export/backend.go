package export

import (
	"DeepDistill/backend/go/internal/models"
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotConfigured 表示没有配置可用的导出目标。
var ErrNotConfigured = errors.New("no export backend configured")

// File 是一份交给导出后端的文件。
type File struct {
	Category string
	Title    string // 不含扩展名的标题
	Ext      string // ".md" / ".docx" / ".xlsx"
	MimeType string
	Data     []byte
	IsRaw    bool
	// Convert 为 true 时后端可将 Markdown 转为在线文档（Google Docs）。
	Convert bool
}

// Name 返回带扩展名的文件名。在线文档不带扩展名。
func (f File) Name() string {
	if f.Convert {
		return f.Title
	}
	return f.Title + f.Ext
}

// Backend 是外部文档存储的抽象。实现必须支持并发调用。
type Backend interface {
	Name() string
	Upload(ctx context.Context, f File) (models.ExportedDoc, error)
	// FolderURL 返回分类目录的访问地址，不支持时返回空串。
	FolderURL(ctx context.Context, category string) (string, error)
}

// unavailable 在未配置导出目标时使用，每次上传都失败。
type unavailable struct{}

func (unavailable) Name() string { return "none" }

func (unavailable) Upload(context.Context, File) (models.ExportedDoc, error) {
	return models.ExportedDoc{}, ErrNotConfigured
}

func (unavailable) FolderURL(context.Context, string) (string, error) { return "", nil }

// Unavailable 返回一个总是失败的后端。
func Unavailable() Backend {
	return unavailable{}
}

// objectKey 生成对象存储中的键：prefix/category/name。
func objectKey(prefix, category, name string) string {
	return path.Join(strings.Trim(prefix, "/"), safeName(category), safeName(name))
}

// safeName 去掉会破坏路径结构的字符。
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '\x00':
			return '_'
		}
		return r
	}, s)
}
