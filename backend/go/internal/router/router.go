// Package router 负责识别输入的内容类别，并据此选择提取器。
package router

import (
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// extensionTable 是扩展名到类别的静态映射。
var extensionTable = map[string]models.Category{
	// 视频
	".mp4": models.CategoryVideo, ".mov": models.CategoryVideo, ".avi": models.CategoryVideo,
	".mkv": models.CategoryVideo, ".webm": models.CategoryVideo, ".flv": models.CategoryVideo,
	// 音频
	".mp3": models.CategoryAudio, ".wav": models.CategoryAudio, ".m4a": models.CategoryAudio,
	".flac": models.CategoryAudio, ".ogg": models.CategoryAudio, ".aac": models.CategoryAudio,
	// 文档
	".pdf": models.CategoryDocument, ".docx": models.CategoryDocument, ".doc": models.CategoryDocument,
	".pptx": models.CategoryDocument, ".ppt": models.CategoryDocument, ".xlsx": models.CategoryDocument,
	".xls": models.CategoryDocument, ".txt": models.CategoryDocument, ".md": models.CategoryDocument,
	// 图片
	".jpg": models.CategoryImage, ".jpeg": models.CategoryImage, ".png": models.CategoryImage,
	".bmp": models.CategoryImage, ".tiff": models.CategoryImage, ".webp": models.CategoryImage,
	".gif": models.CategoryImage,
	// 网页
	".html": models.CategoryWebpage, ".htm": models.CategoryWebpage,
}

// ambiguous 中的扩展名既可能是音频也可能是视频，需要嗅探内容确认。
var ambiguous = map[string]bool{
	".webm": true,
	".ogg":  true,
	".mp4":  true,
}

// Input 是路由的输入，Path 与 URL 至少提供一个。
type Input struct {
	Filename string // 用户可读的文件名
	Path     string // 本地文件路径
	URL      string // 远程地址
}

// Router 根据扩展名和内容嗅探对输入分类。Router 没有副作用，相同输入总是得到相同结果。
type Router struct{}

// New 创建一个 Router。
func New() *Router {
	return &Router{}
}

// Classify 返回输入的内容类别，无法识别时返回 UnsupportedFormat 错误。
//
// 解析顺序：
//  1. URL 输入：路径带已知扩展名时按扩展名，否则一律视为网页。
//  2. 文件输入：扩展名命中静态表且无歧义时直接返回。
//  3. 扩展名缺失或有歧义时嗅探文件内容。
func (r *Router) Classify(in Input) (models.Category, error) {
	if in.URL != "" && in.Path == "" {
		return classifyURL(in.URL)
	}

	name := in.Filename
	if name == "" {
		name = in.Path
	}
	ext := strings.ToLower(filepath.Ext(name))
	if cat, ok := extensionTable[ext]; ok && !ambiguous[ext] {
		return cat, nil
	}

	if in.Path != "" {
		if cat, ok := sniff(in.Path); ok {
			return cat, nil
		}
	}
	// 嗅探失败但扩展名在表中（歧义扩展名）时，退回静态表
	if cat, ok := extensionTable[ext]; ok {
		return cat, nil
	}
	if ext == "" {
		return "", faults.New(faults.KindUnsupportedFormat, "route", "cannot determine format of input without extension")
	}
	return "", faults.New(faults.KindUnsupportedFormat, "route", "unsupported format "+ext)
}

// IsSupportedExtension 判断扩展名是否在静态表中。
func IsSupportedExtension(ext string) bool {
	_, ok := extensionTable[strings.ToLower(ext)]
	return ok
}

func classifyURL(raw string) (models.Category, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", faults.New(faults.KindUnsupportedFormat, "route", "only http and https URLs are supported")
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if cat, ok := extensionTable[ext]; ok {
		return cat, nil
	}
	return models.CategoryWebpage, nil
}

// sniff 通过文件头识别类别。
func sniff(p string) (models.Category, bool) {
	mtype, err := mimetype.DetectFile(p)
	if err != nil {
		return "", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		mime := m.String()
		switch {
		case strings.HasPrefix(mime, "video/"):
			return models.CategoryVideo, true
		case strings.HasPrefix(mime, "audio/"):
			return models.CategoryAudio, true
		case strings.HasPrefix(mime, "image/"):
			return models.CategoryImage, true
		case strings.HasPrefix(mime, "text/html"):
			return models.CategoryWebpage, true
		}
	}
	if cat, ok := extensionTable[mtype.Extension()]; ok {
		return cat, true
	}
	if mtype.Is("text/plain") {
		return models.CategoryDocument, true
	}
	return "", false
}
