package extraction

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// noiseTags 是正文提取前要移除的元素。
var noiseTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Noscript: true,
	atom.Iframe:   true,
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// HTMLFileToText 读取本地 HTML 文件并转换为 Markdown 正文。
func HTMLFileToText(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return HTMLToText(data)
}

// HTMLToText 移除脚本、样式和导航等元素后将 HTML 转为 Markdown。
// 页面标题作为一级标题放在最前面。
func HTMLToText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	title := findTitle(doc)
	stripNoise(doc)

	md, err := htmltomarkdown.ConvertNode(doc)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML: %w", err)
	}
	text := strings.TrimSpace(blankLines.ReplaceAllString(string(md), "\n\n"))
	if title != "" && !strings.HasPrefix(text, "# "+title) {
		text = "# " + title + "\n\n" + text
	}
	return text, nil
}

func stripNoise(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && (noiseTags[c.DataAtom] || c.DataAtom == atom.Title) {
			n.RemoveChild(c)
		} else {
			stripNoise(c)
		}
		c = next
	}
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

var unsafeName = regexp.MustCompile(`[^\w\-]`)

// urlFilename 由域名和路径生成可读的文件名，ext 为空时保留 URL 中的扩展名。
func urlFilename(raw, ext string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download" + ext
	}
	if ext == "" {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	base := strings.TrimSuffix(strings.Trim(u.Path, "/"), path.Ext(u.Path))
	name := strings.ReplaceAll(strings.TrimPrefix(u.Host, "www."), ".", "_")
	if base != "" {
		name += "_" + strings.ReplaceAll(base, "/", "_")
	}
	name = unsafeName.ReplaceAllString(name, "_")
	if len(name) > 80 {
		name = name[:80]
	}
	return name + ext
}
