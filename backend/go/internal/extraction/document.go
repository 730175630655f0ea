package extraction

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
	"github.com/unidoc/unioffice/v2/document"
	"github.com/xuri/excelize/v2"
)

// DocumentExtractor 解析 PDF、Office 与纯文本文档，保留页、段落与表格的基本结构。
type DocumentExtractor struct {
	// licensedOffice 为 true 时使用 unioffice 解析 .docx，可识别标题样式；
	// 否则直接读取 OOXML 包中的文本节点。
	licensedOffice bool
}

// NewDocumentExtractor 创建文档提取器。
func NewDocumentExtractor(licensedOffice bool) *DocumentExtractor {
	return &DocumentExtractor{licensedOffice: licensedOffice}
}

// Extract 根据文件扩展名选择解析方式。
func (e *DocumentExtractor) Extract(ctx context.Context, p, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(p))
	}
	switch ext {
	case ".txt", ".md", "":
		return readTextFile(p)
	case ".pdf":
		return extractPDF(ctx, p)
	case ".docx":
		if e.licensedOffice {
			return extractDocx(p)
		}
		return extractOOXML(p, "word/document.xml", "")
	case ".pptx":
		return extractPptx(p)
	case ".xlsx":
		return extractXlsx(p)
	case ".doc", ".ppt", ".xls":
		return "", fmt.Errorf("legacy binary format %s is not supported, convert it to %sx first", ext, ext)
	default:
		return "", fmt.Errorf("unsupported document format %s", ext)
	}
}

func readTextFile(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

func extractPDF(ctx context.Context, p string) (string, error) {
	f, r, err := pdfx.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var pages []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			pages = append(pages, fmt.Sprintf("--- 第 %d 页 ---\n%s", i, t))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// extractDocx 保留标题层级：Heading1 对应 "#"，Heading2 对应 "##"，依此类推。
func extractDocx(p string) (string, error) {
	doc, err := document.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	var parts []string
	for _, para := range doc.Paragraphs() {
		var sb strings.Builder
		for _, r := range para.Runs() {
			sb.WriteString(r.Text())
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		style := para.Style()
		if strings.HasPrefix(style, "Heading") {
			level, err := strconv.Atoi(strings.TrimPrefix(style, "Heading"))
			if err != nil || level < 1 {
				level = 1
			}
			text = strings.Repeat("#", level) + " " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractPptx(p string) (string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return "", fmt.Errorf("failed to open pptx: %w", err)
	}
	defer zr.Close()

	slides := numberedParts(&zr.Reader, "ppt/slides/slide")
	notes := numberedParts(&zr.Reader, "ppt/notesSlides/notesSlide")

	var parts []string
	for _, s := range slides {
		text, err := partText(s.file, "\n")
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, fmt.Sprintf("--- 幻灯片 %d ---\n%s", s.n, text))
		}
	}
	for _, s := range notes {
		text, err := partText(s.file, "\n")
		if err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, fmt.Sprintf("--- 幻灯片 %d 备注 ---\n%s", s.n, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractXlsx(p string) (string, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return "", fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			if strings.TrimSpace(strings.Join(row, "")) == "" {
				continue
			}
			lines = append(lines, strings.Join(row, " | "))
		}
		if len(lines) > 0 {
			parts = append(parts, fmt.Sprintf("--- 工作表: %s ---\n%s", sheet, strings.Join(lines, "\n")))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// extractOOXML 读取 OOXML 包中单个部件的文本。
func extractOOXML(p, part, sep string) (string, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(p), err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == part {
			if sep == "" {
				sep = "\n\n"
			}
			return partText(f, sep)
		}
	}
	return "", fmt.Errorf("%s not found in package", part)
}

type numberedPart struct {
	n    int
	file *zip.File
}

// numberedParts 找出 prefixN.xml 形式的部件并按 N 排序。
func numberedParts(zr *zip.Reader, prefix string) []numberedPart {
	var out []numberedPart
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".xml"))
		if err != nil {
			continue
		}
		out = append(out, numberedPart{n: n, file: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].n < out[j].n })
	return out
}

// partText 收集 <*:t> 节点的文本，段落（<*:p>）之间用 sep 分隔。
func partText(f *zip.File, sep string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		paras []string
		cur   strings.Builder
		inT   bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inT = t.Name.Local == "t"
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paras = append(paras, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		paras = append(paras, s)
	}
	return strings.Join(paras, sep), nil
}
