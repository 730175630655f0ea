package export

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/unidoc/unioffice/v2/color"
	"github.com/unidoc/unioffice/v2/common/license"
	"github.com/unidoc/unioffice/v2/document"
	"github.com/xuri/excelize/v2"
)

const (
	mimeMarkdown = "text/markdown"
	mimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXlsx     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	licenseOnce sync.Once
	licenseErr  error
	licensed    bool

	numberedRe = regexp.MustCompile(`^\d+\.\s+`)
)

// SetupOfficeLicense 注册 unioffice 的计量授权，只在进程内生效一次。
// key 为空时返回 false，Word 导出与 docx 样式解析将不可用。
func SetupOfficeLicense(key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	licenseOnce.Do(func() {
		if err := license.SetMeteredKey(key); err != nil {
			licenseErr = fmt.Errorf("failed to set unioffice license: %w", err)
			return
		}
		licensed = true
	})
	return licensed, licenseErr
}

// RenderWord 把 Markdown 文档转换为 .docx。
// 支持一到三级标题、无序和有序列表、引用块（斜体灰色）以及分隔线。
func RenderWord(markdown string) ([]byte, error) {
	doc := document.New()
	for _, line := range strings.Split(markdown, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case s == "":
			continue
		case strings.HasPrefix(s, "### "):
			heading(doc, "Heading3", s[4:])
		case strings.HasPrefix(s, "## "):
			heading(doc, "Heading2", s[3:])
		case strings.HasPrefix(s, "# "):
			heading(doc, "Heading1", s[2:])
		case strings.HasPrefix(s, "- "):
			doc.AddParagraph().AddRun().AddText("• " + s[2:])
		case numberedRe.MatchString(s):
			doc.AddParagraph().AddRun().AddText(s)
		case strings.HasPrefix(s, "> "):
			run := doc.AddParagraph().AddRun()
			run.AddText(s[2:])
			run.Properties().SetItalic(true)
			run.Properties().SetColor(color.RGB(100, 100, 100))
		case s == "---":
			doc.AddParagraph()
		default:
			doc.AddParagraph().AddRun().AddText(s)
		}
	}

	var buf bytes.Buffer
	if err := doc.Save(&buf); err != nil {
		return nil, fmt.Errorf("failed to write docx: %w", err)
	}
	return buf.Bytes(), nil
}

func heading(doc *document.Document, style, text string) {
	p := doc.AddParagraph()
	p.SetStyle(style)
	p.AddRun().AddText(text)
}

// sheetSpec 描述工作簿中的一张两列表。
type sheetSpec struct {
	name   string
	header [2]string
	widths [2]float64
	rows   [][2]string
}

// RenderExcel 把任务结果写成 .xlsx：摘要、核心观点、关键词和内容结构各占一张工作表，
// 后三张在没有数据时省略。
func RenderExcel(src Source) ([]byte, error) {
	a := src.analysis()
	length := 0
	if src.Result != nil {
		length = src.Result.TextLength
	}

	sheets := []sheetSpec{{
		name:   "摘要",
		header: [2]string{"字段", "内容"},
		widths: [2]float64{18, 80},
		rows: [][2]string{
			{"文件名", src.Filename},
			{"文件类型", src.sourceType()},
			{"提取文本长度", strconv.Itoa(length) + " 字符"},
			{"摘要", a.Summary},
		},
	}}
	if len(a.KeyPoints) > 0 {
		s := sheetSpec{name: "核心观点", header: [2]string{"序号", "观点"}, widths: [2]float64{8, 80}}
		for i, p := range a.KeyPoints {
			s.rows = append(s.rows, [2]string{strconv.Itoa(i + 1), p})
		}
		sheets = append(sheets, s)
	}
	if len(a.Keywords) > 0 {
		s := sheetSpec{name: "关键词", header: [2]string{"序号", "关键词"}, widths: [2]float64{8, 30}}
		for i, kw := range a.Keywords {
			s.rows = append(s.rows, [2]string{strconv.Itoa(i + 1), kw})
		}
		sheets = append(sheets, s)
	}
	if len(a.Structure.Sections) > 0 {
		s := sheetSpec{name: "内容结构", header: [2]string{"章节", "内容"}, widths: [2]float64{25, 80}}
		for _, sec := range a.Structure.Sections {
			s.rows = append(s.rows, [2]string{sec.Heading, sec.Content})
		}
		sheets = append(sheets, s)
	}

	f := excelize.NewFile()
	defer f.Close()

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4285F4"}, Pattern: 1},
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create body style: %w", err)
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, s, headerStyle, bodyStyle); err != nil {
			return nil, fmt.Errorf("failed to write sheet %s: %w", s.name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s sheetSpec, headerStyle, bodyStyle int) error {
	if err := f.SetSheetRow(s.name, "A1", &[]interface{}{s.header[0], s.header[1]}); err != nil {
		return err
	}
	if err := f.SetCellStyle(s.name, "A1", "B1", headerStyle); err != nil {
		return err
	}
	for i, row := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, cell, &[]interface{}{row[0], row[1]}); err != nil {
			return err
		}
	}
	if len(s.rows) > 0 {
		end, _ := excelize.CoordinatesToCellName(2, len(s.rows)+1)
		if err := f.SetCellStyle(s.name, "A2", end, bodyStyle); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(s.name, "A", "A", s.widths[0]); err != nil {
		return err
	}
	return f.SetColWidth(s.name, "B", "B", s.widths[1])
}
