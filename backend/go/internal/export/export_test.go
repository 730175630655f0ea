package export

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/retry"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

type fakeBackend struct {
	mu       sync.Mutex
	files    []File
	attempts map[string]int
	fail     error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Upload(_ context.Context, file File) (models.ExportedDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[file.Title]++
	if f.fail != nil {
		return models.ExportedDoc{}, f.fail
	}
	f.files = append(f.files, file)
	return models.ExportedDoc{DocID: "id-" + file.Title, DocURL: "https://docs.example/" + file.Title, Title: file.Title, IsRaw: file.IsRaw}, nil
}

func (f *fakeBackend) FolderURL(_ context.Context, category string) (string, error) {
	return "https://docs.example/folders/" + category, nil
}

func noSleepPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func sampleRequest() Request {
	text := strings.Repeat("比特币现货交易量回升。", 80)
	return Request{
		Source: Source{
			Filename: "market.txt",
			Result: &models.ProcessingResult{
				Category:   models.CategoryDocument,
				Text:       text,
				TextLength: len([]rune(text)),
				Analysis: &models.Analysis{
					Summary:   "比特币价格突破新高，市场情绪乐观",
					KeyPoints: []string{"成交量放大", "资金持续流入"},
					Keywords:  []string{"比特币", "市场"},
					Structure: models.Structure{Type: "分析", Sections: []models.Section{{Heading: "行情", Content: "上涨"}}},
				},
			},
		},
		DocType: models.DocTypeBoth,
		Format:  models.ExportFormatDoc,
	}
}

func TestShortTitle(t *testing.T) {
	tests := []struct {
		name     string
		analysis *models.Analysis
		filename string
		contains string
		exact    string
	}{
		{"chinese summary", &models.Analysis{Summary: "加密货币市场近期波动剧烈"}, "a.txt", "加密货币", ""},
		{"cut at particle", &models.Analysis{Summary: "以太坊钱包安全与隐私保护的最佳实践"}, "a.txt", "", "以太坊钱包安全"},
		{"boilerplate", &models.Analysis{Summary: "本文介绍了区块链技术的核心原理和应用场景"}, "a.txt", "区块链", ""},
		{"english prefix", &models.Analysis{Summary: "本文探讨了Ethereum钱包在跨链交易体验和账户安全方面的改进方向"}, "a.txt", "钱包", ""},
		{"key point", &models.Analysis{KeyPoints: []string{"跨链交易需要统一地址格式"}}, "a.txt", "跨链", ""},
		{"keyword", &models.Analysis{Keywords: []string{"DeFi", "区块链", "智能合约"}}, "a.txt", "", "区块链"},
		{"filename", &models.Analysis{Keywords: []string{"Ethereum"}}, "深度学习入门教程.pdf", "", "深度学习入门教程"},
		{"hash filename", &models.Analysis{}, "d72b17233b6cb527f7.html", "", "未命名文档"},
		{"nil analysis", nil, "", "", "未命名文档"},
	}
	for _, tt := range tests {
		got := ShortTitle(tt.analysis, tt.filename)
		if n := len([]rune(got)); n > 8 || n < 2 {
			t.Errorf("%s: expected 2-8 characters, got %q", tt.name, got)
		}
		if tt.exact != "" && got != tt.exact {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.exact, got)
		}
		if tt.contains != "" && !strings.Contains(got, tt.contains) {
			t.Errorf("%s: expected title containing %q, got %q", tt.name, tt.contains, got)
		}
	}

	long := ShortTitle(&models.Analysis{Summary: "这是一个非常非常非常长的摘要文本用来测试截断功能是否正常工作"}, "")
	if len([]rune(long)) > 8 {
		t.Errorf("Expected at most 8 characters, got %q", long)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		summary  string
		keywords []string
		want     string
	}{
		{"Docker 容器化部署微服务架构", []string{"Docker", "微服务"}, "技术文档"},
		{"比特币价格突破新高，市场情绪乐观", []string{"比特币", "市场"}, "市场分析"},
		{"投诉举报流程", []string{"投诉"}, "投诉维权"},
		{"周一例会纪要", []string{"会议"}, "会议纪要"},
		{"法律法规汇编", []string{"法律"}, "法律法规"},
		{"今天天气很好，适合出去散步", []string{"天气", "散步"}, DefaultCategory},
		{"", nil, DefaultCategory},
	}
	for _, tt := range tests {
		got := Categorize(&models.Analysis{Summary: tt.summary, Keywords: tt.keywords})
		if got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.summary, tt.want, got)
		}
		if !IsCategory(got) {
			t.Errorf("%q: category %s is not in the allowed set", tt.summary, got)
		}
	}

	a := &models.Analysis{Summary: "比特币"}
	if got := ResolveCategory("学习笔记", a); got != "学习笔记" {
		t.Errorf("Expected explicit category to win, got %s", got)
	}
	if got := ResolveCategory("随便", a); got != "市场分析" {
		t.Errorf("Expected invalid category to be replaced, got %s", got)
	}
}

func TestBuildersLayout(t *testing.T) {
	req := sampleRequest()
	now := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)

	doc := BuildDoc(req.Source, "比特币价格")
	if !strings.HasPrefix(doc.Markdown, "# 比特币价格\n") || !strings.Contains(doc.Markdown, "## 核心观点\n\n- 成交量放大") {
		t.Errorf("Unexpected doc markdown:\n%s", doc.Markdown)
	}
	if !strings.Contains(doc.Markdown, "共 880 字符") || !strings.Contains(doc.Markdown, "...") {
		t.Errorf("Expected truncated raw preview in doc markdown")
	}

	skill := BuildSkill(req.Source, "比特币价格", now)
	if skill.Title != "比特币价格 [SKILL]" {
		t.Errorf("Expected skill title, got %q", skill.Title)
	}
	for _, want := range []string{"# SKILL: 比特币价格", "`#比特币`", "1. 成交量放大", "### 行情", "## 实践指南", "- 搜索: `市场` 查找相关内容", "2026-10-14"} {
		if !strings.Contains(skill.Markdown, want) {
			t.Errorf("Expected skill markdown to contain %q", want)
		}
	}

	raw := BuildRaw(req.Source, "比特币价格", now)
	if !raw.IsRaw || raw.Title != "比特币价格 [源文件]" {
		t.Errorf("Unexpected raw document %+v", raw.Title)
	}
	if !strings.Contains(raw.Markdown, req.Result.Text) {
		t.Errorf("Expected raw document to keep the full text")
	}
}

func TestExportBothWithRawSource(t *testing.T) {
	backend := &fakeBackend{}
	s := NewService(backend, config.ExportConfig{}, WithPolicy(noSleepPolicy(3)))

	receipt, err := s.Export(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if receipt.Category != "市场分析" || receipt.Provider != "fake" || receipt.Format != models.ExportFormatDoc {
		t.Errorf("Unexpected receipt %+v", receipt)
	}
	if receipt.FolderURL != "https://docs.example/folders/市场分析" {
		t.Errorf("Unexpected folder url %q", receipt.FolderURL)
	}
	if len(receipt.Documents) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(receipt.Documents))
	}
	if receipt.Documents[1].Title != receipt.Documents[0].Title+" [SKILL]" {
		t.Errorf("Expected skill document second, got %q", receipt.Documents[1].Title)
	}
	last := receipt.Documents[2]
	if !last.IsRaw || !strings.HasSuffix(last.Title, "[源文件]") {
		t.Errorf("Expected raw source document last, got %+v", last)
	}
	for _, f := range backend.files {
		if f.Category != "市场分析" || !f.Convert || f.MimeType != mimeMarkdown {
			t.Errorf("Unexpected file %s: %+v", f.Title, f.Category)
		}
	}
}

func TestExportRetriesThenFails(t *testing.T) {
	backend := &fakeBackend{fail: errors.New("503 backend unavailable")}
	s := NewService(backend, config.ExportConfig{}, WithPolicy(noSleepPolicy(3)))

	req := sampleRequest()
	req.DocType = models.DocTypeDoc
	_, err := s.Export(context.Background(), req)
	if !faults.Is(err, faults.KindExport) {
		t.Fatalf("Expected export error, got %v", err)
	}
	// 首个失败会取消其他上传，因此只有最先失败的文件一定用满重试预算。
	most := 0
	for title, n := range backend.attempts {
		if n > 3 {
			t.Errorf("Expected at most 3 attempts for %s, got %d", title, n)
		}
		if n > most {
			most = n
		}
	}
	if most != 3 {
		t.Errorf("Expected a file to use all 3 attempts, got %d", most)
	}
}

func TestExportExcelWorkbook(t *testing.T) {
	backend := &fakeBackend{}
	s := NewService(backend, config.ExportConfig{}, WithPolicy(noSleepPolicy(1)))

	req := sampleRequest()
	req.DocType = models.DocTypeDoc
	req.Format = models.ExportFormatExcel
	if _, err := s.Export(context.Background(), req); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(backend.files) != 2 {
		t.Fatalf("Expected workbook plus raw source, got %d files", len(backend.files))
	}

	var xlsx File
	for _, f := range backend.files {
		if f.Ext == ".xlsx" {
			xlsx = f
		}
	}
	if xlsx.MimeType != mimeXlsx || xlsx.Convert {
		t.Fatalf("Expected an xlsx upload, got %+v", xlsx.Name())
	}
	wb, err := excelize.OpenReader(bytes.NewReader(xlsx.Data))
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer wb.Close()

	want := []string{"摘要", "核心观点", "关键词", "内容结构"}
	got := wb.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("Expected sheets %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sheet %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if v, _ := wb.GetCellValue("摘要", "B2"); v != "market.txt" {
		t.Errorf("Expected filename in B2, got %q", v)
	}
	if v, _ := wb.GetCellValue("核心观点", "B3"); v != "资金持续流入" {
		t.Errorf("Expected second key point in B3, got %q", v)
	}
}

func TestExportWordNeedsLicense(t *testing.T) {
	s := NewService(&fakeBackend{}, config.ExportConfig{})
	req := sampleRequest()
	req.Format = models.ExportFormatWord
	if _, err := s.Export(context.Background(), req); !faults.Is(err, faults.KindExport) {
		t.Errorf("Expected export error without license, got %v", err)
	}
}

func TestExportWithoutBackend(t *testing.T) {
	s := NewService(nil, config.ExportConfig{}, WithPolicy(noSleepPolicy(3)))
	_, err := s.Export(context.Background(), sampleRequest())
	if !faults.Is(err, faults.KindExport) || !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected not configured export error, got %v", err)
	}
}

func TestExportRequiresResult(t *testing.T) {
	s := NewService(&fakeBackend{}, config.ExportConfig{})
	if _, err := s.Export(context.Background(), Request{Source: Source{Filename: "x"}}); !faults.Is(err, faults.KindExport) {
		t.Errorf("Expected export error for missing result, got %v", err)
	}
}
