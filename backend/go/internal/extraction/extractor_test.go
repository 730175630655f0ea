package extraction

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/models"
	httpclient "DeepDistill/backend/go/pkg/http"
	"DeepDistill/backend/go/pkg/retry"
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	pipeline := config.PipelineConfig{
		WorkDir:     t.TempDir(),
		MaxFileSize: 1 << 20,
		Timeouts: config.TimeoutsConfig{
			Extract:    5 * time.Second,
			Demux:      5 * time.Second,
			Transcribe: 5 * time.Second,
		},
	}
	return NewDispatcher(pipeline, config.CollaboratorsConfig{}, opts...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return p
}

func writeZip(t *testing.T, name string, parts map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	zw := zip.NewWriter(f)
	for k, v := range parts {
		w, _ := zw.Create(k)
		w.Write([]byte(v))
	}
	zw.Close()
	f.Close()
	return p
}

func TestExtractPlainText(t *testing.T) {
	p := writeFile(t, "notes.md", "\uFEFF# 标题\n\n正文内容\n")
	out, err := newTestDispatcher(t).Extract(context.Background(), Source{Path: p, Filename: "notes.md"}, models.CategoryDocument)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Text != "# 标题\n\n正文内容" {
		t.Errorf("Unexpected text %q", out.Text)
	}
}

func TestExtractXlsx(t *testing.T) {
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "名称")
	f.SetCellValue("Sheet1", "B1", "数量")
	f.SetCellValue("Sheet1", "A2", "苹果")
	f.SetCellValue("Sheet1", "B2", 3)
	p := filepath.Join(t.TempDir(), "stock.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("Failed to save workbook: %v", err)
	}
	f.Close()

	out, err := newTestDispatcher(t).Extract(context.Background(), Source{Path: p}, models.CategoryDocument)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(out.Text, "工作表: Sheet1") || !strings.Contains(out.Text, "苹果 | 3") {
		t.Errorf("Unexpected text %q", out.Text)
	}
}

func TestExtractPptxSlidesInOrder(t *testing.T) {
	slide := func(s string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + s + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	p := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml":          slide("第十页"),
		"ppt/slides/slide2.xml":           slide("第二页"),
		"ppt/slides/slide1.xml":           slide("第一页"),
		"ppt/notesSlides/notesSlide1.xml": slide("演讲备注"),
	})
	out, err := newTestDispatcher(t).Extract(context.Background(), Source{Path: p}, models.CategoryDocument)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	i1, i2, i10 := strings.Index(out.Text, "第一页"), strings.Index(out.Text, "第二页"), strings.Index(out.Text, "第十页")
	if i1 < 0 || i1 > i2 || i2 > i10 {
		t.Errorf("Expected slides in numeric order, got %q", out.Text)
	}
	if !strings.Contains(out.Text, "幻灯片 1 备注") {
		t.Errorf("Expected notes section, got %q", out.Text)
	}
}

func TestExtractDocxWithoutLicense(t *testing.T) {
	p := writeZip(t, "memo.docx", map[string]string{
		"word/document.xml": `<w:document xmlns:w="w"><w:body><w:p><w:r><w:t>第一段</w:t></w:r><w:r><w:t>续写</w:t></w:r></w:p><w:p><w:r><w:t>第二段</w:t></w:r></w:p></w:body></w:document>`,
	})
	out, err := newTestDispatcher(t).Extract(context.Background(), Source{Path: p}, models.CategoryDocument)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Text != "第一段续写\n\n第二段" {
		t.Errorf("Unexpected text %q", out.Text)
	}
}

func TestExtractLegacyFormatFails(t *testing.T) {
	p := writeFile(t, "old.doc", "binary")
	_, err := newTestDispatcher(t).Extract(context.Background(), Source{Path: p}, models.CategoryDocument)
	if !faults.Is(err, faults.KindExtraction) {
		t.Fatalf("Expected extraction error, got %v", err)
	}
}

func TestHTMLToTextStripsNoise(t *testing.T) {
	page := `<html><head><title>Go 并发</title><style>.x{}</style></head>
<body><nav>菜单</nav><header>站点头</header><h2>调度器</h2><p>GMP 模型</p><script>alert(1)</script><footer>版权</footer></body></html>`
	text, err := HTMLToText([]byte(page))
	if err != nil {
		t.Fatalf("HTMLToText() error = %v", err)
	}
	for _, noise := range []string{"菜单", "站点头", "alert", "版权", ".x{}"} {
		if strings.Contains(text, noise) {
			t.Errorf("Expected %q to be stripped, got %q", noise, text)
		}
	}
	if !strings.HasPrefix(text, "# Go 并发") || !strings.Contains(text, "## 调度器") || !strings.Contains(text, "GMP 模型") {
		t.Errorf("Unexpected markdown %q", text)
	}
}

func TestExtractWebpageFromURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>远程正文</p></body></html>`))
	}))
	defer ts.Close()

	fetcher := httpclient.NewClient("web", config.CircuitBreakerConfig{}, 5*time.Second)
	d := newTestDispatcher(t, WithFetcher(fetcher))
	out, err := d.Extract(context.Background(), Source{URL: ts.URL + "/post"}, models.CategoryWebpage)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(out.Text, "远程正文") {
		t.Errorf("Unexpected text %q", out.Text)
	}
	if len(out.TempFiles) != 1 {
		t.Fatalf("Expected fetched page to be tracked as temp file, got %v", out.TempFiles)
	}
	if _, err := os.Stat(out.TempFiles[0]); err != nil {
		t.Errorf("Expected temp file to exist: %v", err)
	}
}

func TestExtractWebpageUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	d := newTestDispatcher(t, WithFetcher(httpclient.NewClient("web", config.CircuitBreakerConfig{}, time.Second)))
	_, err := d.Extract(context.Background(), Source{URL: ts.URL}, models.CategoryWebpage)
	if !faults.Is(err, faults.KindExtraction) || faults.StageOf(err) != "fetch" {
		t.Fatalf("Expected fetch extraction error, got %v", err)
	}
}

func TestExtractImageViaOCR(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lines":[{"text":"第二行","confidence":0.9,"box":[0,20]},{"text":"噪声","confidence":0.1,"box":[0,5]},{"text":"第一行","confidence":0.8,"box":[0,10]}]}`))
	}))
	defer ts.Close()

	ocr := NewHTTPOCR(config.EndpointConfig{URL: ts.URL}, config.CircuitBreakerConfig{}, 5*time.Second)
	p := writeFile(t, "scan.png", "png")
	out, err := newTestDispatcher(t, WithOCR(ocr)).Extract(context.Background(), Source{Path: p}, models.CategoryImage)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Text != "第一行\n第二行" {
		t.Errorf("Unexpected OCR text %q", out.Text)
	}
}

type blockingTranscriber struct{}

func (blockingTranscriber) Transcribe(ctx context.Context, p string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTranscribeTimeoutIsDistinct(t *testing.T) {
	d := newTestDispatcher(t, WithTranscriber(blockingTranscriber{}))
	d.timeouts.Transcribe = 20 * time.Millisecond
	p := writeFile(t, "voice.wav", "RIFF")

	start := time.Now()
	_, err := d.Extract(context.Background(), Source{Path: p}, models.CategoryAudio)
	if !faults.Is(err, faults.KindTimeout) || faults.StageOf(err) != "transcribe" {
		t.Fatalf("Expected transcribe timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Expected sub-stage timeout to fire quickly")
	}
}

func TestDemuxTimeoutIsDistinct(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	script := writeFile(t, "slow-ffmpeg.sh", "#!/bin/sh\nexec sleep 5\n")
	os.Chmod(script, 0o755)

	d := newTestDispatcher(t, WithTranscriber(blockingTranscriber{}), WithDemuxer(NewDemuxer(script)))
	d.timeouts.Demux = 50 * time.Millisecond
	p := writeFile(t, "talk.mp4", "video")

	_, err := d.Extract(context.Background(), Source{Path: p}, models.CategoryVideo)
	if !faults.Is(err, faults.KindTimeout) || faults.StageOf(err) != "demux" {
		t.Fatalf("Expected demux timeout, got %v", err)
	}
}

type flakyTranscriber struct{ calls int32 }

func (f *flakyTranscriber) Transcribe(ctx context.Context, p string) (string, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 {
		return "", &httpclient.StatusError{StatusCode: http.StatusServiceUnavailable}
	}
	return "转写结果", nil
}

func TestTranscribeUsesRetryBudget(t *testing.T) {
	tr := &flakyTranscriber{}
	d := newTestDispatcher(t, WithTranscriber(tr), WithPolicy(retry.Policy{
		MaxAttempts: 2,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}))
	p := writeFile(t, "voice.wav", "RIFF")
	out, err := d.Extract(context.Background(), Source{Path: p}, models.CategoryAudio)
	if err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if out.Text != "转写结果" || atomic.LoadInt32(&tr.calls) != 2 {
		t.Errorf("Expected 2 calls and transcript, got %d %q", tr.calls, out.Text)
	}
}

func TestDefaultBudgetDoesNotRetryExtraction(t *testing.T) {
	tr := &flakyTranscriber{}
	d := newTestDispatcher(t, WithTranscriber(tr))
	p := writeFile(t, "voice.wav", "RIFF")
	_, err := d.Extract(context.Background(), Source{Path: p}, models.CategoryAudio)
	var se *httpclient.StatusError
	if !errors.As(err, &se) || !faults.Is(err, faults.KindExtraction) {
		t.Fatalf("Expected extraction error wrapping status, got %v", err)
	}
	if atomic.LoadInt32(&tr.calls) != 1 {
		t.Errorf("Expected a single attempt, got %d", tr.calls)
	}
}

func TestURLFilename(t *testing.T) {
	got := urlFilename("https://www.example.com/blog/post-1?x=1", ".html")
	if got != "example_com_blog_post-1.html" {
		t.Errorf("Unexpected filename %q", got)
	}
	if got := urlFilename("https://cdn.example.com/v/talk.MP4", ""); got != "cdn_example_com_v_talk.mp4" {
		t.Errorf("Unexpected filename %q", got)
	}
}
