package extraction

import (
	"DeepDistill/backend/go/internal/config"
	httpclient "DeepDistill/backend/go/pkg/http"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// minConfidence 以下的识别结果会被丢弃。
const minConfidence = 0.3

// HTTPOCR 调用外部 OCR 服务。
type HTTPOCR struct {
	client   *httpclient.Client
	endpoint config.EndpointConfig
}

type ocrLine struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Box        [2]float64 `json:"box"` // 左上角坐标 (x, y)
}

type ocrResponse struct {
	Text  string    `json:"text"`
	Lines []ocrLine `json:"lines"`
}

// NewHTTPOCR 创建 OCR 客户端。
func NewHTTPOCR(endpoint config.EndpointConfig, breaker config.CircuitBreakerConfig, timeout time.Duration) *HTTPOCR {
	return &HTTPOCR{client: httpclient.NewClient("ocr", breaker, timeout), endpoint: endpoint}
}

// Recognize 上传图片。服务返回行级结果时按从上到下、从左到右的顺序拼接。
func (o *HTTPOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	var resp ocrResponse
	if err := o.client.PostFile(ctx, o.endpoint.URL, o.endpoint.APIKey, "file", imagePath, nil, &resp); err != nil {
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	if len(resp.Lines) == 0 {
		return strings.TrimSpace(resp.Text), nil
	}
	lines := append([]ocrLine(nil), resp.Lines...)
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].Box[1] != lines[j].Box[1] {
			return lines[i].Box[1] < lines[j].Box[1]
		}
		return lines[i].Box[0] < lines[j].Box[0]
	})
	var out []string
	for _, l := range lines {
		if l.Confidence > minConfidence && strings.TrimSpace(l.Text) != "" {
			out = append(out, strings.TrimSpace(l.Text))
		}
	}
	return strings.Join(out, "\n"), nil
}
