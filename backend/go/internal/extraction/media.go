package extraction

import (
	"DeepDistill/backend/go/internal/config"
	httpclient "DeepDistill/backend/go/pkg/http"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Demuxer 使用 ffmpeg 把音视频转为 16kHz 单声道 WAV。
type Demuxer struct {
	ffmpeg string
}

// NewDemuxer 创建 Demuxer，ffmpegPath 为空时从 PATH 查找。
func NewDemuxer(ffmpegPath string) *Demuxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Demuxer{ffmpeg: ffmpegPath}
}

// ExtractAudio 返回 WAV 文件路径。输入已是 .wav 时原样返回。
// ctx 到期时 ffmpeg 进程会被终止，返回的错误包含 context.DeadlineExceeded。
func (d *Demuxer) ExtractAudio(ctx context.Context, in, workDir string) (string, error) {
	if strings.EqualFold(filepath.Ext(in), ".wav") {
		return in, nil
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(workDir, uuid.NewString()+".wav")

	cmd := exec.CommandContext(ctx, d.ffmpeg,
		"-i", in,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y", out,
	)
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("ffmpeg aborted: %w", ctxErr)
		}
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("ffmpeg not available: %w", err)
		}
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(msg))
	}
	return out, nil
}

// HTTPTranscriber 调用兼容 OpenAI /audio/transcriptions 协议的语音识别服务。
type HTTPTranscriber struct {
	client   *httpclient.Client
	endpoint config.EndpointConfig
	language string
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// NewHTTPTranscriber 创建语音识别客户端。
func NewHTTPTranscriber(endpoint config.EndpointConfig, breaker config.CircuitBreakerConfig, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		client:   httpclient.NewClient("asr", breaker, timeout),
		endpoint: endpoint,
		language: "zh",
	}
}

// Transcribe 上传音频并返回转写文本，分段结果按行拼接。
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	fields := map[string]string{"language": t.language, "response_format": "json"}
	if t.endpoint.Model != "" {
		fields["model"] = t.endpoint.Model
	}
	var resp transcriptionResponse
	if err := t.client.PostFile(ctx, t.endpoint.URL, t.endpoint.APIKey, "file", audioPath, fields, &resp); err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	if len(resp.Segments) > 0 {
		lines := make([]string, 0, len(resp.Segments))
		for _, s := range resp.Segments {
			if s := strings.TrimSpace(s.Text); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n"), nil
	}
	return strings.TrimSpace(resp.Text), nil
}
