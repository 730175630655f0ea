package analysis

import (
	"DeepDistill/backend/go/internal/models"
	"strings"
	"testing"
)

func TestBuildPromptOrdersStyleKeys(t *testing.T) {
	in := Input{
		Intent: models.IntentStyle,
		Visual: &models.VisualFindings{Style: map[string]string{
			"色调": "冷", "构图": "对称", "光线": "逆光", "节奏": "舒缓", "字体": "衬线",
		}},
	}
	first := buildPrompt(in, "正文")
	for i := 0; i < 20; i++ {
		if got := buildPrompt(in, "正文"); got != first {
			t.Fatalf("Expected identical prompts for identical input")
		}
	}
	// 按键排序: 光线 < 字体 < 构图 < 色调 < 节奏 (Unicode 码点顺序)
	prev := -1
	for _, k := range []string{"光线", "字体", "构图", "色调", "节奏"} {
		i := strings.Index(first, "- "+k+":")
		if i < 0 || i < prev {
			t.Fatalf("Expected style keys in sorted order, got prompt %q", first)
		}
		prev = i
	}
}
