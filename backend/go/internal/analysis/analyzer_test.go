package analysis

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/faults"
	"DeepDistill/backend/go/internal/llm"
	"DeepDistill/backend/go/internal/models"
	"DeepDistill/backend/go/pkg/retry"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProvider struct {
	name string
	mu   sync.Mutex
	errs []error // 依次返回的错误，用完后返回 out
	out  string
	reqs []llm.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.out, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestAnalyzer(chain ...llm.Provider) *Analyzer {
	return New(chain, config.LLMConfig{Temperature: 0.2}, WithPolicy(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		Sleep:       noSleep,
	}))
}

func serverErr(name string) error {
	return &llm.Error{Provider: name, Kind: llm.ErrServer, StatusCode: 503, Err: errors.New("unavailable")}
}

func TestFallbackToSecondProvider(t *testing.T) {
	a := &fakeProvider{name: "local", errs: []error{serverErr("local"), serverErr("local"), serverErr("local")}}
	b := &fakeProvider{name: "cloud", out: `{"summary":"来自 B","key_points":["p1"],"keywords":["k"]}`}

	res, err := newTestAnalyzer(a, b).Analyze(context.Background(), Input{Text: "hello"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Summary != "来自 B" || res.Provider != "cloud" {
		t.Errorf("Expected provider B result, got %+v", res)
	}
	if a.calls() != 3 {
		t.Errorf("Expected provider A to be tried 3 times, got %d", a.calls())
	}
	if b.calls() != 1 {
		t.Errorf("Expected provider B to be called once, got %d", b.calls())
	}
}

func TestNonRetryableErrorSkipsToNextProvider(t *testing.T) {
	a := &fakeProvider{name: "deepseek", errs: []error{&llm.Error{Provider: "deepseek", Kind: llm.ErrAuth, StatusCode: 401, Err: errors.New("bad key")}}}
	b := &fakeProvider{name: "qwen", out: `{"summary":"ok"}`}

	res, err := newTestAnalyzer(a, b).Analyze(context.Background(), Input{Text: "x"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if a.calls() != 1 {
		t.Errorf("Expected auth failure not to be retried, got %d calls", a.calls())
	}
	if res.Provider != "qwen" {
		t.Errorf("Expected qwen to win, got %s", res.Provider)
	}
}

func TestAllProvidersExhausted(t *testing.T) {
	a := &fakeProvider{name: "a", errs: []error{serverErr("a"), serverErr("a"), serverErr("a")}}
	b := &fakeProvider{name: "b", errs: []error{&llm.Error{Provider: "b", Kind: llm.ErrRateLimited, StatusCode: 429, Err: errors.New("slow down")},
		serverErr("b"), serverErr("b")}}

	_, err := newTestAnalyzer(a, b).Analyze(context.Background(), Input{Text: "x"})
	if !faults.Is(err, faults.KindAllProvidersExhausted) {
		t.Fatalf("Expected AllProvidersExhausted, got %v", err)
	}
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) || len(exhausted.Failures) != 2 {
		t.Fatalf("Expected failures for both providers, got %v", err)
	}
	if exhausted.Failures[0].Name != "a" || exhausted.Failures[1].Name != "b" {
		t.Errorf("Expected failures in chain order, got %+v", exhausted.Failures)
	}
}

func TestParseFailureIsDegradedNotFallback(t *testing.T) {
	a := &fakeProvider{name: "a", out: "抱歉，我无法输出 JSON。" + strings.Repeat("字", 600)}
	b := &fakeProvider{name: "b", out: `{"summary":"should not be used"}`}

	res, err := newTestAnalyzer(a, b).Analyze(context.Background(), Input{Text: "x"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !res.ParseError {
		t.Errorf("Expected parse_error flag")
	}
	if n := len([]rune(res.Summary)); n != degradedSummaryLen {
		t.Errorf("Expected %d rune summary, got %d", degradedSummaryLen, n)
	}
	if b.calls() != 0 {
		t.Errorf("Expected no fallback on parse failure, got %d calls to b", b.calls())
	}
}

func TestInputTruncatedAndSkillHint(t *testing.T) {
	p := &fakeProvider{name: "a", out: `{"summary":"s"}`}
	an := New([]llm.Provider{p}, config.LLMConfig{}, WithMaxInput(10))
	_, err := an.Analyze(context.Background(), Input{
		Text:    strings.Repeat("龘", 50),
		Intent:  models.IntentContent,
		DocType: models.DocTypeSkill,
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	prompt := p.reqs[0].Text
	if strings.Count(prompt, "龘") != 10 {
		t.Errorf("Expected input truncated to 10 runes, got %d", strings.Count(prompt, "龘"))
	}
	if !strings.Contains(prompt, "Skill") {
		t.Errorf("Expected skill hint in prompt")
	}
	if !p.reqs[0].JSONMode {
		t.Errorf("Expected JSON mode request")
	}
}

func TestContextDeadlineSurfacesAsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	p := &fakeProvider{name: "a", out: `{"summary":"s"}`}
	_, err := newTestAnalyzer(p).Analyze(ctx, Input{Text: "x"})
	if !faults.Is(err, faults.KindTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
}
