package interpreter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/pkg/cache"
	"github.com/fpt/kanoa/pkg/client"
	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/payload"
	"github.com/fpt/kanoa/pkg/usage"
)

const answer = "The figure shows a steady upward trend with one outlier."

type fakeBackend struct {
	name      string
	streaming bool
	minTokens int
	noPricing bool
	window    int

	creates   atomic.Int32
	deletes   atomic.Int32
	sends     atomic.Int32
	createErr error
	sendErr   error
	gate      chan struct{}

	mu       sync.Mutex
	requests []*domain.Request
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{name: "fake", streaming: true, minTokens: 100}
}

func (f *fakeBackend) Name() string  { return f.name }
func (f *fakeBackend) Model() string { return "fake-model" }
func (f *fakeBackend) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		InlineBinary:   true,
		ContextCaching: true,
		Streaming:      f.streaming,
		Vision:         true,
		PDF:            true,
	}
}

func (f *fakeBackend) Pricing() (domain.ModelPricing, error) {
	if f.noPricing {
		return domain.ModelPricing{}, domain.ErrNoPricing
	}
	return domain.ModelPricing{
		Rates:          domain.Rates{Input: 2, CachedInput: 0.2, Output: 12},
		MinCacheTokens: f.minTokens,
		ContextWindow:  f.window,
	}, nil
}

func (f *fakeBackend) respond(req *domain.Request, entry *domain.CacheEntry) (*domain.Response, error) {
	f.sends.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	cached := domain.UseCache(entry, req.Grounding, f.minTokens)
	u := domain.UsageRecord{InputTokens: 1000, OutputTokens: 500}
	if cached {
		u.CachedTokens = int64(req.Grounding.Tokens)
		u.InputTokens += u.CachedTokens
	}
	return &domain.Response{Text: answer, Usage: u, CacheUsed: cached}, nil
}

func (f *fakeBackend) Send(_ context.Context, req *domain.Request, entry *domain.CacheEntry) (*domain.Response, error) {
	return f.respond(req, entry)
}

func (f *fakeBackend) Stream(_ context.Context, req *domain.Request, entry *domain.CacheEntry) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		resp, err := f.respond(req, entry)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}
		for _, word := range strings.SplitAfter(resp.Text, " ") {
			if !yield(domain.StreamChunk{Text: word, CacheUsed: resp.CacheUsed}, nil) {
				return
			}
		}
		yield(domain.StreamChunk{Usage: &resp.Usage, CacheUsed: resp.CacheUsed, Done: true}, nil)
	}
}

func (f *fakeBackend) CreateCache(_ context.Context, g *domain.Grounding, ttl time.Duration) (*domain.CacheHandle, error) {
	if f.gate != nil {
		<-f.gate
	}
	n := f.creates.Add(1)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.CacheHandle{Name: fmt.Sprintf("cachedContents/%d", n), Tokens: g.Tokens}, nil
}

func (f *fakeBackend) DeleteCache(context.Context, string) error {
	f.deletes.Add(1)
	return nil
}

func (f *fakeBackend) lastRequest() *domain.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fixture struct {
	backend *fakeBackend
	interp  *Interpreter
	session *usage.Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	b := newFakeBackend()
	return newFixtureFor(t, b, b, opts...)
}

// newFixtureFor registers registered, which wraps b with extra behaviour.
func newFixtureFor(t *testing.T, b *fakeBackend, registered domain.Backend, opts ...Option) *fixture {
	t.Helper()
	reg := client.NewRegistry()
	reg.Register(registered)
	store := cache.NewStore(cache.NewMemoryRegistry(), cache.WithProviders(reg))
	session := usage.NewSession()

	base := []Option{
		WithCacheStore(store),
		WithSession(session),
		WithFilesystem(infra.NewOSFilesystemRepository()),
		WithDefaultBackend("fake"),
	}
	return &fixture{
		backend: b,
		interp:  New(reg, append(base, opts...)...),
		session: session,
	}
}

func figure() *domain.Payload {
	p := payload.FromImage("plot.png", []byte("\x89PNG\r\n\x1a\n0000"))
	return &p
}

func writeKB(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestInterpretComputesCost(t *testing.T) {
	f := newFixture(t)
	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), Context: "sales", Focus: "trend"})
	if err != nil {
		t.Fatalf("Interpret() error = %v", err)
	}
	if res.Text != answer {
		t.Errorf("text = %q", res.Text)
	}
	if math.Abs(res.Usage.Cost-0.008) > 1e-12 {
		t.Errorf("cost = %v, want 0.008", res.Usage.Cost)
	}
	if res.Backend != "fake" || res.Model != "fake-model" {
		t.Errorf("identity = %s/%s", res.Backend, res.Model)
	}
	if res.Grounded || res.CacheUsed {
		t.Error("request without knowledge base should not be grounded")
	}

	req := f.backend.lastRequest()
	if req.Attachment == nil || req.Attachment.MIMEType != "image/png" {
		t.Errorf("attachment = %+v", req.Attachment)
	}
	if !strings.Contains(req.Prompt, "**Context**: sales") || !strings.Contains(req.Prompt, "**Analysis Focus**: trend") {
		t.Errorf("prompt = %q", req.Prompt)
	}

	sum := f.session.Summary()
	if sum.Requests != 1 || math.Abs(sum.Total.Cost-0.008) > 1e-12 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestInterpretUnsupportedBackend(t *testing.T) {
	f := newFixture(t)
	_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), Backend: "palm-2"})
	var ube *domain.UnsupportedBackendError
	if !errors.As(err, &ube) {
		t.Fatalf("expected UnsupportedBackendError, got %v", err)
	}
	if f.session.Summary().Requests != 0 {
		t.Error("failed call must not record usage")
	}
}

func TestInterpretUnsupportedPayload(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  InterpretationRequest
	}{
		{"nil", InterpretationRequest{}},
		{"empty image", InterpretationRequest{Payload: &domain.Payload{Kind: domain.PayloadImage, MIMEType: "image/png"}}},
		{"unknown mime", InterpretationRequest{Payload: &domain.Payload{Kind: domain.PayloadImage, MIMEType: "image/bmp", Data: []byte("BM")}}},
		{"two figures", InterpretationRequest{Payload: figure(), Data: figure()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.interp.Interpret(t.Context(), tt.req)
			var upe *domain.UnsupportedPayloadError
			if !errors.As(err, &upe) {
				t.Errorf("expected UnsupportedPayloadError, got %v", err)
			}
		})
	}
	if n := f.backend.sends.Load(); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
}

func TestInterpretTableWithFigure(t *testing.T) {
	f := newFixture(t)
	table := payload.FromTable("sales", []string{"month", "revenue"}, [][]string{{"jan", "10"}, {"feb", "12"}})

	if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), Data: &table}); err != nil {
		t.Fatal(err)
	}
	req := f.backend.lastRequest()
	if !strings.HasPrefix(req.Prompt, "Data to analyze:\n```\nmonth,revenue\njan,10\nfeb,12\n```") {
		t.Errorf("prompt = %q", req.Prompt)
	}
	if req.Attachment == nil {
		t.Error("figure should still be attached")
	}
}

func TestInterpretReusesCache(t *testing.T) {
	f := newFixture(t)
	kb := writeKB(t, strings.Repeat("domain knowledge ", 100))
	req := InterpretationRequest{Payload: figure(), KBPath: kb}

	first, err := f.interp.Interpret(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.interp.Interpret(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}

	if n := f.backend.creates.Load(); n != 1 {
		t.Errorf("creates = %d, want 1", n)
	}
	if !first.CacheCreated || second.CacheCreated {
		t.Errorf("created flags = %v, %v", first.CacheCreated, second.CacheCreated)
	}
	if !second.CacheUsed || second.Usage.CachedTokens == 0 {
		t.Errorf("second call should read from cache: %+v", second.Usage)
	}
	if second.Savings() <= 0 {
		t.Errorf("savings = %v, want > 0", second.Savings())
	}
}

func TestInterpretInvalidatesOnChange(t *testing.T) {
	f := newFixture(t)
	kb := writeKB(t, strings.Repeat("version one ", 100))
	req := InterpretationRequest{Payload: figure(), KBPath: kb}

	if _, err := f.interp.Interpret(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(kb, "notes.md"), []byte(strings.Repeat("version two ", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := f.interp.Interpret(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}

	if n := f.backend.creates.Load(); n != 2 {
		t.Errorf("creates = %d, want 2", n)
	}
	if n := f.backend.deletes.Load(); n != 1 {
		t.Errorf("deletes = %d, want 1", n)
	}
	if !res.CacheCreated {
		t.Error("second call should create a new cache")
	}
}

func TestInterpretBelowThresholdSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.backend.minTokens = 100_000
	kb := writeKB(t, "short note")

	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBPath: kb})
	if err != nil {
		t.Fatal(err)
	}
	if n := f.backend.creates.Load(); n != 0 {
		t.Errorf("creates = %d, want 0", n)
	}
	if res.CacheUsed || res.Degraded() {
		t.Errorf("below threshold: cache_used=%v warnings=%v", res.CacheUsed, res.Warnings)
	}
	if !res.Grounded || f.backend.lastRequest().Grounding == nil {
		t.Error("grounding should be sent inline")
	}
}

func TestInterpretConcurrentCallersShareOneCache(t *testing.T) {
	f := newFixture(t)
	f.backend.gate = make(chan struct{})
	kb := writeKB(t, strings.Repeat("shared knowledge ", 100))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.interp.Interpret(context.Background(), InterpretationRequest{Payload: figure(), KBPath: kb})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.backend.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := f.backend.creates.Load(); n != 1 {
		t.Errorf("creates = %d, want 1", n)
	}
	if n := f.session.Summary().Requests; n != callers {
		t.Errorf("recorded %d requests, want %d", n, callers)
	}
}

func TestInterpretDegradesWhenCacheFails(t *testing.T) {
	f := newFixture(t)
	f.backend.createErr = errors.New("quota exceeded for cached content")
	kb := writeKB(t, strings.Repeat("knowledge ", 100))

	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBPath: kb})
	if err != nil {
		t.Fatalf("cache failure must not fail the call: %v", err)
	}
	if !res.Degraded() || !strings.Contains(res.Warnings[0], "knowledge base sent inline") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.CacheUsed {
		t.Error("cache should not be used")
	}
	if f.backend.lastRequest().Grounding == nil {
		t.Error("grounding should be inlined")
	}
}

func TestInterpretNoCacheOption(t *testing.T) {
	f := newFixture(t)
	kb := writeKB(t, strings.Repeat("knowledge ", 100))

	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBPath: kb, NoCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if f.backend.creates.Load() != 0 || res.CacheUsed {
		t.Error("NoCache should bypass the cache store")
	}
}

func TestInterpretInlineKnowledge(t *testing.T) {
	f := newFixture(t)
	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: "glossary: ARR is annual recurring revenue"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Grounded {
		t.Error("inline knowledge should ground the request")
	}
	if g := f.backend.lastRequest().Grounding; g == nil || g.Source != "inline" {
		t.Errorf("grounding = %+v", g)
	}
}

func TestInterpretBackendErrorRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.backend.sendErr = domain.ClassifyStatus("fake", 503, "overloaded", nil)

	_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure()})
	var be *domain.BackendError
	if !errors.As(err, &be) || be.StatusCode != 503 {
		t.Fatalf("expected BackendError 503, got %v", err)
	}
	if n := f.backend.sends.Load(); n != 1 {
		t.Errorf("sends = %d, want 1 (no retries)", n)
	}
	if f.session.Summary().Requests != 0 {
		t.Error("failed call must not record usage")
	}
}

func TestInterpretMissingProviderCacheInvalidates(t *testing.T) {
	f := newFixture(t)
	kb := writeKB(t, strings.Repeat("knowledge ", 100))
	req := InterpretationRequest{Payload: figure(), KBPath: kb}

	if _, err := f.interp.Interpret(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	f.backend.sendErr = domain.ClassifyStatus("fake", 404, "cached content not found", nil)
	if _, err := f.interp.Interpret(t.Context(), req); err == nil {
		t.Fatal("expected error")
	}
	f.backend.sendErr = nil
	if _, err := f.interp.Interpret(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	if n := f.backend.creates.Load(); n != 2 {
		t.Errorf("creates = %d, want 2 after invalidation", n)
	}
}

func TestInterpretWithoutPricingWarns(t *testing.T) {
	f := newFixture(t)
	f.backend.noPricing = true
	res, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Usage.Cost != 0 || !res.Degraded() {
		t.Errorf("cost=%v warnings=%v", res.Usage.Cost, res.Warnings)
	}
}

func TestInterpretCancelled(t *testing.T) {
	f := newFixture(t)
	f.backend.sendErr = context.Canceled
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.interp.Interpret(ctx, InterpretationRequest{Payload: figure()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if f.session.Summary().Requests != 0 {
		t.Error("cancelled call must not record usage")
	}
}

func TestTokenGuard(t *testing.T) {
	kbContent := strings.Repeat("x", 4*60_000) // ~60k tokens

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t, WithTokenGuard(TokenGuard{Reject: 10_000}))
		_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: kbContent})
		var tle *domain.TokenLimitError
		if !errors.As(err, &tle) || tle.Declined {
			t.Errorf("expected rejection, got %v", err)
		}
	})

	t.Run("declined", func(t *testing.T) {
		approver := ApproverFunc(func(context.Context, string, int) (bool, error) { return false, nil })
		f := newFixture(t, WithApprover(approver))
		_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: kbContent})
		var tle *domain.TokenLimitError
		if !errors.As(err, &tle) || !tle.Declined {
			t.Errorf("expected declined, got %v", err)
		}
		if f.backend.sends.Load() != 0 {
			t.Error("declined request was sent")
		}
	})

	t.Run("approved", func(t *testing.T) {
		var asked atomic.Int32
		approver := ApproverFunc(func(_ context.Context, backend string, tokens int) (bool, error) {
			asked.Add(1)
			return backend == "fake" && tokens > 50_000, nil
		})
		f := newFixture(t, WithApprover(approver))
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: kbContent}); err != nil {
			t.Fatal(err)
		}
		if asked.Load() != 1 {
			t.Errorf("approver asked %d times", asked.Load())
		}
	})

	t.Run("auto approve", func(t *testing.T) {
		guard := DefaultTokenGuard()
		guard.AutoApprove = true
		f := newFixture(t, WithTokenGuard(guard))
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: kbContent}); err != nil {
			t.Fatal(err)
		}
	})
}

func TestStreamMatchesInterpret(t *testing.T) {
	kb := writeKB(t, strings.Repeat("calibration notes ", 200))
	tests := []struct {
		name string
		req  InterpretationRequest
	}{
		{"ungrounded", InterpretationRequest{Payload: figure(), Context: "sales"}},
		{"grounded inline", InterpretationRequest{Payload: figure(), KBPath: kb, NoCache: true}},
		{"grounded cached", InterpretationRequest{Payload: figure(), KBPath: kb}},
		{"inline content", InterpretationRequest{Payload: figure(), KBContent: strings.Repeat("x", 1000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Separate fixtures so both calls see the same cache state.
			sent := newFixture(t)
			want, err := sent.interp.Interpret(t.Context(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			streamed := newFixture(t)
			got, err := Collect(streamed.interp.Stream(t.Context(), tt.req))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Collect() = %+v\nInterpret() = %+v", got, want)
			}
			if streamed.session.Summary().Requests != 1 {
				t.Errorf("recorded %d requests, want 1", streamed.session.Summary().Requests)
			}
		})
	}
}

func TestStreamEarlyStopRecordsNothing(t *testing.T) {
	f := newFixture(t)
	chunks := 0
	for chunk, err := range f.interp.Stream(t.Context(), InterpretationRequest{Payload: figure()}) {
		if err != nil {
			t.Fatal(err)
		}
		if chunk.Done {
			t.Fatal("terminal chunk reached")
		}
		chunks++
		if chunks == 2 {
			break
		}
	}
	if f.session.Summary().Requests != 0 {
		t.Error("abandoned stream must not record usage")
	}
}

func TestStreamFallsBackToSend(t *testing.T) {
	f := newFixture(t)
	f.backend.streaming = false

	var texts []string
	var final *domain.StreamChunk
	for chunk, err := range f.interp.Stream(t.Context(), InterpretationRequest{Payload: figure()}) {
		if err != nil {
			t.Fatal(err)
		}
		if chunk.Done {
			final = &chunk
			continue
		}
		texts = append(texts, chunk.Text)
	}
	if len(texts) != 1 || texts[0] != answer {
		t.Errorf("texts = %q", texts)
	}
	if final == nil || final.Usage == nil || final.Usage.OutputTokens != 500 {
		t.Errorf("final chunk = %+v", final)
	}
}

func TestStreamErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	f.backend.sendErr = domain.ClassifyStatus("fake", 429, "slow down", nil)

	_, err := Collect(f.interp.Stream(t.Context(), InterpretationRequest{Payload: figure()}))
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Errorf("expected RateLimitError, got %v", err)
	}
	if f.session.Summary().Requests != 0 {
		t.Error("failed stream must not record usage")
	}
}

func TestCollectIncomplete(t *testing.T) {
	seq := func(yield func(domain.StreamChunk, error) bool) {
		yield(domain.StreamChunk{Text: "partial"}, nil)
	}
	if _, err := Collect(seq); !errors.Is(err, ErrIncompleteStream) {
		t.Errorf("expected ErrIncompleteStream, got %v", err)
	}
}

type countingBackend struct {
	*fakeBackend
	count  int
	err    error
	counts atomic.Int32
}

func (c *countingBackend) CountTokens(context.Context, *domain.Request) (int, error) {
	c.counts.Add(1)
	return c.count, c.err
}

type limitedBackend struct {
	*fakeBackend
	window int
}

func (l *limitedBackend) MaxContextTokens() int { return l.window }

func TestTokenCounterRefinesLargeRequests(t *testing.T) {
	large := strings.Repeat("x", 4*3000) // ~3000 estimated tokens

	t.Run("small requests are not counted", func(t *testing.T) {
		b := &countingBackend{fakeBackend: newFakeBackend(), count: 500_000}
		f := newFixtureFor(t, b.fakeBackend, b)
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure()}); err != nil {
			t.Fatal(err)
		}
		if b.counts.Load() != 0 {
			t.Errorf("counted %d times, want 0", b.counts.Load())
		}
	})

	t.Run("count replaces estimate", func(t *testing.T) {
		b := &countingBackend{fakeBackend: newFakeBackend(), count: 250_000}
		f := newFixtureFor(t, b.fakeBackend, b)
		_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: large})
		var tle *domain.TokenLimitError
		if !errors.As(err, &tle) || tle.Tokens != 250_000 || tle.Limit != 200_000 {
			t.Fatalf("expected rejection on counted tokens, got %v", err)
		}
		if b.counts.Load() != 1 || b.sends.Load() != 0 {
			t.Errorf("counts=%d sends=%d", b.counts.Load(), b.sends.Load())
		}
	})

	t.Run("count failure falls back to estimate", func(t *testing.T) {
		b := &countingBackend{fakeBackend: newFakeBackend(), err: errors.New("count unavailable")}
		f := newFixtureFor(t, b.fakeBackend, b)
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: large}); err != nil {
			t.Fatal(err)
		}
		if b.counts.Load() != 1 {
			t.Errorf("counted %d times, want 1", b.counts.Load())
		}
	})
}

func TestContextWindowRejectsOversizedRequests(t *testing.T) {
	large := strings.Repeat("x", 4*3000)

	t.Run("catalog window", func(t *testing.T) {
		f := newFixture(t)
		f.backend.window = 1000
		_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: large})
		var tle *domain.TokenLimitError
		if !errors.As(err, &tle) || !tle.ContextWindow || tle.Limit != 1000 {
			t.Fatalf("expected context window rejection, got %v", err)
		}
		if f.backend.sends.Load() != 0 || f.session.Summary().Requests != 0 {
			t.Error("oversized request was sent or recorded")
		}
	})

	t.Run("backend reported window", func(t *testing.T) {
		b := &limitedBackend{fakeBackend: newFakeBackend(), window: 2000}
		f := newFixtureFor(t, b.fakeBackend, b)
		_, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: large})
		var tle *domain.TokenLimitError
		if !errors.As(err, &tle) || tle.Limit != 2000 {
			t.Fatalf("expected context window rejection, got %v", err)
		}
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure()}); err != nil {
			t.Errorf("small request rejected: %v", err)
		}
	})

	t.Run("catalog wins over backend", func(t *testing.T) {
		b := &limitedBackend{fakeBackend: newFakeBackend(), window: 2000}
		b.fakeBackend.window = 100_000
		f := newFixtureFor(t, b.fakeBackend, b)
		if _, err := f.interp.Interpret(t.Context(), InterpretationRequest{Payload: figure(), KBContent: large}); err != nil {
			t.Errorf("request within catalog window rejected: %v", err)
		}
	})
}
