package ollama

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ollama/ollama/api"

	"github.com/fpt/kanoa/pkg/domain"
)

func TestModelLookup(t *testing.T) {
	tests := []struct {
		model   string
		vision  bool
		context int
	}{
		{"gemma3:4b", true, 128000},
		{"gpt-oss:20b", false, 128000},
		{"some-new-model:7b", true, 0},
	}
	for _, tt := range tests {
		if got := IsVisionCapableModel(tt.model); got != tt.vision {
			t.Errorf("IsVisionCapableModel(%q) = %v, want %v", tt.model, got, tt.vision)
		}
		if got := GetModelContextWindow(tt.model); got != tt.context {
			t.Errorf("GetModelContextWindow(%q) = %d, want %d", tt.model, got, tt.context)
		}
	}
}

func TestToOllamaMessages(t *testing.T) {
	req := &domain.Request{
		System: "sys",
		Prompt: "Analyze.",
		Attachment: &domain.Payload{
			Kind: domain.PayloadImage, MIMEType: "image/png", Data: []byte("attachment"),
		},
		Grounding: &domain.Grounding{
			Text: "facts",
			Documents: []domain.Document{
				{Name: "a.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
				{Name: "b.png", MIMEType: "image/png", Data: []byte("kb")},
			},
		},
	}

	messages, skipped := toOllamaMessages(req, domain.TransferInline)
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Role != roleSystem || messages[0].Content != "sys\n\n# Knowledge Base\n\nfacts" {
		t.Errorf("system message = %+v", messages[0])
	}
	user := messages[1]
	if user.Content != "Analyze." {
		t.Errorf("user content = %q", user.Content)
	}
	if len(user.Images) != 2 || string(user.Images[0]) != "kb" || string(user.Images[1]) != "attachment" {
		t.Errorf("images = %q", user.Images)
	}
	if len(skipped) != 1 || skipped[0] != "a.pdf" {
		t.Errorf("skipped = %v", skipped)
	}
}

func TestBuildRequestRejectsPDF(t *testing.T) {
	c := newWithClient(nil, Config{})
	_, err := c.buildRequest(&domain.Request{
		Prompt:     "go",
		Attachment: &domain.Payload{Kind: domain.PayloadPDF, MIMEType: "application/pdf", Data: []byte("%PDF")},
	}, false)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestBuildRequestOptions(t *testing.T) {
	temp := 0.3
	seed := int64(42)
	c := newWithClient(nil, Config{MaxTokens: 512})
	chatRequest, err := c.buildRequest(&domain.Request{Prompt: "go", Temperature: &temp, Seed: &seed}, true)
	if err != nil {
		t.Fatal(err)
	}
	if chatRequest.Model != defaultModel {
		t.Errorf("model = %q", chatRequest.Model)
	}
	if chatRequest.Stream == nil || !*chatRequest.Stream {
		t.Error("stream flag not set")
	}
	if chatRequest.Options["num_predict"] != 512 || chatRequest.Options["temperature"] != 0.3 || chatRequest.Options["seed"] != int64(42) {
		t.Errorf("options = %+v", chatRequest.Options)
	}
}

func TestUsageFromOllama(t *testing.T) {
	var resp api.ChatResponse
	resp.PromptEvalCount = 900
	resp.EvalCount = 120
	u := usageFromOllama(domain.BackendOllama, "gemma3:4b", resp)
	if u.InputTokens != 900 || u.OutputTokens != 120 || u.CachedTokens != 0 {
		t.Errorf("usage = %+v", u)
	}
}

func TestClassifyError(t *testing.T) {
	var ve *domain.ValidationError
	err := classifyError(domain.BackendOllama, api.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: "model not found"})
	if !errors.As(err, &ve) {
		t.Errorf("404 = %T", err)
	}
	var be *domain.BackendError
	if err := classifyError(domain.BackendOllama, errors.New("connection refused")); !errors.As(err, &be) {
		t.Errorf("transport error = %T", err)
	}
	if err := classifyError(domain.BackendOllama, context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline should pass through, got %v", err)
	}
}

func TestPricingWithoutSource(t *testing.T) {
	c := newWithClient(nil, Config{})
	if _, err := c.Pricing(); !errors.Is(err, domain.ErrNoPricing) {
		t.Errorf("expected ErrNoPricing, got %v", err)
	}
	if domain.SupportsCaching(c) {
		t.Error("ollama cannot cache")
	}
}

func TestContextWindowFromModelTable(t *testing.T) {
	c := newWithClient(nil, Config{Model: "gemma3:4b"})
	if got := domain.ContextWindow(c); got != 128000 {
		t.Errorf("ContextWindow = %d, want 128000", got)
	}
	c = newWithClient(nil, Config{Model: "some-new-model:7b"})
	if got := domain.ContextWindow(c); got != 0 {
		t.Errorf("unknown model ContextWindow = %d, want 0", got)
	}
}
