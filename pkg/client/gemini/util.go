package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/prompt"
)

// Gemini models
// https://ai.google.dev/gemini-api/docs/models
const (
	modelGemini3Pro     = "gemini-3-pro-preview"
	modelGemini3Flash   = "gemini-3-flash-preview"
	modelGemini25Pro    = "gemini-2.5-pro"
	modelGemini25Flash  = "gemini-2.5-flash"
	defaultInlineLimit  = 20 * 1024 * 1024
	defaultMaxTokens    = 3000
	knowledgeBaseHeader = "# Knowledge Base\n\n"
)

// getGeminiModel maps user-friendly model names to Gemini model identifiers.
func getGeminiModel(model string) string {
	switch model {
	case "", "gemini-3", "gemini-3-pro", "pro":
		return modelGemini3Pro
	case "gemini-3-flash", "flash":
		return modelGemini3Flash
	case "gemini-pro":
		return modelGemini25Pro
	case "gemini-flash":
		return modelGemini25Flash
	}
	return model
}

// supportsPDF reports whether the model accepts application/pdf parts.
func supportsPDF(model string) bool {
	return strings.HasPrefix(model, "gemini-3") || strings.HasPrefix(model, "gemini-2.5")
}

// contentOptions carries the resolved pieces of a request.
type contentOptions struct {
	attachment *genai.Part
	cached     bool
}

// buildContents converts a request into the single user turn sent to the
// model. When grounding is served from a cache the system text travels in
// the user turn, because cached requests may not set a system instruction.
func buildContents(req *domain.Request, opts contentOptions) []*genai.Content {
	var parts []*genai.Part

	if opts.cached && req.System != "" {
		parts = append(parts, genai.NewPartFromText(req.System))
	}
	if !opts.cached && req.Grounding != nil {
		for _, doc := range req.Grounding.Documents {
			parts = append(parts, genai.NewPartFromBytes(doc.Data, doc.MIMEType))
		}
	}
	if opts.attachment != nil {
		parts = append(parts, opts.attachment)
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildConfig fills the generation config. cacheName is empty when the
// grounding is inlined.
func buildConfig(req *domain.Request, maxTokens int, cacheName string) *genai.GenerateContentConfig {
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.Seed != nil {
		s := int32(*req.Seed)
		config.Seed = &s
	}

	if cacheName != "" {
		config.CachedContent = cacheName
		return config
	}

	system := req.System
	if req.Grounding != nil {
		system = prompt.GroundedSystem(system, req.Grounding.Text)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return config
}

// cacheContents is what gets stored provider-side for a knowledge base.
func cacheContents(g *domain.Grounding) []*genai.Content {
	var parts []*genai.Part
	if g.Text != "" {
		parts = append(parts, genai.NewPartFromText(knowledgeBaseHeader+g.Text))
	}
	for _, doc := range g.Documents {
		parts = append(parts, genai.NewPartFromBytes(doc.Data, doc.MIMEType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// usageFromMetadata maps Gemini usage. PromptTokenCount already includes the
// cached tokens; thinking tokens are billed as output.
func usageFromMetadata(backend, model string, md *genai.GenerateContentResponseUsageMetadata) domain.UsageRecord {
	u := domain.UsageRecord{Backend: backend, Model: model}
	if md == nil {
		return u
	}
	u.InputTokens = int64(md.PromptTokenCount)
	u.CachedTokens = int64(md.CachedContentTokenCount)
	u.OutputTokens = int64(md.CandidatesTokenCount) + int64(md.ThoughtsTokenCount)
	return u
}

// responseText concatenates non-thought text parts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// classifyError maps genai errors onto the domain taxonomy.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.ClassifyStatus(backend, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return domain.ClassifyStatus(backend, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return &domain.BackendError{VendorError: domain.VendorError{Backend: backend, Err: err}}
}

// cacheDisplayName names a cached content after the knowledge-base fingerprint
// so a later process can find it again.
func cacheDisplayName(fingerprint string) string {
	return "kanoa-" + fingerprint
}

// matchCachedContent returns a handle for cc when it was created for
// displayName on model and has not expired.
func matchCachedContent(cc *genai.CachedContent, displayName, model string, now time.Time) *domain.CacheHandle {
	if cc == nil || cc.DisplayName != displayName {
		return nil
	}
	if strings.TrimPrefix(cc.Model, "models/") != strings.TrimPrefix(model, "models/") {
		return nil
	}
	if !cc.ExpireTime.IsZero() && !cc.ExpireTime.After(now) {
		return nil
	}
	h := &domain.CacheHandle{Name: cc.Name, ExpiresAt: cc.ExpireTime}
	if cc.UsageMetadata != nil {
		h.Tokens = int(cc.UsageMetadata.TotalTokenCount)
	}
	return h
}
