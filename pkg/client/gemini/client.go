package gemini

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

var geminiLogger = pkgLogger.NewComponentLogger("gemini-client")

var (
	_ domain.CacheRefresher = (*GeminiClient)(nil)
	_ domain.CacheFinder    = (*GeminiClient)(nil)
	_ domain.TokenCounter   = (*GeminiClient)(nil)
)

// Config configures a GeminiClient.
type Config struct {
	// Name is the registry id, "gemini-3" by default.
	Name        string
	Model       string
	APIKey      string
	Vertex      bool
	Project     string
	Location    string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
	InlineLimit int64
	Pricing     domain.PricingSource
}

// GeminiClient is the Gemini backend. It owns provider-side context caches
// through the Caches API and stages large payloads through the Files API.
type GeminiClient struct {
	client      *genai.Client
	name        string
	model       string
	maxTokens   int
	temperature *float64
	inlineLimit int64
	vertex      bool
	pricing     domain.PricingSource
}

// NewGeminiClient creates a client for the Gemini API, or Vertex AI when
// cfg.Vertex is set.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	if cfg.Vertex {
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, domain.NewAuthError(nameOr(cfg.Name), "GEMINI_API_KEY is not set")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client *genai.Client, cfg Config) *GeminiClient {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inlineLimit := cfg.InlineLimit
	if inlineLimit <= 0 {
		inlineLimit = defaultInlineLimit
	}
	return &GeminiClient{
		client:      client,
		name:        nameOr(cfg.Name),
		model:       getGeminiModel(cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		inlineLimit: inlineLimit,
		vertex:      cfg.Vertex,
		pricing:     cfg.Pricing,
	}
}

func nameOr(name string) string {
	if name == "" {
		return domain.BackendGemini
	}
	return name
}

func (c *GeminiClient) Name() string  { return c.name }
func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		InlineBinary: true,
		InlineLimit:  c.inlineLimit,
		// The Files API exists on the Gemini API only; Vertex reads gs:// URIs.
		StagedUpload:    !c.vertex,
		RemoteReference: true,
		ContextCaching:  true,
		Streaming:       true,
		Vision:          true,
		PDF:             supportsPDF(c.model),
	}
}

func (c *GeminiClient) Pricing() (domain.ModelPricing, error) {
	if c.pricing == nil {
		return domain.ModelPricing{}, domain.ErrNoPricing
	}
	return c.pricing.Lookup(c.name, c.model)
}

// prepare resolves the attachment transfer and the cache routing.
func (c *GeminiClient) prepare(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) ([]*genai.Content, *genai.GenerateContentConfig, bool, error) {
	attachment, err := c.attachmentPart(ctx, req.Attachment)
	if err != nil {
		return nil, nil, false, err
	}

	cacheName := ""
	if domain.UseCache(entry, req.Grounding, domain.MinCacheableTokens(c)) {
		cacheName = entry.Handle
	}

	temp := req.Temperature
	if temp == nil {
		temp = c.temperature
	}
	r := *req
	r.Temperature = temp

	contents := buildContents(&r, contentOptions{attachment: attachment, cached: cacheName != ""})
	config := buildConfig(&r, c.maxTokens, cacheName)
	return contents, config, cacheName != "", nil
}

func (c *GeminiClient) attachmentPart(ctx context.Context, p *domain.Payload) (*genai.Part, error) {
	transfer, err := domain.ChooseTransfer(c.name, c.Capabilities(), p)
	if err != nil {
		return nil, err
	}
	switch transfer {
	case domain.TransferInline:
		return genai.NewPartFromBytes(p.Data, p.MIMEType), nil
	case domain.TransferReference:
		return genai.NewPartFromURI(p.URI, p.MIMEType), nil
	case domain.TransferStaged:
		geminiLogger.InfoWithIntention(pkgLogger.IntentionUpload, "Uploading payload to Files API",
			"name", p.Name, "bytes", p.Size())
		file, err := c.client.Files.Upload(ctx, bytes.NewReader(p.Data), &genai.UploadFileConfig{
			MIMEType:    p.MIMEType,
			DisplayName: p.Name,
		})
		if err != nil {
			return nil, classifyError(c.name, err)
		}
		return genai.NewPartFromURI(file.URI, file.MIMEType), nil
	}
	return nil, nil
}

// Send issues a single GenerateContent call.
func (c *GeminiClient) Send(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) (*domain.Response, error) {
	contents, config, cached, err := c.prepare(ctx, req, entry)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, classifyError(c.name, err)
	}

	usage := usageFromMetadata(c.name, c.model, resp.UsageMetadata)
	geminiLogger.DebugWithIntention(pkgLogger.IntentionStatistics, "Gemini API usage",
		"input_tokens", usage.InputTokens, "cached_tokens", usage.CachedTokens,
		"output_tokens", usage.OutputTokens, "model", c.model)

	text := responseText(resp)
	if text == "" {
		return nil, &domain.BackendError{VendorError: domain.VendorError{Backend: c.name, Message: "empty response from Gemini"}}
	}
	return &domain.Response{Text: text, Usage: usage, CacheUsed: cached}, nil
}

// Stream yields text as it is generated, then one terminal usage chunk.
func (c *GeminiClient) Stream(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		contents, config, cached, err := c.prepare(ctx, req, entry)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}

		var last *genai.GenerateContentResponseUsageMetadata
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				yield(domain.StreamChunk{}, classifyError(c.name, err))
				return
			}
			if resp.UsageMetadata != nil {
				last = resp.UsageMetadata
			}
			if text := responseText(resp); text != "" {
				if !yield(domain.StreamChunk{Text: text, CacheUsed: cached}, nil) {
					return
				}
			}
		}

		usage := usageFromMetadata(c.name, c.model, last)
		yield(domain.StreamChunk{Usage: &usage, CacheUsed: cached, Done: true}, nil)
	}
}

// CreateCache stores the knowledge base in a provider-side cached content.
func (c *GeminiClient) CreateCache(ctx context.Context, g *domain.Grounding, ttl time.Duration) (*domain.CacheHandle, error) {
	displayName := cacheDisplayName(g.Fingerprint)
	cc, err := c.client.Caches.Create(ctx, c.model, &genai.CreateCachedContentConfig{
		TTL:         ttl,
		DisplayName: displayName,
		Contents:    cacheContents(g),
	})
	if err != nil {
		return nil, classifyError(c.name, err)
	}

	h := &domain.CacheHandle{Name: cc.Name, ExpiresAt: cc.ExpireTime}
	if cc.UsageMetadata != nil {
		h.Tokens = int(cc.UsageMetadata.TotalTokenCount)
	}
	geminiLogger.InfoWithIntention(pkgLogger.IntentionCache, "Created Gemini cached content",
		"name", cc.Name, "display_name", displayName, "tokens", h.Tokens)
	return h, nil
}

// DeleteCache removes a cached content.
func (c *GeminiClient) DeleteCache(ctx context.Context, handle string) error {
	if _, err := c.client.Caches.Delete(ctx, handle, nil); err != nil {
		return classifyError(c.name, err)
	}
	return nil
}

// RefreshCache extends the TTL of a cached content.
func (c *GeminiClient) RefreshCache(ctx context.Context, handle string, ttl time.Duration) (time.Time, error) {
	cc, err := c.client.Caches.Update(ctx, handle, &genai.UpdateCachedContentConfig{TTL: ttl})
	if err != nil {
		return time.Time{}, classifyError(c.name, err)
	}
	return cc.ExpireTime, nil
}

// FindCache looks up a live cached content for g created by an earlier run
// against the same model. The display name carries the fingerprint.
func (c *GeminiClient) FindCache(ctx context.Context, g *domain.Grounding) (*domain.CacheHandle, error) {
	displayName := cacheDisplayName(g.Fingerprint)
	now := time.Now()
	for cc, err := range c.client.Caches.All(ctx) {
		if err != nil {
			return nil, classifyError(c.name, err)
		}
		if h := matchCachedContent(cc, displayName, c.model, now); h != nil {
			geminiLogger.DebugWithIntention(pkgLogger.IntentionCache, "Found existing Gemini cached content",
				"name", cc.Name, "display_name", displayName)
			return h, nil
		}
	}
	return nil, nil
}

// CountTokens asks the API for the prompt size of req.
func (c *GeminiClient) CountTokens(ctx context.Context, req *domain.Request) (int, error) {
	r := *req
	r.Attachment = nil
	r.Grounding = nil
	contents := buildContents(&r, contentOptions{})
	if !req.Grounding.Empty() {
		contents = append(cacheContents(req.Grounding), contents...)
	}
	resp, err := c.client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, classifyError(c.name, err)
	}
	return int(resp.TotalTokens), nil
}
