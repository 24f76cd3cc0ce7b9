package anthropic

import (
	"context"
	"iter"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

var anthropicLogger = pkgLogger.NewComponentLogger("anthropic-client")

var _ domain.TokenCounter = (*AnthropicClient)(nil)

// Config configures an AnthropicClient.
type Config struct {
	Name        string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
	InlineLimit int64
	Pricing     domain.PricingSource
}

// AnthropicClient is the Claude backend. Claude prompt caching is implicit:
// CreateCache issues a local handle and requests carrying it mark the
// knowledge-base prefix with an ephemeral cache_control breakpoint.
type AnthropicClient struct {
	client      *anthropic.Client
	name        string
	model       string
	maxTokens   int
	temperature *float64
	inlineLimit int64
	pricing     domain.PricingSource
}

// NewAnthropicClient creates a Claude client. SDK retries are disabled.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	name := cfg.Name
	if name == "" {
		name = domain.BackendClaude
	}
	if cfg.APIKey == "" {
		return nil, domain.NewAuthError(name, "ANTHROPIC_API_KEY is not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	c := newWithClient(&client, cfg)
	c.name = name
	return c, nil
}

func newWithClient(client *anthropic.Client, cfg Config) *AnthropicClient {
	name := cfg.Name
	if name == "" {
		name = domain.BackendClaude
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inlineLimit := cfg.InlineLimit
	if inlineLimit <= 0 {
		inlineLimit = defaultInlineLimit
	}
	return &AnthropicClient{
		client:      client,
		name:        name,
		model:       string(getAnthropicModel(cfg.Model)),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		inlineLimit: inlineLimit,
		pricing:     cfg.Pricing,
	}
}

func (c *AnthropicClient) Name() string  { return c.name }
func (c *AnthropicClient) Model() string { return c.model }

func (c *AnthropicClient) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		InlineBinary:    true,
		InlineLimit:     c.inlineLimit,
		PDFInlineLimit:  pdfInlineLimit,
		RemoteReference: true,
		ContextCaching:  true,
		Streaming:       true,
		Vision:          true,
		PDF:             true,
	}
}

func (c *AnthropicClient) Pricing() (domain.ModelPricing, error) {
	if c.pricing == nil {
		return domain.ModelPricing{}, domain.ErrNoPricing
	}
	return c.pricing.Lookup(c.name, c.model)
}

func (c *AnthropicClient) buildParams(req *domain.Request, entry *domain.CacheEntry) (anthropic.MessageNewParams, bool, error) {
	transfer, err := domain.ChooseTransfer(c.name, c.Capabilities(), req.Attachment)
	if err != nil {
		return anthropic.MessageNewParams{}, false, err
	}

	cached := domain.UseCache(entry, req.Grounding, domain.MinCacheableTokens(c))
	var ttl time.Duration
	if cached {
		ttl = entry.TTL
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     anthropic.Model(c.model),
		System:    buildSystem(req, cached, ttl),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(buildUserBlocks(req, transfer, cached, ttl)...),
		},
	}
	temp := req.Temperature
	if temp == nil {
		temp = c.temperature
	}
	if temp != nil {
		params.Temperature = anthropic.Float(*temp)
	}
	return params, cached, nil
}

// Send issues a single Messages call.
func (c *AnthropicClient) Send(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) (*domain.Response, error) {
	params, cached, err := c.buildParams(req, entry)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(c.name, err)
	}

	usage := usageFromAnthropic(c.name, c.model, msg.Usage)
	anthropicLogger.DebugWithIntention(pkgLogger.IntentionStatistics, "Anthropic API usage",
		"input_tokens", usage.InputTokens, "cache_read", usage.CachedTokens,
		"cache_write", usage.CacheWriteTokens, "output_tokens", usage.OutputTokens)

	return &domain.Response{Text: messageText(msg), Usage: usage, CacheUsed: cached}, nil
}

// Stream yields text deltas and a terminal usage chunk built from the
// accumulated message.
func (c *AnthropicClient) Stream(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		params, cached, err := c.buildParams(req, entry)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}

		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				yield(domain.StreamChunk{}, classifyError(c.name, err))
				return
			}
			if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if !yield(domain.StreamChunk{Text: event.Delta.Text, CacheUsed: cached}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(domain.StreamChunk{}, classifyError(c.name, err))
			return
		}

		usage := usageFromAnthropic(c.name, c.model, acc.Usage)
		yield(domain.StreamChunk{Usage: &usage, CacheUsed: cached, Done: true}, nil)
	}
}

// CreateCache issues a local handle. The provider cache is written by the
// first request that carries the cache_control breakpoint.
func (c *AnthropicClient) CreateCache(_ context.Context, g *domain.Grounding, ttl time.Duration) (*domain.CacheHandle, error) {
	if ttl > time.Hour {
		ttl = time.Hour
	}
	return &domain.CacheHandle{
		Name:      HandlePrefix + g.Fingerprint,
		ExpiresAt: time.Now().Add(ttl),
		Tokens:    g.Tokens,
	}, nil
}

// DeleteCache is a no-op; ephemeral caches expire on their own.
func (c *AnthropicClient) DeleteCache(context.Context, string) error {
	return nil
}

// CountTokens uses the token counting endpoint.
func (c *AnthropicClient) CountTokens(ctx context.Context, req *domain.Request) (int, error) {
	params, _, err := c.buildParams(req, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    params.Model,
		Messages: params.Messages,
		System:   anthropic.MessageCountTokensParamsSystemUnion{OfTextBlockArray: params.System},
	})
	if err != nil {
		return 0, classifyError(c.name, err)
	}
	return int(res.InputTokens), nil
}
