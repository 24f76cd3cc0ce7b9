package openai

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

var openaiLogger = pkgLogger.NewComponentLogger("openai-client")

// Config configures an OpenAIClient.
type Config struct {
	// Name is the registry identifier: openai, vllm or molmo.
	Name        string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
	InlineLimit int64
	Pricing     domain.PricingSource
}

// OpenAIClient talks to the chat completions API of OpenAI or of an
// OpenAI-compatible server such as vLLM. There is no explicit cache API;
// OpenAI caches long prompt prefixes automatically and reports them as
// cached tokens.
type OpenAIClient struct {
	client      *openai.Client
	name        string
	model       string
	maxTokens   int
	temperature *float64
	inlineLimit int64
	pricing     domain.PricingSource

	// streamingUnsupported is set when the API rejects streaming
	// (e.g., org not verified). Subsequent calls avoid streaming.
	streamingUnsupported atomic.Bool
}

// NewOpenAIClient creates a client. SDK retries are disabled.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	name := cfg.Name
	if name == "" {
		name = domain.BackendOpenAI
	}
	if cfg.APIKey == "" {
		return nil, domain.NewAuthError(name, "API key is not set")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	// Support custom base URL (vLLM, Azure OpenAI, etc.)
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	cfg.Name = name
	return newWithClient(&client, cfg), nil
}

func newWithClient(client *openai.Client, cfg Config) *OpenAIClient {
	name := cfg.Name
	if name == "" {
		name = domain.BackendOpenAI
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inlineLimit := cfg.InlineLimit
	if inlineLimit <= 0 {
		inlineLimit = defaultInlineLimit
	}
	return &OpenAIClient{
		client:      client,
		name:        name,
		model:       getOpenAIModel(name, cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		inlineLimit: inlineLimit,
		pricing:     cfg.Pricing,
	}
}

func (c *OpenAIClient) Name() string  { return c.name }
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		InlineBinary:    true,
		InlineLimit:     c.inlineLimit,
		RemoteReference: true,
		Streaming:       true,
		Vision:          true,
		PDF:             hostedOpenAI(c.name),
	}
}

func (c *OpenAIClient) Pricing() (domain.ModelPricing, error) {
	if c.pricing == nil {
		return domain.ModelPricing{}, domain.ErrNoPricing
	}
	return c.pricing.Lookup(c.name, c.model)
}

func (c *OpenAIClient) buildParams(req *domain.Request) (openai.ChatCompletionNewParams, error) {
	transfer, err := domain.ChooseTransfer(c.name, c.Capabilities(), req.Attachment)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	parts, skipped, err := buildUserParts(c.name, req, transfer)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	if len(skipped) > 0 {
		openaiLogger.WarnWithIntention(pkgLogger.IntentionWarning, "Skipped knowledge base documents the model cannot read",
			"backend", c.name, "documents", skipped)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if system := systemText(req); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(parts))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if hostedOpenAI(c.name) {
		// Reasoning models reject max_tokens
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
		if key := promptCacheKey(req.Grounding); key != "" {
			params.PromptCacheKey = openai.String(key)
		}
	} else {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	temp := req.Temperature
	if temp == nil {
		temp = c.temperature
	}
	if temp != nil {
		params.Temperature = openai.Float(*temp)
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	return params, nil
}

// Send issues a single chat completion. entry is ignored: caching is implicit.
func (c *OpenAIClient) Send(ctx context.Context, req *domain.Request, _ *domain.CacheEntry) (*domain.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(c.name, err)
	}

	usage := usageFromOpenAI(c.name, c.model, completion.Usage)
	openaiLogger.DebugWithIntention(pkgLogger.IntentionStatistics, "OpenAI API usage",
		"backend", c.name, "input_tokens", usage.InputTokens,
		"cached_tokens", usage.CachedTokens, "output_tokens", usage.OutputTokens)

	return &domain.Response{Text: completionText(completion), Usage: usage}, nil
}

// Stream yields content deltas and a terminal usage chunk. When the account
// is not allowed to stream, it falls back to a single Send.
func (c *OpenAIClient) Stream(ctx context.Context, req *domain.Request, entry *domain.CacheEntry) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		if c.streamingUnsupported.Load() {
			c.streamViaSend(ctx, req, entry, yield)
			return
		}

		params, err := c.buildParams(req)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var usage *domain.UsageRecord
		emitted := false
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				u := usageFromOpenAI(c.name, c.model, chunk.Usage)
				usage = &u
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			emitted = true
			if !yield(domain.StreamChunk{Text: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			if !emitted && isStreamingUnsupportedError(err) {
				openaiLogger.InfoWithIntention(pkgLogger.IntentionWarning, "Streaming not allowed; falling back to non-streaming",
					"backend", c.name, "model", c.model)
				c.streamingUnsupported.Store(true)
				c.streamViaSend(ctx, req, entry, yield)
				return
			}
			yield(domain.StreamChunk{}, classifyError(c.name, err))
			return
		}

		if usage == nil {
			// Some compatible servers ignore include_usage.
			usage = &domain.UsageRecord{Backend: c.name, Model: c.model}
		}
		yield(domain.StreamChunk{Usage: usage, Done: true}, nil)
	}
}

func (c *OpenAIClient) streamViaSend(ctx context.Context, req *domain.Request, entry *domain.CacheEntry, yield func(domain.StreamChunk, error) bool) {
	resp, err := c.Send(ctx, req, entry)
	if err != nil {
		yield(domain.StreamChunk{}, err)
		return
	}
	if resp.Text != "" && !yield(domain.StreamChunk{Text: resp.Text}, nil) {
		return
	}
	yield(domain.StreamChunk{Usage: &resp.Usage, Done: true}, nil)
}
