package ollama

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/fpt/kanoa/pkg/domain"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

const (
	defaultModel     = "gemma3:4b"
	defaultMaxTokens = 4096 // Default for Ollama models
	// Images are sent inline in the chat request; large payloads slow the
	// local server but are not rejected.
	defaultInlineLimit = 20 * 1024 * 1024
)

var ollamaLogger = pkgLogger.NewComponentLogger("ollama-client")

var _ domain.ContextLimiter = (*OllamaClient)(nil)

// errStopStream aborts the chat callback when the consumer stops iterating.
var errStopStream = errors.New("stream stopped by consumer")

// Config configures an OllamaClient.
type Config struct {
	Name        string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
	InlineLimit int64
	Pricing     domain.PricingSource
}

// OllamaClient runs interpretations against a local Ollama server.
type OllamaClient struct {
	client      *api.Client
	name        string
	model       string
	maxTokens   int
	temperature *float64
	inlineLimit int64
	pricing     domain.PricingSource
}

// NewOllamaClient creates a client for BaseURL, or from OLLAMA_HOST when
// BaseURL is empty.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid Ollama base URL %q", cfg.BaseURL)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Ollama client")
		}
		client = c
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client *api.Client, cfg Config) *OllamaClient {
	name := cfg.Name
	if name == "" {
		name = domain.BackendOllama
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	inlineLimit := cfg.InlineLimit
	if inlineLimit <= 0 {
		inlineLimit = defaultInlineLimit
	}
	return &OllamaClient{
		client:      client,
		name:        name,
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		inlineLimit: inlineLimit,
		pricing:     cfg.Pricing,
	}
}

func (c *OllamaClient) Name() string  { return c.name }
func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		InlineBinary: true,
		InlineLimit:  c.inlineLimit,
		Streaming:    true,
		Vision:       IsVisionCapableModel(c.model),
	}
}

func (c *OllamaClient) Pricing() (domain.ModelPricing, error) {
	if c.pricing == nil {
		return domain.ModelPricing{}, domain.ErrNoPricing
	}
	return c.pricing.Lookup(c.name, c.model)
}

// MaxContextTokens returns the known context window, 0 when unknown.
func (c *OllamaClient) MaxContextTokens() int {
	return GetModelContextWindow(c.model)
}

func (c *OllamaClient) buildRequest(req *domain.Request, stream bool) (*api.ChatRequest, error) {
	transfer, err := domain.ChooseTransfer(c.name, c.Capabilities(), req.Attachment)
	if err != nil {
		return nil, err
	}
	messages, skipped := toOllamaMessages(req, transfer)
	if len(skipped) > 0 {
		ollamaLogger.WarnWithIntention(pkgLogger.IntentionWarning, "Skipped knowledge base documents the model cannot read",
			"model", c.model, "documents", skipped)
	}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temp := req.Temperature
	if temp == nil {
		temp = c.temperature
	}
	return &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  requestOptions(maxTokens, temp, req.Seed),
	}, nil
}

// chat runs a chat request, passing every content delta to onDelta, and
// returns the usage from the final chunk.
func (c *OllamaClient) chat(ctx context.Context, chatRequest *api.ChatRequest, onDelta func(string) error) (domain.UsageRecord, error) {
	usage := domain.UsageRecord{Backend: c.name, Model: c.model}
	err := c.client.Chat(ctx, chatRequest, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if err := onDelta(resp.Message.Content); err != nil {
				return err
			}
		}
		if resp.Done {
			usage = usageFromOllama(c.name, c.model, resp)
		}
		return nil
	})
	return usage, err
}

// Send issues a single non-streaming chat request. entry is ignored.
func (c *OllamaClient) Send(ctx context.Context, req *domain.Request, _ *domain.CacheEntry) (*domain.Response, error) {
	chatRequest, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	usage, err := c.chat(ctx, chatRequest, func(delta string) error {
		content.WriteString(delta)
		return nil
	})
	if err != nil {
		return nil, classifyError(c.name, err)
	}

	ollamaLogger.DebugWithIntention(pkgLogger.IntentionStatistics, "Ollama usage",
		"model", c.model, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	return &domain.Response{Text: content.String(), Usage: usage}, nil
}

// Stream yields content deltas and a terminal usage chunk.
func (c *OllamaClient) Stream(ctx context.Context, req *domain.Request, _ *domain.CacheEntry) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		chatRequest, err := c.buildRequest(req, true)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}

		usage, err := c.chat(ctx, chatRequest, func(delta string) error {
			if !yield(domain.StreamChunk{Text: delta}, nil) {
				return errStopStream
			}
			return nil
		})
		if errors.Is(err, errStopStream) {
			return
		}
		if err != nil {
			yield(domain.StreamChunk{}, classifyError(c.name, err))
			return
		}
		yield(domain.StreamChunk{Usage: &usage, Done: true}, nil)
	}
}
