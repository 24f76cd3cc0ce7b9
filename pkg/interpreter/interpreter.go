// Package interpreter orchestrates a single interpretation: backend
// selection, knowledge-base grounding, cache routing, the vendor call and
// usage accounting.
package interpreter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpt/kanoa/internal/repository"
	"github.com/fpt/kanoa/pkg/cache"
	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/knowledge"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
	"github.com/fpt/kanoa/pkg/payload"
	"github.com/fpt/kanoa/pkg/pricing"
	"github.com/fpt/kanoa/pkg/prompt"
	"github.com/fpt/kanoa/pkg/usage"
)

// BackendRegistry resolves backend identifiers.
type BackendRegistry interface {
	Lookup(ctx context.Context, id string) (domain.Backend, error)
}

// Interpreter runs interpretations against registered backends. It is safe
// for concurrent use; only the cache store and usage session are shared
// between calls.
type Interpreter struct {
	backends       BackendRegistry
	store          *cache.Store
	session        *usage.Session
	fsys           repository.FilesystemRepository
	templates      *prompt.Templates
	guard          TokenGuard
	approver       Approver
	cacheTTL       time.Duration
	defaultBackend string
	kbType         knowledge.Type

	logger *pkgLogger.Logger
	tracer trace.Tracer
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithCacheStore enables provider-side caching of knowledge bases.
func WithCacheStore(s *cache.Store) Option {
	return func(i *Interpreter) { i.store = s }
}

// WithSession records usage into s instead of a fresh session.
func WithSession(s *usage.Session) Option {
	return func(i *Interpreter) { i.session = s }
}

// WithFilesystem sets where knowledge bases are read from.
func WithFilesystem(fsys repository.FilesystemRepository) Option {
	return func(i *Interpreter) { i.fsys = fsys }
}

func WithTemplates(t *prompt.Templates) Option {
	return func(i *Interpreter) {
		if t != nil {
			i.templates = t
		}
	}
}

func WithTokenGuard(g TokenGuard) Option {
	return func(i *Interpreter) { i.guard = g }
}

func WithApprover(a Approver) Option {
	return func(i *Interpreter) { i.approver = a }
}

// WithCacheTTL sets the lifetime requested for new provider caches.
func WithCacheTTL(ttl time.Duration) Option {
	return func(i *Interpreter) { i.cacheTTL = ttl }
}

// WithDefaultBackend selects the backend used when a request names none.
func WithDefaultBackend(id string) Option {
	return func(i *Interpreter) { i.defaultBackend = id }
}

// WithKnowledgeType sets the kb_type used when a request leaves it empty.
func WithKnowledgeType(t knowledge.Type) Option {
	return func(i *Interpreter) { i.kbType = t }
}

func WithLogger(l *pkgLogger.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// New creates an interpreter over backends.
func New(backends BackendRegistry, opts ...Option) *Interpreter {
	i := &Interpreter{
		backends:       backends,
		templates:      prompt.Default(),
		guard:          DefaultTokenGuard(),
		cacheTTL:       cache.DefaultTTL,
		defaultBackend: domain.BackendGemini,
		kbType:         knowledge.TypeAuto,
		logger:         pkgLogger.NewComponentLogger("interpreter"),
		tracer:         otel.Tracer("github.com/fpt/kanoa/pkg/interpreter"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.session == nil {
		i.session = usage.NewSession()
	}
	return i
}

// Session returns the usage session every successful call is recorded into.
func (i *Interpreter) Session() *usage.Session {
	return i.session
}

// call is a prepared interpretation.
type call struct {
	backend  domain.Backend
	req      *domain.Request
	entry    *domain.CacheEntry
	created  bool
	grounded bool
	warnings []string
}

// Interpret runs one request. Usage is recorded only on success and nothing
// is retried.
func (i *Interpreter) Interpret(ctx context.Context, req InterpretationRequest) (*InterpretationResult, error) {
	ctx, span := i.tracer.Start(ctx, "interpret")
	defer span.End()

	c, err := i.prepare(ctx, req)
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("kanoa.backend", c.backend.Name()), attribute.String("kanoa.model", c.backend.Model()))

	resp, err := c.backend.Send(ctx, c.req, c.entry)
	if err != nil {
		i.afterFailure(ctx, c, err)
		return nil, spanError(span, err)
	}

	res := i.finish(ctx, c, resp.Text, resp.Usage, resp.CacheUsed)
	annotate(span, res)
	return res, nil
}

func (i *Interpreter) prepare(ctx context.Context, req InterpretationRequest) (*call, error) {
	id := req.Backend
	if id == "" {
		id = i.defaultBackend
	}
	backend, err := i.backends.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	attachment, data, err := splitPayload(req)
	if err != nil {
		return nil, err
	}

	c := &call{backend: backend}
	grounding, err := i.loadGrounding(ctx, req)
	if err != nil {
		return nil, err
	}
	c.grounded = !grounding.Empty()

	user := i.templates.RenderUser(backend.Name(), req.Context, req.Focus, req.CustomPrompt)
	c.req = &domain.Request{
		System:      i.templates.System(backend.Name()),
		Prompt:      buildPrompt(data, user),
		Attachment:  attachment,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Seed:        req.Seed,
	}
	if c.grounded {
		c.req.Grounding = grounding
	}

	tokens := i.measure(ctx, backend, c.req)
	if window := domain.ContextWindow(backend); window > 0 && tokens > window {
		return nil, &domain.TokenLimitError{Tokens: tokens, Limit: window, ContextWindow: true}
	}
	verdict, err := i.guard.check(ctx, i.approver, backend.Name(), tokens)
	if err != nil {
		return nil, err
	}
	if verdict == verdictWarn {
		i.logger.WarnWithIntention(pkgLogger.IntentionCost, "Large request",
			"backend", backend.Name(), "estimated_tokens", tokens)
	}

	if c.grounded && !req.NoCache {
		if err := i.routeCache(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// splitPayload separates the binary attachment from tabular or text data
// rendered into the prompt.
func splitPayload(req InterpretationRequest) (*domain.Payload, []*domain.Payload, error) {
	if req.Payload == nil && req.Data == nil {
		return nil, nil, &domain.UnsupportedPayloadError{Reason: "no payload"}
	}
	var attachment *domain.Payload
	var data []*domain.Payload
	for _, p := range []*domain.Payload{req.Payload, req.Data} {
		if p == nil {
			continue
		}
		if err := payload.Validate(p); err != nil {
			return nil, nil, err
		}
		if p.Binary() {
			if attachment != nil {
				return nil, nil, &domain.UnsupportedPayloadError{Kind: string(p.Kind), Reason: "only one figure per request"}
			}
			attachment = p
			continue
		}
		data = append(data, p)
	}
	return attachment, data, nil
}

func buildPrompt(data []*domain.Payload, user string) string {
	if len(data) == 0 {
		return user
	}
	var sb strings.Builder
	for _, p := range data {
		sb.WriteString(payload.Render(p))
		sb.WriteString("\n")
	}
	sb.WriteString(user)
	return sb.String()
}

func (i *Interpreter) loadGrounding(ctx context.Context, req InterpretationRequest) (*domain.Grounding, error) {
	switch {
	case req.KBContent != "":
		return knowledge.FromContent(req.KBContent).Grounding(), nil
	case req.KBPath != "":
		if i.fsys == nil {
			return nil, errors.New("knowledge base requested but no filesystem configured")
		}
		kbType := req.KBType
		if kbType == "" {
			kbType = i.kbType
		}
		kb, err := knowledge.Load(ctx, i.fsys, req.KBPath, kbType)
		if err != nil {
			return nil, errors.Wrapf(err, "load knowledge base %s", req.KBPath)
		}
		return kb.Grounding(), nil
	}
	return nil, nil
}

// estimateTokens approximates the input size for the token guard.
func estimateTokens(req *domain.Request) int {
	tokens := (len(req.System) + len(req.Prompt)) / 4
	if req.Grounding != nil {
		tokens += req.Grounding.Tokens
	}
	if a := req.Attachment; a != nil {
		pages := 1
		if a.Kind == domain.PayloadPDF && len(a.Data) > 0 {
			if n, err := payload.PageCount(a.Data); err == nil {
				pages = n
			}
		}
		tokens += pages * knowledge.TokensPerPDFPage
	}
	return tokens
}

// measure sizes the request for the guard. Once the estimate reaches the
// warn threshold the vendor's token counter, if any, replaces it.
func (i *Interpreter) measure(ctx context.Context, backend domain.Backend, req *domain.Request) int {
	tokens := estimateTokens(req)
	counter, ok := backend.(domain.TokenCounter)
	if !ok || i.guard.Warn <= 0 || tokens < i.guard.Warn {
		return tokens
	}
	n, err := counter.CountTokens(ctx, req)
	if err != nil || n <= 0 {
		i.logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Token count unavailable, using estimate",
			"backend", backend.Name(), "estimated_tokens", tokens, "error", err)
		return tokens
	}
	i.logger.DebugWithIntention(pkgLogger.IntentionStatistics, "Counted request tokens",
		"backend", backend.Name(), "estimated_tokens", tokens, "counted_tokens", n)
	return n
}

// routeCache attaches a cache entry to c when the backend can cache the
// grounding. Cache failures degrade to inlined grounding with a warning;
// cancellation is returned.
func (i *Interpreter) routeCache(ctx context.Context, c *call) error {
	if i.store == nil || !domain.SupportsCaching(c.backend) {
		return nil
	}
	entry, created, err := i.store.GetOrCreate(ctx, c.backend, c.req.Grounding, i.cacheTTL)
	switch {
	case err == nil:
		c.entry = entry
		c.created = created
		return nil
	case errors.Is(err, domain.ErrNotCacheable):
		i.logger.DebugWithIntention(pkgLogger.IntentionCache, "Grounding not cached",
			"backend", c.backend.Name(), "reason", err.Error())
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	i.logger.WarnWithIntention(pkgLogger.IntentionCache, "Cache unavailable, inlining knowledge base",
		"backend", c.backend.Name(), "error", err)
	c.warnings = append(c.warnings, fmt.Sprintf("context cache unavailable, knowledge base sent inline: %v", err))
	return nil
}

// afterFailure drops a cache entry the vendor no longer recognises so the
// next call recreates it.
func (i *Interpreter) afterFailure(ctx context.Context, c *call, err error) {
	if c.entry == nil || i.store == nil {
		return
	}
	if domain.StatusCode(err) == 404 {
		i.logger.InfoWithIntention(pkgLogger.IntentionCache, "Provider cache not found, invalidating",
			"backend", c.backend.Name(), "handle", c.entry.Handle)
		i.store.Invalidate(context.WithoutCancel(ctx), c.entry)
	}
}

// finish prices usage, records it and assembles the result.
func (i *Interpreter) finish(ctx context.Context, c *call, text string, u domain.UsageRecord, cacheUsed bool) *InterpretationResult {
	if u.Backend == "" {
		u.Backend = c.backend.Name()
	}
	if u.Model == "" {
		u.Model = c.backend.Model()
	}
	warnings := c.warnings
	if p, err := c.backend.Pricing(); err == nil {
		pricing.Apply(&u, p.Rates)
	} else {
		warnings = append(warnings, fmt.Sprintf("no pricing for %s/%s, cost not computed", u.Backend, u.Model))
	}
	i.session.Record(ctx, u)

	i.logger.InfoWithIntention(pkgLogger.IntentionCost, "Interpretation complete",
		"backend", u.Backend, "model", u.Model, "input", u.InputTokens, "cached", u.CachedTokens,
		"output", u.OutputTokens, "cost_usd", u.Cost, "savings_usd", u.Savings)

	return &InterpretationResult{
		Text:         text,
		Backend:      u.Backend,
		Model:        u.Model,
		Usage:        u,
		CacheUsed:    cacheUsed,
		CacheCreated: c.created,
		Grounded:     c.grounded,
		Warnings:     warnings,
	}
}

func annotate(span trace.Span, res *InterpretationResult) {
	span.SetAttributes(
		attribute.Bool("kanoa.cache_hit", res.CacheUsed && !res.CacheCreated),
		attribute.Bool("kanoa.cache_used", res.CacheUsed),
		attribute.Int64("kanoa.tokens.input", res.Usage.InputTokens),
		attribute.Int64("kanoa.tokens.cached", res.Usage.CachedTokens),
		attribute.Int64("kanoa.tokens.output", res.Usage.OutputTokens),
		attribute.Float64("kanoa.cost_usd", res.Usage.Cost),
	)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
