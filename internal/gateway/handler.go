package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/fpt/kanoa/pkg/cache"
	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/knowledge"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
	"github.com/fpt/kanoa/pkg/payload"
)

// InterpretBody is the JSON body of POST /v1/sessions/{id}/interpret.
// Payload is base64 in JSON.
type InterpretBody struct {
	Payload     []byte `json:"payload,omitempty"`
	PayloadName string `json:"payload_name,omitempty"`
	// PayloadURI references a figure already in remote storage (gs://,
	// https://). PayloadMIMEType is inferred from its extension when empty.
	PayloadURI      string     `json:"payload_uri,omitempty"`
	PayloadMIMEType string     `json:"payload_mime_type,omitempty"`
	Text            string     `json:"text,omitempty"`
	Table           *TableBody `json:"table,omitempty"`

	Context      string   `json:"context,omitempty"`
	Focus        string   `json:"focus,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	KBPath       string   `json:"kb_path,omitempty"`
	KBType       string   `json:"kb_type,omitempty"`
	KBContent    string   `json:"kb_content,omitempty"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
	NoCache      bool     `json:"no_cache,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
}

// TableBody carries a data table shown alongside a figure, or on its own.
type TableBody struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// StreamLine is one NDJSON line of a streamed interpretation.
type StreamLine struct {
	Text         string              `json:"text,omitempty"`
	Done         bool                `json:"done,omitempty"`
	Usage        *domain.UsageRecord `json:"usage,omitempty"`
	CacheUsed    bool                `json:"cache_used,omitempty"`
	CacheCreated bool                `json:"cache_created,omitempty"`
	Grounded     bool                `json:"grounded,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	Error        string              `json:"error,omitempty"`
	Status       int                 `json:"status,omitempty"`
}

type sessionView struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Handler serves the gateway API.
type Handler struct {
	config   Config
	sessions *SessionManager
	caches   *cache.Store
	logger   *pkgLogger.Logger
}

// NewHandler creates the HTTP handler. caches may be nil when caching is off.
func NewHandler(cfg Config, sessions *SessionManager, caches *cache.Store, logger *pkgLogger.Logger) *Handler {
	return &Handler{
		config:   cfg,
		sessions: sessions,
		caches:   caches,
		logger:   logger.WithComponent("gateway"),
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.HandleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/interpret", h.HandleInterpret)
			r.Get("/usage", h.HandleUsage)
			r.Delete("/", h.HandleDeleteSession)
		})
		r.Get("/caches", h.HandleListCaches)
		r.Delete("/caches", h.HandleClearCaches)
	})
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "kanoa-gateway",
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	h.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Session created", "session_id", s.ID)
	writeJSON(w, http.StatusCreated, sessionView{ID: s.ID, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity()})
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Usage.Summary())
}

func (h *Handler) HandleInterpret(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body InterpretBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := h.buildRequest(body)
	if err != nil {
		writeError(w, StatusFor(err), err.Error())
		return
	}

	if body.Stream {
		h.stream(r.Context(), w, s, req)
		return
	}

	res, err := s.Interpreter.Interpret(r.Context(), req)
	if err != nil {
		h.logger.WarnWithIntention(pkgLogger.IntentionError, "Interpretation failed",
			"session_id", s.ID, "backend", body.Backend, "error", err)
		writeError(w, StatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// stream writes NDJSON. Errors raised before the first line keep their
// HTTP status; later ones are reported in a final error line.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, s *Session, req interpreter.InterpretationRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	enc := json.NewEncoder(w)
	started := false
	for chunk, err := range s.Interpreter.Stream(ctx, req) {
		if err != nil {
			h.logger.WarnWithIntention(pkgLogger.IntentionError, "Streamed interpretation failed",
				"session_id", s.ID, "error", err)
			if !started {
				writeError(w, StatusFor(err), err.Error())
				return
			}
			_ = enc.Encode(StreamLine{Error: err.Error(), Status: StatusFor(err)})
			flusher.Flush()
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		line := StreamLine{Text: chunk.Text}
		if chunk.Done {
			line = StreamLine{
				Done:         true,
				Usage:        chunk.Usage,
				CacheUsed:    chunk.CacheUsed,
				CacheCreated: chunk.CacheCreated,
				Grounded:     chunk.Grounded,
				Warnings:     chunk.Warnings,
			}
		}
		if err := enc.Encode(line); err != nil {
			// Client went away; stopping the range records nothing.
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) buildRequest(body InterpretBody) (interpreter.InterpretationRequest, error) {
	req := interpreter.InterpretationRequest{
		Context:      body.Context,
		Focus:        body.Focus,
		Backend:      body.Backend,
		KBContent:    body.KBContent,
		CustomPrompt: body.CustomPrompt,
		MaxTokens:    body.MaxTokens,
		Temperature:  body.Temperature,
		Seed:         body.Seed,
		NoCache:      body.NoCache,
	}

	kbPath, ok := h.config.resolveKBPath(body.KBPath)
	if !ok {
		return req, domain.NewValidationError("", "kb_path must be relative to the knowledge base root")
	}
	req.KBPath = kbPath
	if body.KBType != "" {
		t, err := knowledge.ParseType(body.KBType)
		if err != nil {
			return req, domain.NewValidationError("", err.Error())
		}
		req.KBType = t
	}

	var table *domain.Payload
	if body.Table != nil {
		p := payload.FromTable("data", body.Table.Columns, body.Table.Rows)
		table = &p
	}

	switch {
	case len(body.Payload) > 0:
		name := body.PayloadName
		if name == "" {
			name = "payload"
		}
		p, err := payload.Detect(name, body.Payload)
		if err != nil {
			return req, err
		}
		req.Payload = &p
		req.Data = table
	case body.PayloadURI != "":
		p, err := payload.ParseReference(body.PayloadURI, body.PayloadMIMEType)
		if err != nil {
			return req, err
		}
		req.Payload = &p
		req.Data = table
	case body.Text != "":
		p := payload.FromText("summary", body.Text)
		req.Payload = &p
		req.Data = table
	default:
		req.Payload = table
	}
	return req, nil
}

func (h *Handler) HandleListCaches(w http.ResponseWriter, r *http.Request) {
	entries := []*domain.CacheEntry{}
	if h.caches != nil {
		list, err := h.caches.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entries = append(entries, list...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"caches": entries})
}

func (h *Handler) HandleClearCaches(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.caches != nil {
		var err error
		n, err = h.caches.Clear(r.Context(), r.URL.Query().Get("backend"), r.URL.Query().Get("model"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// StatusFor maps the error taxonomy onto HTTP statuses.
func StatusFor(err error) int {
	var (
		unsupportedBackend *domain.UnsupportedBackendError
		unsupportedPayload *domain.UnsupportedPayloadError
		validation         *domain.ValidationError
		auth               *domain.AuthError
		rateLimit          *domain.RateLimitError
		tokenLimit         *domain.TokenLimitError
		backend            *domain.BackendError
	)
	switch {
	case errors.As(err, &unsupportedBackend), errors.As(err, &unsupportedPayload), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests
	case errors.As(err, &tokenLimit):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &backend):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.DebugWithIntention(pkgLogger.IntentionRequest, "HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"bytes", ww.BytesWritten(), "duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
