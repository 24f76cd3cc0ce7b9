package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// consoleHidden are attributes that only make sense in the file log
var consoleHidden = map[string]bool{
	"intention": true,
	"time":      true,
	"level":     true,
	"msg":       true,
	"component": true,
	"session":   true,
}

// plainHandler prints the message, prefixed with the intention icon, and
// key=value pairs without time or level decorations.
type plainHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, leveler: leveler, mu: &sync.Mutex{}}
}

func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var intention string
	var pairs []string

	visit := func(a slog.Attr) {
		if a.Key == "intention" {
			intention = a.Value.String()
		}
		if !consoleHidden[a.Key] {
			pairs = append(pairs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
	}
	walk := func(a slog.Attr) {
		if a.Value.Kind() == slog.KindGroup {
			for _, ga := range a.Value.Group() {
				visit(ga)
			}
			return
		}
		visit(a)
	}

	for _, a := range h.attrs {
		walk(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		walk(a)
		return true
	})

	var line strings.Builder
	if intention != "" {
		line.WriteString(iconFor(Intention(intention)))
		line.WriteByte(' ')
	}
	line.WriteString(r.Message)
	for _, p := range pairs {
		line.WriteByte(' ')
		line.WriteString(p)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line.String())
	return err
}

func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup is flattened for console output
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}
