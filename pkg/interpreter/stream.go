package interpreter

import (
	"context"
	"iter"
	"strings"

	"github.com/pkg/errors"

	"github.com/fpt/kanoa/pkg/domain"
)

// ErrIncompleteStream is returned by Collect when the sequence ends without
// a terminal usage chunk.
var ErrIncompleteStream = errors.New("stream ended without usage")

// Stream runs one request and yields text chunks followed by a terminal
// chunk carrying priced usage, cache status and warnings. Usage is recorded
// only when the terminal chunk is produced; stopping early records nothing.
// Backends without streaming yield their whole answer as one chunk.
func (i *Interpreter) Stream(ctx context.Context, req InterpretationRequest) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		ctx, span := i.tracer.Start(ctx, "interpret.stream")
		defer span.End()

		c, err := i.prepare(ctx, req)
		if err != nil {
			yield(domain.StreamChunk{}, spanError(span, err))
			return
		}

		for chunk, err := range i.backendStream(ctx, c) {
			if err != nil {
				i.afterFailure(ctx, c, err)
				yield(domain.StreamChunk{}, spanError(span, err))
				return
			}
			if !chunk.Done {
				if !yield(chunk, nil) {
					return
				}
				continue
			}

			var u domain.UsageRecord
			if chunk.Usage != nil {
				u = *chunk.Usage
			}
			res := i.finish(ctx, c, "", u, chunk.CacheUsed)
			annotate(span, res)
			yield(domain.StreamChunk{
				Usage:        &res.Usage,
				CacheUsed:    res.CacheUsed,
				Done:         true,
				CacheCreated: res.CacheCreated,
				Grounded:     res.Grounded,
				Warnings:     res.Warnings,
			}, nil)
			return
		}
	}
}

func (i *Interpreter) backendStream(ctx context.Context, c *call) iter.Seq2[domain.StreamChunk, error] {
	if sb, ok := c.backend.(domain.StreamingBackend); ok && c.backend.Capabilities().Streaming {
		return sb.Stream(ctx, c.req, c.entry)
	}
	return func(yield func(domain.StreamChunk, error) bool) {
		resp, err := c.backend.Send(ctx, c.req, c.entry)
		if err != nil {
			yield(domain.StreamChunk{}, err)
			return
		}
		if resp.Text != "" && !yield(domain.StreamChunk{Text: resp.Text, CacheUsed: resp.CacheUsed}, nil) {
			return
		}
		yield(domain.StreamChunk{Usage: &resp.Usage, CacheUsed: resp.CacheUsed, Done: true}, nil)
	}
}

// Collect accumulates a stream into a result equal to what Interpret returns
// for the same call. Backend and model are taken from the terminal usage.
func Collect(seq iter.Seq2[domain.StreamChunk, error]) (*InterpretationResult, error) {
	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		if !chunk.Done {
			sb.WriteString(chunk.Text)
			continue
		}
		res := &InterpretationResult{
			Text:         sb.String(),
			CacheUsed:    chunk.CacheUsed,
			CacheCreated: chunk.CacheCreated,
			Grounded:     chunk.Grounded,
			Warnings:     chunk.Warnings,
		}
		if chunk.Usage != nil {
			res.Usage = *chunk.Usage
			res.Backend = chunk.Usage.Backend
			res.Model = chunk.Usage.Model
		}
		return res, nil
	}
	return nil, ErrIncompleteStream
}
