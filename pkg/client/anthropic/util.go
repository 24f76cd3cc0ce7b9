package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/prompt"
)

// Anthropic models
// https://docs.anthropic.com/en/docs/about-claude/models/overview

const (
	defaultMaxTokens = 3000
	// Images over 5 MB are rejected by the Messages API.
	defaultInlineLimit = 5 * 1024 * 1024
	// PDF documents are accepted up to 32 MB per request.
	pdfInlineLimit = 32 * 1024 * 1024
	// HandlePrefix marks locally issued handles; Anthropic caches are implicit.
	HandlePrefix = "anthropic-ephemeral:"
)

// getAnthropicModel maps common model names to Anthropic model identifiers.
func getAnthropicModel(model string) anthropic.Model {
	switch model {
	case "", "sonnet", "claude-sonnet":
		return anthropic.ModelClaudeSonnet4_5_20250929
	case "opus", "claude-opus":
		return anthropic.ModelClaudeOpus4_5
	case "haiku", "claude-haiku":
		return anthropic.ModelClaudeHaiku4_5
	}
	return anthropic.Model(model)
}

// cacheTTL picks the ephemeral cache lifetime closest to the requested TTL.
func cacheTTL(ttl time.Duration) anthropic.CacheControlEphemeralTTL {
	if ttl >= time.Hour {
		return anthropic.CacheControlEphemeralTTLTTL1h
	}
	return anthropic.CacheControlEphemeralTTLTTL5m
}

func cacheControl(ttl time.Duration) anthropic.CacheControlEphemeralParam {
	cc := anthropic.NewCacheControlEphemeralParam()
	cc.TTL = cacheTTL(ttl)
	return cc
}

// buildSystem returns the system blocks. The knowledge base sits in its own
// block so that a cache breakpoint can be placed after it.
func buildSystem(req *domain.Request, cached bool, ttl time.Duration) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.System != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.System})
	}
	if req.Grounding == nil || strings.TrimSpace(req.Grounding.Text) == "" {
		return blocks
	}
	kb := anthropic.TextBlockParam{Text: strings.TrimPrefix(prompt.GroundedSystem("", req.Grounding.Text), "\n\n")}
	if cached && len(req.Grounding.Documents) == 0 {
		kb.CacheControl = cacheControl(ttl)
	}
	return append(blocks, kb)
}

// documentBlock converts a knowledge-base document into a content block.
func documentBlock(doc domain.Document) anthropic.ContentBlockParamUnion {
	data := base64.StdEncoding.EncodeToString(doc.Data)
	if doc.MIMEType == "application/pdf" {
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data})
	}
	return anthropic.NewImageBlockBase64(doc.MIMEType, data)
}

// attachmentBlock converts the payload according to the chosen transfer.
func attachmentBlock(p *domain.Payload, transfer domain.Transfer) (anthropic.ContentBlockParamUnion, bool) {
	switch transfer {
	case domain.TransferInline:
		data := base64.StdEncoding.EncodeToString(p.Data)
		if p.Kind == domain.PayloadPDF {
			return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data}), true
		}
		return anthropic.NewImageBlockBase64(p.MIMEType, data), true
	case domain.TransferReference:
		if p.Kind == domain.PayloadPDF {
			return anthropic.NewDocumentBlock(anthropic.URLPDFSourceParam{URL: p.URI}), true
		}
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: p.URI}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// buildUserBlocks orders the user turn as knowledge-base documents, then the
// attachment, then the prompt, so the cached prefix stays stable.
func buildUserBlocks(req *domain.Request, transfer domain.Transfer, cached bool, ttl time.Duration) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if req.Grounding != nil {
		for _, doc := range req.Grounding.Documents {
			blocks = append(blocks, documentBlock(doc))
		}
		if cached && len(blocks) > 0 {
			if cc := blocks[len(blocks)-1].GetCacheControl(); cc != nil {
				*cc = cacheControl(ttl)
			}
		}
	}
	if block, ok := attachmentBlock(req.Attachment, transfer); ok {
		blocks = append(blocks, block)
	}
	return append(blocks, anthropic.NewTextBlock(req.Prompt))
}

// usageFromAnthropic normalises usage so that InputTokens counts every
// prompt token, cached and cache-written ones included.
func usageFromAnthropic(backend, model string, u anthropic.Usage) domain.UsageRecord {
	return domain.UsageRecord{
		Backend:          backend,
		Model:            model,
		InputTokens:      u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens,
		CachedTokens:     u.CacheReadInputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
		OutputTokens:     u.OutputTokens,
	}
}

func messageText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// classifyError maps SDK errors onto the domain taxonomy.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return domain.ClassifyStatus(backend, apiErr.StatusCode, "", err)
	}
	return &domain.BackendError{VendorError: domain.VendorError{Backend: backend, Err: err}}
}
