package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"

	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/prompt"
)

// Model constants
const (
	modelGPT5      = "gpt-5"
	modelGPT5Mini  = "gpt-5-mini"
	modelGPT5Nano  = "gpt-5-nano"
	modelGPT4o     = shared.ChatModelGPT4o
	modelGPT4oMini = shared.ChatModelGPT4oMini

	modelGemma3 = "google/gemma-3-12b-it"
	modelMolmo  = "allenai/Molmo-7B-D-0924"
)

const (
	defaultMaxTokens   = 3000
	defaultInlineLimit = 20 * 1024 * 1024
	promptCacheKeyLen  = 16
)

// getOpenAIModel maps user-friendly model names to model identifiers.
// Self-hosted servers accept whatever model they were started with, so
// unknown names pass through unchanged.
func getOpenAIModel(backend, model string) string {
	switch model {
	case "":
		switch backend {
		case domain.BackendVLLM:
			return modelGemma3
		case domain.BackendMolmo:
			return modelMolmo
		}
		return modelGPT5Mini
	case "gpt5", "gpt-5-latest":
		return modelGPT5
	case "mini":
		return modelGPT5Mini
	case "nano":
		return modelGPT5Nano
	case "4o":
		return modelGPT4o
	case "4o-mini":
		return modelGPT4oMini
	case "gemma3", "gemma-3":
		return modelGemma3
	case "molmo":
		return modelMolmo
	}
	return model
}

// hostedOpenAI reports whether backend talks to api.openai.com rather than
// an OpenAI-compatible server.
func hostedOpenAI(backend string) bool {
	return backend == domain.BackendOpenAI
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// documentPart converts a knowledge-base document. PDFs are only accepted by
// hosted OpenAI; other servers get nothing and the caller logs the skip.
func documentPart(backend string, doc domain.Document) (openai.ChatCompletionContentPartUnionParam, bool) {
	if doc.MIMEType == "application/pdf" {
		if !hostedOpenAI(backend) {
			return openai.ChatCompletionContentPartUnionParam{}, false
		}
		return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(dataURL(doc.MIMEType, doc.Data)),
			Filename: openai.String(doc.Name),
		}), true
	}
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL: dataURL(doc.MIMEType, doc.Data),
	}), true
}

// attachmentPart converts the payload according to the chosen transfer.
func attachmentPart(backend string, p *domain.Payload, transfer domain.Transfer) (openai.ChatCompletionContentPartUnionParam, bool, error) {
	switch transfer {
	case domain.TransferInline:
		if p.Kind == domain.PayloadPDF {
			name := p.Name
			if name == "" {
				name = "document.pdf"
			}
			return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String(dataURL(p.MIMEType, p.Data)),
				Filename: openai.String(name),
			}), true, nil
		}
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(p.MIMEType, p.Data),
		}), true, nil
	case domain.TransferReference:
		if p.Kind == domain.PayloadPDF || !isHTTPURL(p.URI) {
			return openai.ChatCompletionContentPartUnionParam{}, false,
				domain.NewValidationError(backend, "only http(s) image references are accepted: "+p.URI)
		}
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: p.URI}), true, nil
	}
	return openai.ChatCompletionContentPartUnionParam{}, false, nil
}

func isHTTPURL(uri string) bool {
	return strings.HasPrefix(uri, "https://") || strings.HasPrefix(uri, "http://")
}

// buildUserParts orders the user turn as knowledge-base documents, then the
// attachment, then the prompt. It returns the names of skipped documents.
func buildUserParts(backend string, req *domain.Request, transfer domain.Transfer) ([]openai.ChatCompletionContentPartUnionParam, []string, error) {
	var parts []openai.ChatCompletionContentPartUnionParam
	var skipped []string
	if req.Grounding != nil {
		for _, doc := range req.Grounding.Documents {
			part, ok := documentPart(backend, doc)
			if !ok {
				skipped = append(skipped, doc.Name)
				continue
			}
			parts = append(parts, part)
		}
	}
	part, ok, err := attachmentPart(backend, req.Attachment, transfer)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		parts = append(parts, part)
	}
	return append(parts, openai.TextContentPart(req.Prompt)), skipped, nil
}

// promptCacheKey groups requests sharing a knowledge base onto the same
// automatic prompt cache.
func promptCacheKey(g *domain.Grounding) string {
	if g == nil || len(g.Fingerprint) < promptCacheKeyLen {
		return ""
	}
	return "kanoa-" + g.Fingerprint[:promptCacheKeyLen]
}

func systemText(req *domain.Request) string {
	kb := ""
	if req.Grounding != nil {
		kb = req.Grounding.Text
	}
	return prompt.GroundedSystem(req.System, kb)
}

// usageFromOpenAI maps chat completion usage. Prompt tokens already include
// the automatically cached prefix.
func usageFromOpenAI(backend, model string, u openai.CompletionUsage) domain.UsageRecord {
	return domain.UsageRecord{
		Backend:      backend,
		Model:        model,
		InputTokens:  u.PromptTokens,
		CachedTokens: u.PromptTokensDetails.CachedTokens,
		OutputTokens: u.CompletionTokens,
	}
}

func completionText(c *openai.ChatCompletion) string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Message.Content
}

// isStreamingUnsupportedError checks whether the error indicates that streaming is not allowed
// for the current account/organization (e.g., org not verified to stream this model).
func isStreamingUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "must be verified to stream") {
		return true
	}
	// OpenAI 400 with param "stream" and code "unsupported_value"
	return strings.Contains(e, "\"param\": \"stream\"") && strings.Contains(e, "unsupported_value")
}

// classifyError maps SDK errors onto the domain taxonomy.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return domain.ClassifyStatus(backend, apiErr.StatusCode, apiErr.Message, err)
	}
	return &domain.BackendError{VendorError: domain.VendorError{Backend: backend, Err: err}}
}
