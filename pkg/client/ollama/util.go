package ollama

import (
	"context"
	"errors"

	"github.com/ollama/ollama/api"

	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/prompt"
)

const (
	roleSystem = "system"
	roleUser   = "user"
)

// toOllamaMessages builds the system and user turns. Knowledge-base images
// precede the attachment; PDFs are returned as skipped.
func toOllamaMessages(req *domain.Request, transfer domain.Transfer) ([]api.Message, []string) {
	var messages []api.Message

	kb := ""
	if req.Grounding != nil {
		kb = req.Grounding.Text
	}
	if system := prompt.GroundedSystem(req.System, kb); system != "" {
		messages = append(messages, api.Message{Role: roleSystem, Content: system})
	}

	user := api.Message{Role: roleUser, Content: req.Prompt}
	var skipped []string
	if req.Grounding != nil {
		for _, doc := range req.Grounding.Documents {
			if doc.MIMEType == "application/pdf" {
				skipped = append(skipped, doc.Name)
				continue
			}
			user.Images = append(user.Images, api.ImageData(doc.Data))
		}
	}
	if transfer == domain.TransferInline && req.Attachment != nil {
		user.Images = append(user.Images, api.ImageData(req.Attachment.Data))
	}
	return append(messages, user), skipped
}

// requestOptions maps sampling parameters to Ollama model options.
func requestOptions(maxTokens int, temperature *float64, seed *int64) map[string]any {
	opts := map[string]any{"num_predict": maxTokens}
	if temperature != nil {
		opts["temperature"] = *temperature
	}
	if seed != nil {
		opts["seed"] = *seed
	}
	return opts
}

// usageFromOllama reads prompt_eval_count (input) and eval_count (output)
// from the final chunk. Local inference has no prompt cache accounting.
func usageFromOllama(backend, model string, resp api.ChatResponse) domain.UsageRecord {
	return domain.UsageRecord{
		Backend:      backend,
		Model:        model,
		InputTokens:  int64(resp.PromptEvalCount),
		OutputTokens: int64(resp.EvalCount),
	}
}

// classifyError maps API errors onto the domain taxonomy. A model that is
// not pulled is reported as a validation error.
func classifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return domain.ClassifyStatus(backend, statusErr.StatusCode, statusErr.ErrorMessage, err)
	}
	return &domain.BackendError{VendorError: domain.VendorError{Backend: backend, Err: err}}
}
