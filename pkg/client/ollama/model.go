package ollama

import "strings"

type OllamaModel struct {
	Name string `json:"name"`

	// Vision indicates whether the model supports image input (multimodal)
	Vision bool `json:"vision"`

	// Context indicates the context length of the model
	Context int `json:"context"`
}

// This is from https://ollama.com/search
// List must be kept in sync with the Ollama models by human.
var ollamaModels = []OllamaModel{
	{Name: "gemma3", Vision: true, Context: 128000},
	{Name: "qwen2.5vl", Vision: true, Context: 125000},
	{Name: "llama3.2-vision", Vision: true, Context: 128000},
	{Name: "llava", Vision: true, Context: 4096},
	{Name: "gpt-oss", Vision: false, Context: 128000},
	{Name: "llama3.1", Vision: false, Context: 128000},
}

func lookupModel(model string) (OllamaModel, bool) {
	modelLower := strings.ToLower(model)
	for _, m := range ollamaModels {
		if strings.Contains(modelLower, m.Name) {
			return m, true
		}
	}
	return OllamaModel{}, false
}

// IsVisionCapableModel checks if a model supports image input. Unknown
// models are assumed to, and the server rejects them otherwise.
func IsVisionCapableModel(model string) bool {
	if m, ok := lookupModel(model); ok {
		return m.Vision
	}
	return true
}

// GetModelContextWindow returns the known context window for a model.
// If the model isn't in the known list, returns 0 to indicate unknown.
func GetModelContextWindow(model string) int {
	m, _ := lookupModel(model)
	return m.Context
}
