// Package prompt renders the system and user prompts sent with every
// interpretation request.
package prompt

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt frames the model as an analyst of technical output.
const DefaultSystemPrompt = `You are an expert data analyst helping interpret scientific and technical visualizations, tables and statistical output.
Ground your interpretation in the knowledge base when one is provided, and say so when the data contradicts it.`

// DefaultUserPrompt is rendered with the {context_block} and {focus_block}
// placeholders replaced.
const DefaultUserPrompt = `Analyze this data visualization or output.

{context_block}{focus_block}Provide your analysis in the following structure:

1. **Summary**: What the output shows in one or two sentences.
2. **Key Observations**: Notable patterns, trends, outliers or anomalies.
3. **Technical Interpretation**: What the observations mean in the domain context.
4. **Potential Issues**: Data quality concerns, artifacts or misleading elements.
5. **Recommendations**: Suggested follow-up analyses or improvements.

Use markdown formatting. Be concise but technically precise.`

const (
	placeholderContext = "{context_block}"
	placeholderFocus   = "{focus_block}"
)

// Override replaces one or both prompts for a single backend.
type Override struct {
	SystemPrompt string `yaml:"system_prompt"`
	UserPrompt   string `yaml:"user_prompt"`
}

// Templates is the prompt set, optionally loaded from a YAML file:
//
//	system_prompt: |
//	  ...
//	user_prompt: |
//	  ...
//	backends:
//	  claude:
//	    user_prompt: |
//	      ...
type Templates struct {
	SystemPrompt string              `yaml:"system_prompt"`
	UserPrompt   string              `yaml:"user_prompt"`
	Backends     map[string]Override `yaml:"backends"`
}

// Default returns the built-in templates.
func Default() *Templates {
	return &Templates{SystemPrompt: DefaultSystemPrompt, UserPrompt: DefaultUserPrompt}
}

// Parse decodes YAML templates. Missing fields fall back to the built-ins.
// Invalid or empty documents yield nil.
func Parse(data []byte) *Templates {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil
	}
	if t.SystemPrompt == "" && t.UserPrompt == "" && len(t.Backends) == 0 {
		return nil
	}
	if t.SystemPrompt == "" {
		t.SystemPrompt = DefaultSystemPrompt
	}
	if t.UserPrompt == "" {
		t.UserPrompt = DefaultUserPrompt
	}
	return &t
}

// LoadFile reads templates from path. A missing, empty or invalid file
// yields (nil, nil); other read errors are returned.
func LoadFile(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read prompt templates %s", path)
	}
	return Parse(data), nil
}

// override finds the backend entry by exact id, then by family prefix so
// that "gemini" applies to "gemini-3".
func (t *Templates) override(backend string) (Override, bool) {
	if backend == "" || len(t.Backends) == 0 {
		return Override{}, false
	}
	if o, ok := t.Backends[backend]; ok {
		return o, true
	}
	for key, o := range t.Backends {
		if strings.HasPrefix(backend, key+"-") {
			return o, true
		}
	}
	return Override{}, false
}

// System returns the system prompt for backend.
func (t *Templates) System(backend string) string {
	if o, ok := t.override(backend); ok && o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return t.SystemPrompt
}

// User returns the unrendered user prompt for backend.
func (t *Templates) User(backend string) string {
	if o, ok := t.override(backend); ok && o.UserPrompt != "" {
		return o.UserPrompt
	}
	return t.UserPrompt
}

// RenderUser fills the user template. A non-empty custom prompt replaces the
// template entirely.
func (t *Templates) RenderUser(backend, context, focus, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	var contextBlock, focusBlock string
	if context != "" {
		contextBlock = "**Context**: " + context + "\n\n"
	}
	if focus != "" {
		focusBlock = "**Analysis Focus**: " + focus + "\n\n"
	}
	r := strings.NewReplacer(placeholderContext, contextBlock, placeholderFocus, focusBlock)
	return strings.TrimSpace(r.Replace(t.User(backend)))
}

// GroundedSystem appends inlined knowledge-base text to a system prompt.
func GroundedSystem(system, kb string) string {
	if strings.TrimSpace(kb) == "" {
		return system
	}
	return system + "\n\n# Knowledge Base\n\n" + kb
}
