package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderUserDefault(t *testing.T) {
	got := Default().RenderUser("gemini-3", "Projectile trajectory", "Check for drag", "")

	for _, want := range []string{
		"**Context**: Projectile trajectory",
		"**Analysis Focus**: Check for drag",
		"**Summary**",
		"**Key Observations**",
		"**Technical Interpretation**",
		"**Potential Issues**",
		"**Recommendations**",
		"Use markdown formatting. Be concise but technically precise.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
	if strings.Contains(got, "{") {
		t.Errorf("unrendered placeholder in %q", got)
	}
}

func TestRenderUserOmitsEmptyBlocks(t *testing.T) {
	got := Default().RenderUser("", "", "", "")
	if strings.Contains(got, "**Context**") || strings.Contains(got, "**Analysis Focus**") {
		t.Errorf("empty blocks rendered: %q", got)
	}
}

func TestRenderUserCustomPrompt(t *testing.T) {
	if got := Default().RenderUser("claude", "ctx", "focus", "Just list the outliers."); got != "Just list the outliers." {
		t.Errorf("custom prompt not used: %q", got)
	}
}

func TestBackendOverrides(t *testing.T) {
	tpl := Parse([]byte(`
system_prompt: |
  You are a data analyst.
backends:
  gemini:
    system_prompt: You are a Google AI assistant.
  claude:
    user_prompt: "Be concise. {focus_block}"
`))
	if tpl == nil {
		t.Fatal("Parse() = nil")
	}

	if got := tpl.System("gemini-3"); got != "You are a Google AI assistant." {
		t.Errorf("gemini family override: %q", got)
	}
	if got := tpl.System("openai"); !strings.Contains(got, "data analyst") {
		t.Errorf("default system: %q", got)
	}
	if got := tpl.RenderUser("claude", "", "noise", ""); got != "Be concise. **Analysis Focus**: noise" {
		t.Errorf("claude user override: %q", got)
	}
	if got := tpl.User("gemini-3"); got != DefaultUserPrompt {
		t.Error("partial override must keep the default user prompt")
	}
}

func TestParseInvalidOrEmpty(t *testing.T) {
	if Parse([]byte("invalid: yaml: content: [[[")) != nil {
		t.Error("invalid YAML should yield nil")
	}
	if Parse([]byte("")) != nil {
		t.Error("empty YAML should yield nil")
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	tpl := Parse([]byte("user_prompt: Provide detailed analysis.\n"))
	if tpl == nil {
		t.Fatal("Parse() = nil")
	}
	if !strings.Contains(strings.ToLower(tpl.SystemPrompt), "expert data analyst") {
		t.Errorf("system prompt = %q", tpl.SystemPrompt)
	}
}

func TestLoadFile(t *testing.T) {
	tpl, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || tpl != nil {
		t.Errorf("missing file: %v, %v", tpl, err)
	}

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("system_prompt: You are a financial analyst.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tpl, err = LoadFile(path)
	if err != nil || tpl == nil || tpl.SystemPrompt != "You are a financial analyst." {
		t.Errorf("LoadFile() = %+v, %v", tpl, err)
	}
}

func TestGroundedSystem(t *testing.T) {
	if got := GroundedSystem("sys", "  "); got != "sys" {
		t.Errorf("blank kb changed prompt: %q", got)
	}
	got := GroundedSystem("sys", "## doc\n\nfacts")
	if !strings.HasPrefix(got, "sys\n\n# Knowledge Base\n\n## doc") {
		t.Errorf("GroundedSystem() = %q", got)
	}
}
