package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"github.com/fpt/kanoa/pkg/interpreter"
)

// PromptApprover asks on the terminal before large requests are sent.
type PromptApprover struct {
	out io.Writer
	// run shows the selection; replaced in tests.
	run func(label string) (string, error)

	mu            sync.Mutex
	alwaysApprove bool
}

// NewPromptApprover returns an approver that prompts on stdin, or nil when
// stdin is not a terminal so that large requests are rejected instead of
// blocking.
func NewPromptApprover(out io.Writer) interpreter.Approver {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return &PromptApprover{out: out, run: runSelect}
}

func runSelect(label string) (string, error) {
	prompt := promptui.Select{
		Label: label,
		Items: []string{"Yes", "Always", "No"},
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "{{ . }}",
		},
		Size: 3,
	}
	_, result, err := prompt.Run()
	return result, err
}

// Approve implements interpreter.Approver.
func (p *PromptApprover) Approve(ctx context.Context, backend string, tokens int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alwaysApprove {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "\nAbout to send ~%d input tokens to %s.\n", tokens, backend)
	result, err := p.run("Proceed with this request?")
	if err != nil {
		fmt.Fprintf(p.out, "Input error, cancelling.\n")
		return false, nil
	}

	switch result {
	case "Yes":
		return true, nil
	case "Always":
		p.alwaysApprove = true
		fmt.Fprintf(p.out, "Proceeding (will auto-approve large requests this session)...\n\n")
		return true, nil
	default:
		fmt.Fprintf(p.out, "Cancelled.\n")
		return false, nil
	}
}
