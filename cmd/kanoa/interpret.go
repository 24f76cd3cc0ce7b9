package main

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpt/kanoa/internal/app"
	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/internal/repository"
	"github.com/fpt/kanoa/pkg/domain"
	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/knowledge"
	"github.com/fpt/kanoa/pkg/payload"
)

type interpretFlags struct {
	data         string
	mimeType     string
	context      string
	focus        string
	backend      string
	kbPath       string
	kbType       string
	customPrompt string
	maxTokens    int
	temperature  float64
	seed         int64
	noCache      bool
	stream       bool
	jsonOut      bool
	summary      bool
}

func newInterpretCmd(g *globalFlags) *cobra.Command {
	var f interpretFlags

	cmd := &cobra.Command{
		Use:   "interpret FILE|URI",
		Short: "Interpret a figure, PDF, CSV table or text summary",
		Example: `  kanoa interpret plot.png --context "Q3 revenue by region"
  kanoa interpret gs://figures/run-7/residuals.png -b gemini-3
  kanoa interpret plot.png --data results.csv --kb ./papers -b claude
  kanoa interpret summary.txt --focus "effect size" --stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx, f.noCache)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := f.request(cmd, a, args[0])
			if err != nil {
				return err
			}

			session := a.NewSession()
			interp := a.NewInterpreter(session, app.NewPromptApprover(os.Stderr))
			out := cmd.OutOrStdout()
			colored := app.UseColor(out)

			var res *interpreter.InterpretationResult
			if f.stream && !f.jsonOut {
				res, err = streamTo(cmd, interp, req)
			} else {
				res, err = interp.Interpret(ctx, req)
			}
			if err != nil {
				return err
			}

			switch {
			case f.jsonOut:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			case f.stream:
				fmt.Fprintln(out)
				app.WriteCostLine(out, res, colored)
			default:
				app.WriteResult(out, res, colored)
			}

			if f.summary {
				fmt.Fprintln(out)
				return app.WriteSummary(out, session.Summary())
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.data, "data", "", "CSV table shown alongside the figure")
	fl.StringVar(&f.mimeType, "mime-type", "", "MIME type of a gs:// or https:// figure (default from extension)")
	fl.StringVarP(&f.context, "context", "c", "", "what the figure is about")
	fl.StringVar(&f.focus, "focus", "", "what the analysis should focus on")
	fl.StringVarP(&f.backend, "backend", "b", "", "backend id (gemini-3, claude, openai, vllm, molmo, ollama)")
	fl.StringVar(&f.kbPath, "kb", "", "knowledge base directory")
	fl.StringVar(&f.kbType, "kb-type", "", "knowledge base type: text, pdf or auto")
	fl.StringVar(&f.customPrompt, "prompt", "", "replace the rendered user prompt")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "maximum output tokens (default from settings)")
	fl.Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	fl.Int64Var(&f.seed, "seed", 0, "sampling seed where supported")
	fl.BoolVar(&f.noCache, "no-cache", false, "send the knowledge base inline instead of through a provider cache")
	fl.BoolVar(&f.stream, "stream", false, "print the answer as it is generated")
	fl.BoolVar(&f.jsonOut, "json", false, "print the result as JSON")
	fl.BoolVar(&f.summary, "summary", false, "print the session cost summary")
	return cmd
}

func (f *interpretFlags) request(cmd *cobra.Command, a *app.App, path string) (interpreter.InterpretationRequest, error) {
	ctx := cmd.Context()
	fsys := infra.NewOSFilesystemRepository()

	p, err := loadPayload(ctx, fsys, path, f.mimeType)
	if err != nil {
		return interpreter.InterpretationRequest{}, err
	}
	req := interpreter.InterpretationRequest{
		Payload:      &p,
		Context:      f.context,
		Focus:        f.focus,
		Backend:      f.backend,
		KBPath:       a.UserConfig.ResolveKBPath(f.kbPath),
		CustomPrompt: f.customPrompt,
		MaxTokens:    f.maxTokens,
		NoCache:      f.noCache,
	}

	if f.data != "" {
		d, err := payload.Load(ctx, fsys, f.data)
		if err != nil {
			return req, err
		}
		req.Data = &d
	}
	if f.kbType != "" {
		t, err := knowledge.ParseType(f.kbType)
		if err != nil {
			return req, err
		}
		req.KBType = t
	}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = &f.temperature
	}
	if cmd.Flags().Changed("seed") {
		req.Seed = &f.seed
	}
	return req, nil
}

// loadPayload reads a local file, or references a remote figure without
// downloading it.
func loadPayload(ctx context.Context, fsys repository.FilesystemRepository, arg, mimeType string) (domain.Payload, error) {
	if payload.IsReference(arg) {
		return payload.ParseReference(arg, mimeType)
	}
	return payload.Load(ctx, fsys, arg)
}

// streamTo prints text chunks as they arrive and returns the collected result.
func streamTo(cmd *cobra.Command, interp *interpreter.Interpreter, req interpreter.InterpretationRequest) (*interpreter.InterpretationResult, error) {
	out := cmd.OutOrStdout()
	return interpreter.Collect(tee(interp.Stream(cmd.Context(), req), func(chunk domain.StreamChunk) {
		fmt.Fprint(out, chunk.Text)
	}))
}

// tee calls fn for every chunk of seq before passing it on.
func tee(seq iter.Seq2[domain.StreamChunk, error], fn func(domain.StreamChunk)) iter.Seq2[domain.StreamChunk, error] {
	return func(yield func(domain.StreamChunk, error) bool) {
		for chunk, err := range seq {
			if err == nil {
				fn(chunk)
			}
			if !yield(chunk, err) {
				return
			}
		}
	}
}
