package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fpt/kanoa/internal/app"
)

var version = "dev"

type globalFlags struct {
	settingsPath string
	verbose      bool
}

func (g *globalFlags) open(ctx context.Context, noCache bool) (*app.App, error) {
	opts := app.Options{
		SettingsPath: g.settingsPath,
		ServiceName:  "kanoa",
		Out:          os.Stderr,
		NoCache:      noCache,
	}
	if g.verbose {
		opts.LogLevel = "debug"
	}
	return app.Open(ctx, opts)
}

func main() {
	var g globalFlags

	root := &cobra.Command{
		Use:           "kanoa",
		Short:         "kanoa - interpret figures, tables and reports with LLMs, grounded in your knowledge base",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.settingsPath, "settings", "", "path to settings file (default: .kanoa/settings.json or ~/.kanoa/settings.json)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInterpretCmd(&g),
		newCacheCmd(&g),
		newUsageCmd(&g),
		newPricingCmd(&g),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
