package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fpt/kanoa/internal/app"
	"github.com/fpt/kanoa/internal/gateway"
	"github.com/fpt/kanoa/internal/infra"
	"github.com/fpt/kanoa/pkg/interpreter"
	"github.com/fpt/kanoa/pkg/usage"
)

func main() {
	settingsPath := flag.String("settings", "", "Path to settings file (default: .kanoa/settings.json or ~/.kanoa/settings.json)")
	addr := flag.String("addr", "", "Listen address (default from settings, :8080)")
	kbRoot := flag.String("kb-root", "", "Confine kb_path to this directory")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, app.Options{
		SettingsPath: *settingsPath,
		LogLevel:     *logLevel,
		ServiceName:  "kanoa-gateway",
		Out:          os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	cfg := gateway.ConfigFromSettings(a.Settings.Gateway)
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.KBRoot = *kbRoot

	var interpOpts []interpreter.Option
	if cfg.KBRoot != "" {
		root, err := os.OpenRoot(cfg.KBRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open knowledge base root: %v\n", err)
			a.Close()
			os.Exit(1)
		}
		defer root.Close()
		interpOpts = append(interpOpts, interpreter.WithFilesystem(infra.NewFSRepository(root.FS())))
	}

	// Approval cannot be asked over HTTP; requests above the approval
	// threshold are rejected unless settings auto-approve them.
	factory := func(s *usage.Session) *interpreter.Interpreter {
		return a.NewInterpreter(s, nil, interpOpts...)
	}
	gw := gateway.NewGateway(cfg, factory, a.Caches, a.Logger, a.UsageOptions()...)

	fmt.Println("kanoa gateway starting...")
	fmt.Printf("  Listen: %s\n", cfg.Addr)
	fmt.Printf("  Default backend: %s\n", a.Settings.DefaultBackend)
	fmt.Printf("  Session timeout: %s\n", cfg.SessionTimeout)
	if cfg.KBRoot != "" {
		fmt.Printf("  Knowledge base root: %s\n", cfg.KBRoot)
	}
	if a.Caches != nil {
		fmt.Printf("  Cache store: %s\n", a.Settings.Cache.Store)
	}
	fmt.Println()

	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}
