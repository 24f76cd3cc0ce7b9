package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpt/kanoa/internal/app"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage provider-side context caches",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openWithCache(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Caches.List(cmd.Context())
			if err != nil {
				return err
			}
			return app.WriteCacheEntries(cmd.OutOrStdout(), entries, time.Now())
		},
	}

	var backend, model string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete caches locally and at the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openWithCache(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Caches.Clear(cmd.Context(), backend, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache(s).\n", n)
			return nil
		},
	}
	clearCmd.Flags().StringVarP(&backend, "backend", "b", "", "only clear caches of this backend")
	clearCmd.Flags().StringVarP(&model, "model", "m", "", "only clear caches of this model")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries from the local registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openWithCache(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Caches.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired entr(ies).\n", n)
			return nil
		},
	}

	cmd.AddCommand(listCmd, clearCmd, pruneCmd)
	return cmd
}

func openWithCache(cmd *cobra.Command, g *globalFlags) (*app.App, error) {
	a, err := g.open(cmd.Context(), false)
	if err != nil {
		return nil, err
	}
	if a.Caches == nil {
		a.Close()
		return nil, fmt.Errorf("context caching is disabled in settings")
	}
	return a, nil
}
