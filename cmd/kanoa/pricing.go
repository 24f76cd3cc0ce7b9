package main

import (
	"github.com/spf13/cobra"

	"github.com/fpt/kanoa/internal/app"
	"github.com/fpt/kanoa/internal/config"
	"github.com/fpt/kanoa/pkg/pricing"
)

func newPricingCmd(g *globalFlags) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Show the effective pricing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(g.settingsPath)
			if err != nil {
				return err
			}
			override := settings.PricingPath
			if override == "" {
				override = config.DefaultPricingOverride()
			}
			catalog, err := pricing.Load(pricing.WithOverride(override), pricing.WithTier(settings.PricingTier))
			if err != nil {
				return err
			}
			return app.WritePricing(cmd.OutOrStdout(), catalog, backend)
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "only show this backend")
	return cmd
}
