package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/circuitscope/internal/catalog"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and circuit source and list the templates used by main",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := loadConfig()
			if err != nil {
				bad.Printf("✗ %s\n", cfgPath)
				return err
			}
			cfg := loader.Config()
			cat, err := catalog.Load(cfg)
			if err != nil {
				bad.Printf("✗ %s\n", cfgPath)
				return err
			}
			good.Printf("✓ %s\n", loader.Path())
			from := "config"
			if len(cfg.Catalog.Templates) == 0 && cfg.Source.Path != "" {
				from = cfg.Source.Path
			}
			fmt.Printf("  %d templates from %s, main %s\n", len(cat.Names()), from, brand.Sprint(cat.Main()))

			used := map[string]bool{}
			for _, name := range cat.UsedTemplates() {
				used[name] = true
			}
			for _, name := range cat.Names() {
				if used[name] {
					fmt.Printf("  %s %s\n", good.Sprint("•"), name)
				} else {
					fmt.Printf("  %s %s\n", subtle.Sprint("•"), subtle.Sprintf("%s (unused)", name))
				}
			}
			return nil
		},
	}
}
