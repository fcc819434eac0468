package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/circuitscope/internal/catalog"
)

func subgraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subgraph [component]",
		Short: "Print the graph-data payload of a component",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			component := catalog.RootComponent
			if len(args) > 0 {
				component = args[0]
			}
			loader, err := loadConfig()
			if err != nil {
				return err
			}
			cat, err := catalog.Load(loader.Config())
			if err != nil {
				return err
			}
			p, err := cat.Subgraph(component)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}
