package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/circuitscope/internal/config"
	"github.com/gyaneshwarpardhi/circuitscope/internal/expand"
	"github.com/gyaneshwarpardhi/circuitscope/internal/graph"
)

func inspectCmd() *cobra.Command {
	var (
		backend    string
		root       string
		expandIDs  []string
		showSource bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load a graph from a running backend, expand nodes and print the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if loader, err := config.NewLoader(cfgPath); err == nil {
				cfg = loader.Config()
			}
			session := cfg.Session
			if backend == "" {
				backend = session.BackendURL
			}
			if backend == "" {
				return fmt.Errorf("no backend: pass --backend or set session.backend_url")
			}
			if root == "" {
				root = session.Root
			}

			client, err := newClient(backend, session)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store := graph.NewStore()
			ctrl := expand.New(ctx, store, client, session)
			defer ctrl.Shutdown()

			if _, err := ctrl.Load(ctx, root); err != nil {
				return err
			}
			if len(expandIDs) > 0 {
				results, _ := ctrl.ExpandMany(ctx, expandIDs)
				for _, r := range results {
					if r.Error != "" {
						bad.Printf("✗ %s: %s\n", r.NodeID, r.Error)
						continue
					}
					info.Printf("expanded %s (+%d nodes, +%d edges)\n", r.NodeID, r.AddedNodes, r.AddedEdges)
				}
			}

			snap := store.Snapshot()
			fmt.Printf("%s  %s\n", brand.Sprint(backend), subtle.Sprintf("v%d, %d nodes, %d edges", snap.Version(), snap.NodeCount(), snap.EdgeCount()))
			for _, id := range snap.Roots() {
				printTree(snap, ctrl, id, 1)
			}

			if showSource {
				src, err := client.FetchSource(ctx)
				if err != nil {
					return err
				}
				fmt.Println()
				subtle.Println(strings.Repeat("─", 40))
				fmt.Print(src)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "Base URL of the graph-data backend")
	cmd.Flags().StringVar(&root, "root", "", "Component to load first (defaults to session.root)")
	cmd.Flags().StringSliceVar(&expandIDs, "expand", nil, "Node ids to expand after loading")
	cmd.Flags().BoolVar(&showSource, "source", false, "Also print the circuit source")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time limit")
	return cmd
}

func printTree(snap *graph.Snapshot, ctrl *expand.Controller, id string, depth int) {
	n, ok := snap.Node(id)
	if !ok {
		return
	}
	marker := " "
	switch {
	case n.Kind == graph.KindGroup:
		marker = "□"
	case n.Expandable() && ctrl.State(id) == expand.StateExpanded:
		marker = "▾"
	case n.Expandable():
		marker = "▸"
	}
	fmt.Printf("%s%s %s %s\n", strings.Repeat("  ", depth), marker, n.ID, subtle.Sprintf("(%s, %d ports)", n.Label, len(n.Ports)))
	for _, child := range snap.Children(id) {
		printTree(snap, ctrl, child, depth+1)
	}
}
