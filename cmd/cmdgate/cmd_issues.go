package main

import (
	"fmt"

	"github.com/dhamidi/cmdgate/analysis"
	"github.com/spf13/cobra"
)

func newIssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Work with issues found by analyze_codebase",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Find stored issues whose file, description or fix contains query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := analysis.OpenStore(cfg.Analysis.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			issues, err := store.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No issues found.")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d-%d  [priority %d]  %s\n", issue.Path, issue.StartLine, issue.EndLine, issue.Priority, issue.Description)
				if issue.Fix != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    Fix: %s\n", issue.Fix)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <base_path>",
		Short: "Forget analysis progress so the next tree analysis starts over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := analysis.OpenStore(cfg.Analysis.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.ResetProgress(cmd.Context(), args[0])
		},
	})

	return cmd
}
