package main

import (
	"encoding/json"
	"fmt"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/dhamidi/cmdgate/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recently dispatched commands",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := history.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer journal.Close()

			var entries []*history.Entry
			if len(args) == 1 {
				entry, err := journal.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				entries = []*history.Entry{entry}
			} else if entries, err = journal.List(cmd.Context(), limit); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			for _, e := range entries {
				status := "ok"
				if !e.Succeeded {
					status = e.ErrorKind
				}
				fmt.Fprintf(out, "%s  %s  %-20s %-16s %s\n",
					e.ID[:8], e.StartedAt.Local().Format(time.DateTime), e.Command, status, e.Duration.Round(time.Millisecond))
				if len(e.Argv) > 0 {
					fmt.Fprintf(out, "    $ %s (exit %d)\n", shellescape.QuoteCommand(e.Argv), e.ExitCode)
				}
				if e.Error != "" && len(args) == 1 {
					fmt.Fprintf(out, "    %s\n", e.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
