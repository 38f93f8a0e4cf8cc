package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <command> [name=value ...]",
		Short: "Dispatch one catalogue command",
		Example: `  cmdgate run list_directory directory=.
  cmdgate run create_file filename=notes.txt 'content=hello\nworld'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawArgs, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.dispatcher.Dispatch(cmd.Context(), args[0], rawArgs)
			if result.Output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), result.Output)
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
			fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
			return err
		},
	}
}

// parseAssignments turns name=value words into raw arguments. Values may
// contain '='; only the first one separates.
func parseAssignments(words []string) (map[string]string, error) {
	raw := make(map[string]string, len(words))
	for _, word := range words {
		name, value, ok := strings.Cut(word, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not of the form name=value", word)
		}
		if _, dup := raw[name]; dup {
			return nil, fmt.Errorf("argument %q given more than once", name)
		}
		raw[name] = value
	}
	return raw, nil
}
