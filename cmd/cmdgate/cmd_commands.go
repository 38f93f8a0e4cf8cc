package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/dhamidi/cmdgate"
	"github.com/spf13/cobra"
)

func newCommandsCmd() *cobra.Command {
	var source bool

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the commands in the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source {
				data := cmdgate.DefaultCatalogue()
				if cfg.Catalogue.Path != "" {
					var err error
					if data, err = os.ReadFile(cfg.Catalogue.Path); err != nil {
						return err
					}
				}
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			var registry *cmdgate.Registry
			var err error
			if cfg.Catalogue.Path != "" {
				registry, err = cmdgate.LoadFile(cfg.Catalogue.Path)
			} else {
				registry, err = cmdgate.Default()
			}
			if err != nil {
				return err
			}
			printCommands(cmd.OutOrStdout(), registry)
			return nil
		},
	}
	cmd.Flags().BoolVar(&source, "source", false, "print the catalogue YAML instead of the listing")
	return cmd
}

func printCommands(w io.Writer, registry *cmdgate.Registry) {
	for _, c := range registry.Commands() {
		fmt.Fprintf(w, "%s\n", c.Name)
		if c.Description != "" {
			fmt.Fprintf(w, "    %s\n", c.Description)
		}
		switch b := c.Binding.(type) {
		case cmdgate.NativeBinding:
			fmt.Fprintf(w, "    runs: function %s\n", b.Function)
		case cmdgate.ProcessBinding:
			argv := append([]string{b.Executable}, b.Prefix...)
			for _, p := range c.Parameters {
				argv = append(argv, "<"+p.Name+">")
			}
			fmt.Fprintf(w, "    runs: %s\n", shellescape.QuoteCommand(argv))
		}
		for _, p := range c.Parameters {
			var flags []string
			flags = append(flags, string(p.Type))
			if !p.Required {
				flags = append(flags, "optional")
			}
			fmt.Fprintf(w, "    %s (%s) must match %s\n", p.Name, strings.Join(flags, ", "), p.Validation)
		}
	}
}
