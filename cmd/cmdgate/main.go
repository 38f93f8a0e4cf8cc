package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dhamidi/cmdgate"
	"github.com/dhamidi/cmdgate/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cmdgate",
	Short: "Run whitelisted commands for people and language models",
	Long: `cmdgate executes commands declared in a catalogue. Every argument is
checked against the catalogue's type and pattern before anything runs, and
processes are started with a fixed argv, never through a shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		if err := loaded.Log.Configure(logrus.StandardLogger()); err != nil {
			return err
		}
		logrus.SetOutput(cmd.ErrOrStderr())
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/cmdgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides log.level")

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newRunCmd(),
		newCommandsCmd(),
		newHistoryCmd(),
		newIssuesCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode passes a failed process's exit status through to the shell.
func exitCode(err error) int {
	var de *cmdgate.Error
	if errors.As(err, &de) && de.ExitCode > 0 {
		return de.ExitCode
	}
	return 1
}
