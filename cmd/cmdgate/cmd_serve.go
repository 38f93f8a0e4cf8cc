package main

import (
	"context"
	"errors"
	"time"

	"github.com/dhamidi/cmdgate/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dispatcher and chat endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			serverConfig := &server.Config{Addr: cfg.Server.Addr, Gatherer: a.metrics}
			if addr != "" {
				serverConfig.Addr = addr
			}
			agent, err := a.agent(nil)
			switch {
			case err == nil:
				serverConfig.Chat = agent
			case errors.Is(err, errNoModel):
				a.log.Warn("no model configured, POST /chat is disabled")
			default:
				return err
			}

			srv := server.New(a.dispatcher, a.log.WithField("component", "server"), serverConfig)
			errs := make(chan error, 1)
			go func() { errs <- srv.Start() }()

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
