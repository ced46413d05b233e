package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				settings.Addr = addr
			}

			app, err := NewApp(settings, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config")
	return cmd
}
