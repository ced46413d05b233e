package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ytget/ytfetch/internal/cleanup"
)

func newSweepCommand(opts *options) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired files from the download directory once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if purge {
				if err := cleanup.Purge(settings.DownloadDir, log); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", settings.DownloadDir)
				return nil
			}

			sweeper := cleanup.NewSweeper(settings.DownloadDir, settings.SweepInterval.Std(), settings.MaxFileAge.Std(), nil, log)
			removed, err := sweeper.SweepOnce()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s) from %s\n", removed, settings.DownloadDir)
			return err
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "remove everything regardless of age")
	return cmd
}
