// Package cli provides the command-line interface for ytfetch.
package cli

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ytget/ytfetch/internal/config"
	"github.com/ytget/ytfetch/internal/logging"
)

// options are the persistent flags shared by every command
type options struct {
	configPath string
	envFile    string
	logLevel   string
}

// NewRootCommand creates the root command. version is shown by --version.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ytfetch",
		Short: "Media fetch and streaming proxy server",
		Long: `ytfetch downloads or proxies remote media through yt-dlp.
Transfers are bounded, report live progress over server-sent events
and are cancelled when the client session goes away.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a .toml or .yaml config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCommand(opts), newSweepCommand(opts))
	return root
}

// load reads settings and builds the logger they describe
func (o *options) load(out io.Writer) (*config.Settings, *logrus.Logger, error) {
	settings, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.LogLevel = o.logLevel
	}
	log := logging.New(settings.LogLevel, settings.LogFormat, out)
	return settings, log, nil
}
