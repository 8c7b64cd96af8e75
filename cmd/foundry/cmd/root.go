// Package cmd implements the foundry command line: serve runs the HTTP API
// and run executes a single pre-approved workflow.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/protocol-foundry/internal/config"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersion records build information for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// rootOptions carries the persistent flags. Each command reads its
// configuration through load so flags, FOUNDRY_* variables and the config
// file share one viper instance.
type rootOptions struct {
	v          *viper.Viper
	configFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.NewLoaderWithViper(o.v).WithConfigFile(o.configFile).Load()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "foundry",
		Short: "Multi-agent drafting of CBT exercises with human review",
		Long: `foundry drafts cognitive behavioral therapy exercises with a drafting agent,
scores each draft with a safety reviewer and a clinical reviewer, revises
until the scores clear the routing thresholds, and halts for a human
decision before anything is finalized.

Configuration is read from foundry.yaml in the working directory (or
--config), FOUNDRY_* environment variables and the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: ./foundry.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "auto", "log format (auto, text, json)")

	// Lookup never returns nil for flags defined above.
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCmd(opts), newRunCmd(opts), newVersionCmd())
	return root
}
