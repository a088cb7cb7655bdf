// Package commands implements the restful command line.
package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/restful/internal/cli/config"
	"github.com/conduit-lang/restful/internal/cli/ui"
	"github.com/conduit-lang/restful/internal/logger"
)

var (
	// Version information, set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags of the root command
type globalOptions struct {
	configPath string
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "restful",
		Short: "JSON:API service over a schema-driven data store",
		Long: color.CyanString(`restful serves the models declared in a schema file as a JSON:API:
collections, resources, related resources and relationships, with
filtering, sorting, pagination, sparse fieldsets and compound documents.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./"+config.FileName+")")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand(opts))
	rootCmd.AddCommand(NewModelsCommand(opts))
	rootCmd.AddCommand(NewDDLCommand(opts))
	rootCmd.AddCommand(NewInitCommand(opts))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			ui.KeyValues(cmd.OutOrStdout(), color.NoColor,
				[2]string{"restful", Version},
				[2]string{"Git commit", GitCommit},
				[2]string{"Build date", BuildDate},
				[2]string{"Go version", runtime.Version()},
			)
		},
	}
}

// loadConfig reads the configuration named by --config
func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// newLogger builds the process logger from cfg.Log
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log.Env, cfg.Log.Level)
}

// Execute runs the root command and reports a failure on stderr
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		ui.WriteProblem(rootCmd.ErrOrStderr(), ui.Problem{
			Message: err.Error(),
			Hints:   []string{"restful --help"},
		}, color.NoColor)
		return err
	}
	return nil
}
