package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the coderloop command tree. Each call gets its own viper
// instance so flags and environment do not leak between invocations.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CODERLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api_key", "CODERLOOP_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("organization", "CODERLOOP_ORGANIZATION", "OPENAI_ORG_ID")

	run := newRunCmd(v)

	rootCmd := &cobra.Command{
		Use:   "coderloop",
		Short: "Generate, build and validate a backend server from a one-line request",
		Long: `coderloop turns a natural language request into a running Go backend.
A project manager derives the goal, a solutions architect scopes it and checks
external data sources, and a backend developer writes the server, builds it,
repairs compile errors and probes its routes.

Running 'coderloop' without a subcommand is equivalent to 'coderloop run'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run.RunE,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to coderloop.json config file (default: search up directory tree)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("model", "", "Override the oracle model from the config file")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Skip the confirmation before building and running generated code")
	rootCmd.Flags().AddFlagSet(run.Flags())

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = v.BindPFlag("yes", rootCmd.PersistentFlags().Lookup("yes"))

	rootCmd.AddCommand(run)
	rootCmd.AddCommand(newInitCmd(v))
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
