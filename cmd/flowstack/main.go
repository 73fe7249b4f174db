// Command flowstack runs and validates workflow definitions from the
// command line. Configuration comes from flags, FLOWSTACK_* environment
// variables and an optional .env file, in that order of precedence.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowstack/flowstack/pkg/apperrors"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Exit codes
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitCancelled = 2
	exitUsage     = 64
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env file is fine; explicit env vars still apply.
	_ = godotenv.Load()

	viper.SetEnvPrefix("FLOWSTACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeCancelled:
			return exitCancelled
		case apperrors.CodeDefinition, apperrors.CodeValidation:
			return exitUsage
		default:
			return exitFailure
		}
	}
	return exitSuccess
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowstack",
		Short:         "Workflow execution engine",
		Long:          "flowstack executes node-graph workflow definitions: agent prompts, user input, conditionals, loops, file and HTTP operations, sandboxed code and sub-workflows.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowstack %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
