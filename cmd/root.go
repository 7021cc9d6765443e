package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/trailofbits/dartcov/logging"
	"github.com/trailofbits/dartcov/version"
)

// rootCmd represents the root CLI command object which all other commands stem from.
var rootCmd = &cobra.Command{
	Use:     "dartcov",
	Version: version.Version,
	Short:   "A coverage collection and reporting toolkit for Dart VM Service and browser targets",
	Long: "dartcov connects to a running Dart VM Service or lowers V8 precise-coverage payloads, " +
		"merges the resulting hit maps, and emits LCOV or pretty-printed coverage reports.",
}

// cmdLogger is the logger that will be used for the cmd package
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true, make([]io.Writer, 0)...)

// Execute provides an exportable function to invoke the CLI.
// Returns an error if one was encountered.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}
