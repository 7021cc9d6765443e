package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trailofbits/dartcov/cmd/exitcodes"
	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/utils"
)

// mergeCmd represents the command provider for merging several coverage JSON files into one.
var mergeCmd = &cobra.Command{
	Use:           "merge",
	Short:         "Merges coverage JSON files into a single accumulated file",
	Long:          "Merges two or more coverage JSON files produced by collect, accumulating hit counts, and writes the result to a single output file",
	Args:          cobra.MinimumNArgs(2),
	RunE:          cmdRunMerge,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addMergeFlags()
	rootCmd.AddCommand(mergeCmd)
}

// cmdRunMerge reads every coverage JSON file given as a positional argument, accumulates them
// via the hit-map merge algebra, and writes the result to --output.
func cmdRunMerge(cmd *cobra.Command, args []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	merged := hitmap.NewCoverageMapSet()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}

		// Sources are accepted verbatim (no resolver): merge operates purely on the URI keys
		// already present in each input file.
		set, err := hitmap.FromJSON(data, nil)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}

		if err := hitmap.Merge(merged, set); err != nil {
			cmdLogger.Error("Failed to merge "+path, err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}
	}

	data, err := hitmap.ToJSON(merged)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := utils.MakeDirectory(dir); err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
	}

	cmdLogger.Info("Wrote merged coverage to ", outputPath)
	return nil
}
