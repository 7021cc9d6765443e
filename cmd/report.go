package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trailofbits/dartcov/cmd/exitcodes"
	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/ignore"
	"github.com/trailofbits/dartcov/report"
	"github.com/trailofbits/dartcov/source"
)

// reportCmd represents the command provider for rendering collected coverage JSON as LCOV or a
// pretty-printed listing.
var reportCmd = &cobra.Command{
	Use:           "report",
	Short:         "Formats collected coverage as LCOV or a pretty-printed listing",
	Long:          "Reads one or more coverage JSON files, merges them, applies ignore directives found in the resolved sources, and emits LCOV or a pretty-printed annotated listing",
	Args:          cobra.MinimumNArgs(1),
	RunE:          cmdRunReport,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addReportFlags()
	rootCmd.AddCommand(reportCmd)
}

// cmdRunReport merges every coverage JSON file given as a positional argument, masks ignored
// lines, and writes the requested report format.
func cmdRunReport(cmd *cobra.Command, args []string) error {
	packageRoot, err := cmd.Flags().GetString("package-root")
	if err != nil {
		return err
	}
	resolver := packageResolver(packageRoot)
	loader := fileLoader()

	merged := hitmap.NewCoverageMapSet()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}

		set, err := hitmap.FromJSON(data, resolver)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}
		if err := hitmap.Merge(merged, set); err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}
	}

	if applyIgnores, _ := cmd.Flags().GetBool("apply-ignores"); applyIgnores {
		for uri, hm := range merged {
			path, ok := resolver.Resolve(uri)
			if !ok {
				continue
			}
			lines, ok := loader.Load(path)
			if !ok {
				continue
			}
			ignored := ignore.ScanLines(lines)
			hitmap.ApplyIgnores(hm, ignored)
		}
	}

	reportOn, err := cmd.Flags().GetStringSlice("report-on")
	if err != nil {
		return err
	}
	basePath, err := cmd.Flags().GetString("base-path")
	if err != nil {
		return err
	}
	reportFuncs, err := cmd.Flags().GetBool("report-funcs")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	opts := report.Options{
		Resolver:    resolver,
		Loader:      loader,
		ReportOn:    reportOn,
		BasePath:    basePath,
		ReportFuncs: reportFuncs,
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "lcov":
		err = report.WriteLCOV(out, merged, opts)
	case "pretty":
		err = report.WritePretty(out, merged, opts)
	default:
		cmdLogger.Error("Unknown report format", nil)
		return exitcodes.NewErrorWithExitCode(os.ErrInvalid, exitcodes.ExitCodeReportError)
	}
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeReportError)
	}

	return nil
}

// packageResolver builds a Resolver mapping package: URIs onto files under packageRoot/<pkg>/lib/...
func packageResolver(packageRoot string) source.Resolver {
	return source.ResolverFunc(func(uri string) (string, bool) {
		const prefix = "package:"
		if !strings.HasPrefix(uri, prefix) {
			return "", false
		}
		rest := strings.TrimPrefix(uri, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			return "", false
		}
		path := filepath.Join(packageRoot, parts[0], "lib", parts[1])
		if _, err := os.Stat(path); err != nil {
			return "", false
		}
		return path, true
	})
}

// fileLoader builds a Loader that reads a file and splits it into lines.
func fileLoader() source.Loader {
	return source.LoaderFunc(func(path string) ([]string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		lines := strings.Split(string(data), "\n")
		return lines, true
	})
}
