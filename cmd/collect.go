package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailofbits/dartcov/cmd/exitcodes"
	"github.com/trailofbits/dartcov/hitmap"
	"github.com/trailofbits/dartcov/utils"
	"github.com/trailofbits/dartcov/vmservice"
)

// collectCmd represents the command provider for collecting coverage from a running VM Service.
var collectCmd = &cobra.Command{
	Use:           "collect",
	Short:         "Collects coverage from a running Dart VM Service",
	Long:          "Connects to a running Dart VM Service, waits for its isolates to pause, and writes the collected hit map as on-disk coverage JSON",
	Args:          cobra.NoArgs,
	RunE:          cmdRunCollect,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addCollectFlags()
	rootCmd.AddCommand(collectCmd)
}

// cmdRunCollect connects to the VM Service named by --vm-service-uri, runs one collection pass,
// and writes the resulting hit map set to --output as coverage JSON.
func cmdRunCollect(cmd *cobra.Command, args []string) error {
	serviceURI, err := cmd.Flags().GetString("vm-service-uri")
	if err != nil {
		return err
	}

	connectTimeout, err := cmd.Flags().GetDuration("connect-timeout")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	cmdLogger.Info("Connecting to VM service at ", serviceURI)
	client, err := vmservice.Connect(ctx, serviceURI, connectTimeout)
	if err != nil {
		cmdLogger.Error("Failed to connect to VM service", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}

	version, err := client.GetVersion(ctx)
	if err != nil {
		_ = client.Dispose()
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}
	caps, err := vmservice.DeriveCapabilities(version)
	if err != nil {
		_ = client.Dispose()
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}

	collector := vmservice.NewCollector(client, caps)
	collector.IsolateProcessed.Subscribe(func(e vmservice.IsolateProcessedEvent) {
		cmdLogger.Info("Processed isolate ", e.IsolateID)
	})
	collector.CollectionCompleted.Subscribe(func(e vmservice.CollectionCompletedEvent) {
		cmdLogger.Info(fmt.Sprintf("Collection complete: %d isolates processed, %d sources covered", e.IsolatesProcessed, e.SourcesCovered))
	})

	if cachePath, err := cmd.Flags().GetString("line-cache"); err == nil && cachePath != "" {
		store, err := vmservice.OpenLineCacheStore(cachePath)
		if err != nil {
			cmdLogger.Warn("Could not open coverable-line cache, proceeding without it: ", err)
		} else {
			collector.SetLineCache(vmservice.NewMemoryLineCache(store))
		}
	}

	opts, err := collectOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	cmdLogger.Info("Collecting coverage")
	set, err := collector.Collect(ctx, opts)
	if err != nil {
		cmdLogger.Error("Coverage collection failed", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}

	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	data, err := hitmap.ToJSON(set)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := utils.MakeDirectory(dir); err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
		}
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCollectionError)
	}

	cmdLogger.Info("Wrote coverage to ", outputPath)
	return nil
}

// collectOptionsFromFlags builds a vmservice.CollectOptions from the collect command's flags.
func collectOptionsFromFlags(cmd *cobra.Command) (vmservice.CollectOptions, error) {
	opts := vmservice.CollectOptions{}

	waitForPause, err := cmd.Flags().GetBool("wait-for-pause")
	if err != nil {
		return opts, err
	}
	opts.WaitForPause = waitForPause

	pauseTimeout, err := cmd.Flags().GetDuration("pause-timeout")
	if err != nil {
		return opts, err
	}
	opts.PauseTimeout = pauseTimeout
	if opts.PauseTimeout == 0 {
		opts.PauseTimeout = 30 * time.Second
	}

	isolateIDs, err := cmd.Flags().GetStringSlice("isolate-ids")
	if err != nil {
		return opts, err
	}
	opts.IsolateIDs = isolateIDs

	scope, err := cmd.Flags().GetStringSlice("scope")
	if err != nil {
		return opts, err
	}
	opts.Scope = scope

	opts.IncludeBranchCoverage, err = cmd.Flags().GetBool("branch-coverage")
	if err != nil {
		return opts, err
	}
	opts.IncludeDart, err = cmd.Flags().GetBool("include-dart")
	if err != nil {
		return opts, err
	}
	opts.IncludeFunctionCoverage, err = cmd.Flags().GetBool("function-coverage")
	if err != nil {
		return opts, err
	}
	opts.ResumeAfter, err = cmd.Flags().GetBool("resume")
	if err != nil {
		return opts, err
	}

	return opts, nil
}
