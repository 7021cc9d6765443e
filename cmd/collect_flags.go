package cmd

import "time"

// addCollectFlags adds the various flags for the collect command.
func addCollectFlags() {
	collectCmd.Flags().String("vm-service-uri", "", "observatory or VM service URI to connect to (required)")
	_ = collectCmd.MarkFlagRequired("vm-service-uri")

	collectCmd.Flags().String("output", "coverage.json", "path to write the collected coverage JSON to")

	collectCmd.Flags().Duration("connect-timeout", 30*time.Second, "how long to retry connecting to the VM service before giving up")
	collectCmd.Flags().Duration("pause-timeout", 30*time.Second, "how long to wait for isolates to pause before giving up")

	collectCmd.Flags().Bool("wait-for-pause", true, "wait for every isolate to reach a pause state before collecting")
	collectCmd.Flags().Bool("resume", true, "resume isolates that are still paused once collection completes")

	collectCmd.Flags().StringSlice("isolate-ids", nil, "restrict collection to these isolate IDs (default: all, after group dedup)")
	collectCmd.Flags().StringSlice("scope", nil, "restrict collection to these top-level package names (default: all)")

	collectCmd.Flags().Bool("branch-coverage", false, "request branch coverage in addition to line coverage, if supported")
	collectCmd.Flags().Bool("include-dart", false, "include dart: (SDK) scripts in collected coverage")
	collectCmd.Flags().Bool("function-coverage", false, "walk the library/class/function graph to populate function coverage")

	collectCmd.Flags().String("line-cache", "", "path to an on-disk coverable-line cache (created if absent)")
}
