package cmd

// addMergeFlags adds the various flags for the merge command.
func addMergeFlags() {
	mergeCmd.Flags().String("output", "coverage.json", "path to write the merged coverage JSON to")
}
