package cmd

// addReportFlags adds the various flags for the report command.
func addReportFlags() {
	reportCmd.Flags().String("package-root", ".", "directory containing the project's package directories, used to resolve package: URIs")
	reportCmd.Flags().String("format", "lcov", `report format: "lcov" or "pretty"`)
	reportCmd.Flags().String("output", "", "path to write the report to (default: stdout)")
	reportCmd.Flags().StringSlice("report-on", nil, "restrict output to resolved paths matching one of these prefixes (default: all)")
	reportCmd.Flags().String("base-path", "", "relativize resolved paths against this directory in output")
	reportCmd.Flags().Bool("report-funcs", false, "fail if a source has no function coverage (pretty); lcov output includes function records whenever they are present, with or without this flag")
	reportCmd.Flags().Bool("apply-ignores", true, "mask lines covered by coverage:ignore directives in the resolved source")
}
