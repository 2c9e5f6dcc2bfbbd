package main

import (
	"cxref/internal/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cxrefd",
	Short: "cxrefd - incremental C/C++/Objective-C cross-reference index",
	Long: `cxrefd maintains an in-memory symbol graph over a C/C++/Objective-C
workspace: it watches the tree for changes, reparses affected translation
units, and folds the resulting deltas into a single queryable index with
refcounted occurrences and bidirectional base/derived edges.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("cxrefd version {{.Version}}\n")
}
