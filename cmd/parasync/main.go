// Command parasync is the CLI surface over the parallel copy engine: a
// thin layer of flag parsing, human-readable reporting, and subcommand
// dispatch on top of the internal/ library. Nothing in the internal
// packages imports this package back.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:          "parasync",
		Short:        "Parallel, verified file replication for HPC and bulk-data transfers",
		Version:      version + " (" + commit + ")",
		SilenceUsage: true,
	}

	root.AddCommand(
		newCopyCmd(),
		newAnalyseCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newServerCmd(),
		newBenchmarkCmd(),
		newAgentCmd(),
		newQUICServerCmd(),
		newHighspeedCmd(),
	)

	if err := root.Execute(); err != nil {
		return 1
	}
	if exitCode != 0 {
		return exitCode
	}
	return 0
}

// exitCode lets a subcommand signal "ran fine but recorded failures"
// without returning an error from RunE (which would also print cobra's
// usage banner). Set it right before returning nil from a RunE.
var exitCode int
