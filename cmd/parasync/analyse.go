package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/copier"
	"github.com/parasync/parasync/internal/scanner"
	"github.com/parasync/parasync/internal/sysinfo"
	"github.com/parasync/parasync/internal/types"
)

type analyseOptions struct {
	IncludePatterns []string
	ExcludePatterns []string
	IncludeHidden   bool
	Threads         int
}

func newAnalyseCmd() *cobra.Command {
	opts := &analyseOptions{}
	cmd := &cobra.Command{
		Use:   "analyse <path>",
		Short: "Scan a tree and report size distribution and strategy recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runAnalyse(args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.IncludePatterns, "include", nil, "Glob patterns to include")
	f.StringSliceVar(&opts.ExcludePatterns, "exclude", nil, "Glob patterns to exclude")
	f.BoolVar(&opts.IncludeHidden, "include-hidden", false, "Include dotfiles")
	f.IntVarP(&opts.Threads, "threads", "t", 0, "Scanner thread count (0 = auto)")
	return cmd
}

func runAnalyse(root string, opts *analyseOptions) error {
	if err := validateGlobPatterns(opts.ExcludePatterns); err != nil {
		return err
	}
	cfg := scanner.Config{
		Paths:           []string{root},
		IncludePatterns: opts.IncludePatterns,
		ExcludePatterns: opts.ExcludePatterns,
		IncludeHidden:   opts.IncludeHidden,
		Workers:         resolveThreads(opts.Threads),
		Order:           scanner.None,
	}
	sc := scanner.New(cfg)
	result, err := sc.Run()
	if err != nil {
		return err
	}

	counts := map[types.SizeCategory]int{}
	sizes := map[types.SizeCategory]int64{}
	for _, f := range result.Files {
		cat := types.CategoryForSize(f.Size)
		counts[cat]++
		sizes[cat] += f.Size
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "root\t%s\n", root)
	fmt.Fprintf(w, "files\t%d\n", result.FileCount)
	fmt.Fprintf(w, "directories\t%d\n", result.DirCount)
	fmt.Fprintf(w, "total size\t%s\n", humanize.IBytes(uint64(result.TotalSize)))
	fmt.Fprintf(w, "scan duration\t%s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "category\tcount\tbytes\tbuffer\tmmap\tchunked\n")
	for _, cat := range []types.SizeCategory{types.Tiny, types.Small, types.Medium, types.Large, types.Huge} {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%v\t%v\n",
			cat, counts[cat], humanize.IBytes(uint64(sizes[cat])),
			humanize.IBytes(uint64(cat.RecommendedBufferSize())), cat.UseMmap(), cat.UseParallelChunks())
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\nscan errors\t%d\n", len(result.Errors))
	}
	_ = w.Flush()

	topo := sysinfo.DetectTopology()
	fmt.Fprintf(os.Stdout, "\ndetected %d CPUs across %d NUMA node(s)\n", topo.TotalCPUs, len(topo.Nodes))
	if quota, ok := sysinfo.ContainerCPUQuota(); ok {
		fmt.Fprintf(os.Stdout, "cgroup CPU quota: %.2f cores\n", quota)
	}

	recommendZeroCopy := copier.DefaultOptions().UseZeroCopy
	fmt.Fprintf(os.Stdout, "zero-copy default: %v\n", recommendZeroCopy)

	for _, f := range result.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", f)
	}
	return nil
}
