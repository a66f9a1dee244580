package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/copier"
	"github.com/parasync/parasync/internal/hashing"
)

type benchmarkOptions struct {
	SizeStr string
	Dir     string
}

func newBenchmarkCmd() *cobra.Command {
	opts := &benchmarkOptions{SizeStr: "256M"}
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark copy strategies and hash algorithms against a synthetic file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBenchmark(opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.SizeStr, "size", "s", opts.SizeStr, "Size of the synthetic benchmark file")
	f.StringVar(&opts.Dir, "dir", "", "Directory to benchmark in (default: system temp dir)")
	return cmd
}

func runBenchmark(opts *benchmarkOptions) error {
	size, err := parseSize(opts.SizeStr)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}

	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	src, err := writeSyntheticFile(dir, size)
	if err != nil {
		return err
	}
	defer os.Remove(src)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "benchmark file\t%s\n\n", humanize.IBytes(uint64(size)))

	fmt.Fprintf(w, "copy strategy\tthroughput\n")
	strategies := []struct {
		name string
		opts copier.Options
	}{
		{"buffered", disableFastPaths(copier.DefaultOptions())},
		{"mmap", mmapOnly(copier.DefaultOptions())},
		{"zero-copy", zeroCopyOnly(copier.DefaultOptions())},
		{"auto (default)", copier.DefaultOptions()},
	}
	for _, strat := range strategies {
		name := strat.name
		dst := src + ".out." + name
		cp := copier.New(strat.opts)
		stats, err := cp.Copy(src, dst)
		_ = cp.Close()
		_ = os.Remove(dst)
		if err != nil {
			fmt.Fprintf(w, "%s\tFAILED: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s (%s)\t%s/s\n", name, stats.Method, humanize.IBytes(uint64(stats.Throughput)))
	}

	fmt.Fprintf(w, "\nhash algorithm\tthroughput\n")
	for _, algo := range []hashing.Algorithm{hashing.XXH3, hashing.XXH64, hashing.BLAKE3, hashing.SHA256} {
		res, dur, err := timedHash(src, algo)
		if err != nil {
			fmt.Fprintf(w, "%s\tFAILED: %v\n", algo, err)
			continue
		}
		_ = res
		throughput := float64(size) / dur.Seconds()
		fmt.Fprintf(w, "%s\t%s/s\n", algo, humanize.IBytes(uint64(throughput)))
	}
	return w.Flush()
}

func timedHash(path string, algo hashing.Algorithm) (hashing.Result, time.Duration, error) {
	start := time.Now()
	res, err := hashing.HashFile(path, algo)
	return res, time.Since(start), err
}

func disableFastPaths(o copier.Options) copier.Options {
	o.UseMmap = false
	o.UseZeroCopy = false
	return o
}

func mmapOnly(o copier.Options) copier.Options {
	o.UseZeroCopy = false
	o.MmapThreshold = 0
	return o
}

func zeroCopyOnly(o copier.Options) copier.Options {
	o.UseMmap = false
	return o
}

func writeSyntheticFile(dir string, size int64) (string, error) {
	f, err := os.CreateTemp(dir, "parasync-bench-*.bin")
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 1<<20)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	var written int64
	for written < size {
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(buf[:n]); err != nil {
			os.Remove(f.Name())
			return "", err
		}
		written += n
	}
	return filepath.Clean(f.Name()), nil
}
