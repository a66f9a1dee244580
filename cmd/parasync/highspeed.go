package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/chunked"
	"github.com/parasync/parasync/internal/copier"
	"github.com/parasync/parasync/internal/remotesync"
	"github.com/parasync/parasync/internal/sysinfo"
)

// tier names a bandwidth/CPU class; the flag recommendations below scale
// with it instead of with a raw --threads/--buffer-size pair the caller
// would otherwise have to guess.
type tier struct {
	Name           string
	Threads        int
	BufferSize     int
	ChunkedWorkers int
	Connections    int
	UseZeroCopy    bool
	UseAsyncRing   bool
	ChunkThreshold int64
}

func tiersFor(cpus int) []tier {
	return []tier{
		{Name: "1GbE", Threads: min(4, cpus), BufferSize: 1 << 20, ChunkedWorkers: 2, Connections: 2, UseZeroCopy: true, ChunkThreshold: chunked.DefaultThreshold},
		{Name: "10GbE", Threads: min(8, cpus), BufferSize: 4 << 20, ChunkedWorkers: 4, Connections: 4, UseZeroCopy: true, ChunkThreshold: chunked.DefaultThreshold},
		{Name: "25/40GbE", Threads: min(16, cpus), BufferSize: 8 << 20, ChunkedWorkers: min(8, cpus), Connections: 8, UseZeroCopy: true, UseAsyncRing: true, ChunkThreshold: 512 << 20},
		{Name: "100GbE / NVMe fabric", Threads: cpus, BufferSize: 16 << 20, ChunkedWorkers: cpus, Connections: 16, UseZeroCopy: true, UseAsyncRing: true, ChunkThreshold: 256 << 20},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func newHighspeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "highspeed",
		Short: "Recommend copy/transfer flags for common network tiers, based on detected CPU topology",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHighspeed()
		},
	}
	return cmd
}

func runHighspeed() error {
	topo := sysinfo.DetectTopology()
	cpus := topo.TotalCPUs
	if cpus <= 0 {
		cpus = sysinfo.AvailableCPUs()
	}

	fmt.Fprintf(os.Stdout, "detected %d usable CPU(s) across %d NUMA node(s)\n\n", cpus, len(topo.Nodes))
	fmt.Fprintf(os.Stdout, "zero-copy default: %v\n\n", copier.DefaultOptions().UseZeroCopy)

	for _, t := range tiersFor(cpus) {
		fmt.Fprintf(os.Stdout, "%s:\n", t.Name)
		fmt.Fprintf(os.Stdout, "  --threads %d --buffer-size %s\n", t.Threads, humanize.IBytes(uint64(t.BufferSize)))
		fmt.Fprintf(os.Stdout, "  chunked copy: %d workers above %s\n", t.ChunkedWorkers, humanize.IBytes(uint64(t.ChunkThreshold)))
		fmt.Fprintf(os.Stdout, "  remote sync: %d pooled connections (--ssh-streams, also the --direct-tcp pool size)\n", t.Connections)
		if t.UseAsyncRing {
			fmt.Fprintf(os.Stdout, "  async-ring reads (copier option, no copy flag) suit sequential huge-file reads on supported kernels\n")
		}
		fmt.Fprintln(os.Stdout)
	}

	fmt.Fprintf(os.Stdout, "remotesync defaults: %d connections, %s chunk size, %s min-chunked threshold\n",
		remotesync.DefaultConnections, humanize.IBytes(remotesync.DefaultChunkSize), humanize.IBytes(remotesync.DefaultMinChunkedSize))
	return nil
}
