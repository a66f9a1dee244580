package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/agent"
	"github.com/parasync/parasync/internal/batch"
	"github.com/parasync/parasync/internal/chunked"
	"github.com/parasync/parasync/internal/copier"
	"github.com/parasync/parasync/internal/engine"
	"github.com/parasync/parasync/internal/hashing"
	"github.com/parasync/parasync/internal/pool"
	"github.com/parasync/parasync/internal/progress"
	"github.com/parasync/parasync/internal/quictransport"
	"github.com/parasync/parasync/internal/remotesync"
	"github.com/parasync/parasync/internal/scanner"
	"github.com/parasync/parasync/internal/scheduler"
	"github.com/parasync/parasync/internal/throttle"
	"github.com/parasync/parasync/internal/types"
)

// copyOptions holds every CLI flag the copy command accepts.
type copyOptions struct {
	Threads   int
	BufferStr string

	VerifyAlgo string
	Verify     bool

	Incremental       bool
	DeltaThresholdStr string

	Compress      bool
	CompressLevel int

	SSH sshOptions

	DirectTCP bool
	TCPPort   int
	QUIC      bool
	QUICPort  int

	IncludePatterns []string
	ExcludePatterns []string
	IncludeHidden   bool
	MinSizeStr      string
	MaxSizeStr      string
	MaxDepth        int

	BandwidthStr string

	RetryCount int
	RetryDelay time.Duration

	ContinueOnError    bool
	DryRun             bool
	PreserveAttributes bool

	NoProgress bool
}

func defaultCopyOptions() *copyOptions {
	return &copyOptions{
		Threads:            0,
		BufferStr:          "1M",
		VerifyAlgo:         string(hashing.DefaultAlgorithm),
		SSH:                defaultSSHOptions(),
		TCPPort:            9876,
		QUICPort:           9877,
		MinSizeStr:         "0",
		MaxDepth:           -1,
		RetryCount:         3,
		RetryDelay:         100 * time.Millisecond,
		PreserveAttributes: true,
	}
}

func newCopyCmd() *cobra.Command {
	opts := defaultCopyOptions()

	cmd := &cobra.Command{
		Use:   "copy <source> <dest>",
		Short: "Copy a file or directory tree, locally or to/from a remote host",
		Long: `Copies a source path to a destination path. Either side may be a plain
local path or a remote specifier of the form user@host:/path. Exactly one
side may be remote.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCopy(args[0], args[1], opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Threads, "threads", "t", opts.Threads, "Worker thread count (0 = auto)")
	f.StringVarP(&opts.BufferStr, "buffer-size", "b", opts.BufferStr, "Copy buffer size (e.g. 1M)")
	f.StringVar(&opts.VerifyAlgo, "verify", opts.VerifyAlgo, "Verification algorithm: xxhash3, xxhash64, blake3, sha256")
	f.BoolVar(&opts.Verify, "enable-verify", opts.Verify, "Verify destination hashes against source after copy")
	f.BoolVarP(&opts.Incremental, "incremental", "i", opts.Incremental, "Skip files already up to date at the destination")
	f.StringVar(&opts.DeltaThresholdStr, "delta-threshold", "1M", "Minimum whole-file size to attempt delta-sync against the remote copy before falling back to a full transfer (remote copies only)")
	f.BoolVarP(&opts.Compress, "compress", "z", opts.Compress, "LZ4-compress data sent over the network")
	f.IntVar(&opts.CompressLevel, "compress-level", 1, "LZ4 compression level (1-9); accepted but not applied: batch archives always use LZ4's default fast compressor")

	f.IntVar(&opts.SSH.Port, "ssh-port", opts.SSH.Port, "SSH port for remote paths")
	f.StringVar(&opts.SSH.KeyFile, "ssh-key", opts.SSH.KeyFile, "SSH private key file")
	f.IntVar(&opts.SSH.ParallelStreams, "ssh-streams", opts.SSH.ParallelStreams, "Parallel SSH agent connections")
	f.BoolVar(&opts.SSH.ControlMaster, "ssh-control-master", opts.SSH.ControlMaster, "Use OpenSSH ControlMaster multiplexing")
	f.BoolVar(&opts.SSH.Persist, "ssh-persist", opts.SSH.Persist, "Persist the SSH ControlMaster connection")
	f.StringVar(&opts.SSH.Cipher, "ssh-cipher", opts.SSH.Cipher, "SSH cipher (aes256-gcm@openssh.com, chacha20-poly1305@openssh.com, ...)")
	f.BoolVar(&opts.SSH.Compression, "ssh-compression", opts.SSH.Compression, "Enable SSH-level compression")

	f.BoolVar(&opts.DirectTCP, "direct-tcp", opts.DirectTCP, "Connect to a running `parasync server` over raw TCP instead of SSH")
	f.IntVar(&opts.TCPPort, "tcp-port", opts.TCPPort, "TCP port for --direct-tcp")
	f.BoolVar(&opts.QUIC, "quic", opts.QUIC, "Use the QUIC transport instead of the agent protocol")
	f.IntVar(&opts.QUICPort, "quic-port", opts.QUICPort, "QUIC port for --quic")

	f.StringSliceVar(&opts.IncludePatterns, "include", nil, "Glob patterns to include")
	f.StringSliceVar(&opts.ExcludePatterns, "exclude", nil, "Glob patterns to exclude")
	f.BoolVar(&opts.IncludeHidden, "include-hidden", opts.IncludeHidden, "Include dotfiles")
	f.StringVar(&opts.MinSizeStr, "min-size", opts.MinSizeStr, "Minimum file size")
	f.StringVar(&opts.MaxSizeStr, "max-size", opts.MaxSizeStr, "Maximum file size (0 = unlimited)")
	f.IntVar(&opts.MaxDepth, "max-depth", opts.MaxDepth, "Maximum recursion depth (-1 = unlimited)")

	f.StringVar(&opts.BandwidthStr, "bwlimit", "", "Bandwidth limit (e.g. 100M, 0 = unlimited)")

	f.IntVar(&opts.RetryCount, "retries", opts.RetryCount, "Maximum retries per file")
	f.DurationVar(&opts.RetryDelay, "retry-delay", opts.RetryDelay, "Base retry backoff delay")

	f.BoolVar(&opts.ContinueOnError, "continue-on-error", opts.ContinueOnError, "Collect errors and keep going instead of aborting")
	f.BoolVarP(&opts.DryRun, "dry-run", "n", opts.DryRun, "Account for bytes without writing")
	f.BoolVar(&opts.PreserveAttributes, "preserve-attributes", opts.PreserveAttributes, "Preserve permissions and mtime")
	f.BoolVar(&opts.NoProgress, "no-progress", opts.NoProgress, "Disable progress output")

	return cmd
}

func resolveThreads(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func runCopy(src, dst string, opts *copyOptions) error {
	srcRemote, srcIsRemote := parseRemotePath(src)
	dstRemote, dstIsRemote := parseRemotePath(dst)
	if srcIsRemote && dstIsRemote {
		return fmt.Errorf("only one of source/destination may be remote")
	}

	if err := validateGlobPatterns(opts.ExcludePatterns); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	if err := validateGlobPatterns(opts.IncludePatterns); err != nil {
		return fmt.Errorf("invalid --include: %w", err)
	}
	if opts.SSH.Cipher != "" && !sshCiphers[opts.SSH.Cipher] {
		return fmt.Errorf("unsupported --ssh-cipher %q", opts.SSH.Cipher)
	}

	if srcIsRemote || dstIsRemote {
		return runRemoteCopy(src, dst, srcRemote, srcIsRemote, dstRemote, dstIsRemote, opts)
	}
	return runLocalCopy(src, dst, opts)
}

func buildScanConfig(root string, opts *copyOptions) (scanner.Config, error) {
	minSize, err := parseSize(opts.MinSizeStr)
	if err != nil {
		return scanner.Config{}, fmt.Errorf("invalid --min-size: %w", err)
	}
	maxSize, err := parseSize(opts.MaxSizeStr)
	if err != nil {
		return scanner.Config{}, fmt.Errorf("invalid --max-size: %w", err)
	}
	cfg := scanner.Config{
		Paths:           []string{root},
		IncludePatterns: opts.IncludePatterns,
		ExcludePatterns: opts.ExcludePatterns,
		IncludeHidden:   opts.IncludeHidden,
		MinSize:         minSize,
		MaxSize:         maxSize,
		FollowSymlinks:  false,
		Workers:         resolveThreads(opts.Threads),
		ShowProgress:    !opts.NoProgress,
		Order:           scanner.SmallestFirst,
	}
	if opts.MaxDepth >= 0 {
		d := opts.MaxDepth
		cfg.MaxDepth = &d
	}
	return cfg, nil
}

func runLocalCopy(src, dst string, opts *copyOptions) error {
	scanCfg, err := buildScanConfig(src, opts)
	if err != nil {
		return err
	}

	bufSize, err := parseSize(opts.BufferStr)
	if err != nil {
		return fmt.Errorf("invalid --buffer-size: %w", err)
	}
	copierOpts := copier.DefaultOptions()
	if bufSize > 0 {
		copierOpts.BufferSize = int(bufSize)
	}
	copierOpts.PreservePermissions = opts.PreserveAttributes
	copierOpts.PreserveMtime = opts.PreserveAttributes

	algo, err := resolveAlgorithm(opts.VerifyAlgo)
	if err != nil {
		return err
	}

	var cancel atomic.Bool
	installSignalCancel(&cancel)

	cfg := engine.Config{
		ScanConfig:       scanCfg,
		CopierOptions:    copierOpts,
		SchedulerConfig:  schedulerConfigFrom(opts),
		DestRoot:         dst,
		Incremental:      opts.Incremental,
		DryRun:           opts.DryRun,
		Verify:           opts.Verify,
		VerifyAlgorithm:  algo,
		ContinueOnError:  opts.ContinueOnError,
		ChunkedThreshold: chunked.DefaultThreshold,
		ChunkedOptions:   chunked.DefaultOptions(),
		Progress:         progress.New(!opts.NoProgress, 0),
	}

	eng := engine.New(cfg, &cancel)
	result, err := eng.Run()
	reportResult(result)
	if err != nil {
		return err
	}
	if result.FilesFailed > 0 || result.VerifyFailed > 0 {
		exitCode = 1
	}
	return nil
}

func schedulerConfigFrom(opts *copyOptions) scheduler.Config {
	return scheduler.Config{
		Workers:    resolveThreads(opts.Threads),
		QueueDepth: 1024,
		MaxRetries: opts.RetryCount,
		BaseDelay:  opts.RetryDelay,
	}
}

func resolveAlgorithm(s string) (hashing.Algorithm, error) {
	switch hashing.Algorithm(s) {
	case hashing.XXH3, hashing.XXH64, hashing.BLAKE3, hashing.SHA256:
		return hashing.Algorithm(s), nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", s)
	}
}

func reportResult(r engine.Result) {
	fmt.Fprintf(os.Stdout, "scanned %d files, copied %d (%s), skipped %d, failed %d in %s\n",
		r.FilesScanned, r.FilesCopied, humanize.IBytes(uint64(r.BytesCopied)), r.FilesSkipped, r.FilesFailed, r.Duration.Round(time.Millisecond))
	if r.VerifiedOK+r.VerifyFailed > 0 {
		fmt.Fprintf(os.Stdout, "verified %d ok, %d failed\n", r.VerifiedOK, r.VerifyFailed)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", f.Path, f.Err)
	}
}

// runRemoteCopy pushes (or pulls) a scanned tree over the agent protocol,
// either via an SSH-piped subprocess per connection, a direct TCP dial, or
// the QUIC transport, fanned out through internal/remotesync.
func runRemoteCopy(src, dst string, _ remotePath, srcIsRemote bool, dstRemote remotePath, _ bool, opts *copyOptions) error {
	if srcIsRemote {
		return fmt.Errorf("pulling from a remote source is not yet wired in this build; only pushing local→remote is supported")
	}
	rp, localRoot, remoteRoot := dstRemote, src, dstRemote.Path

	scanCfg, err := buildScanConfig(localRoot, opts)
	if err != nil {
		return err
	}
	sc := scanner.New(scanCfg)
	scanResult, err := sc.Run()
	if err != nil {
		return err
	}
	if len(scanResult.Files) == 0 {
		fmt.Fprintln(os.Stdout, "nothing to transfer")
		return nil
	}

	if opts.QUIC {
		return runQUICPush(rp.Host, opts, localRoot, remoteRoot)
	}

	connections := opts.SSH.ParallelStreams
	if connections <= 0 {
		connections = 1
	}

	factory := func() (*agent.Client, error) {
		if opts.DirectTCP {
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", rp.Host, opts.TCPPort), 10*time.Second)
			if err != nil {
				return nil, err
			}
			return agent.Dial(conn, []string{"chunks", "delta", "batch"})
		}
		pipe, err := dialSSHAgent(rp.User, rp.Host, opts.SSH)
		if err != nil {
			return nil, err
		}
		return agent.Dial(pipe, []string{"chunks", "delta", "batch"})
	}

	p := pool.New[*agent.Client](connections, factory)
	defer p.Close()

	var cancel atomic.Bool
	installSignalCancel(&cancel)

	// --bwlimit paces the batched small-file push below; per-chunk large
	// file transfers run through internal/remotesync's own fan-out, which
	// has no pacing hook today.
	bwlimit, err := parseBandwidth(opts.BandwidthStr)
	if err != nil {
		return fmt.Errorf("invalid --bwlimit: %w", err)
	}
	bucket := throttle.NewTokenBucket(bwlimit)

	batchFiles, largeFiles := toBatchRefs(scanResult.Files, opts.Compress)
	batchedCount, batchedBytes, err := pushBatches(p, bucket, localRoot, remoteRoot, batchFiles, opts.Compress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: batch push: %v\n", err)
		exitCode = 1
	}
	if batchedCount > 0 {
		fmt.Fprintf(os.Stdout, "batched %d small files (%s) into %d archive(s)\n",
			len(flattenRefs(batchFiles)), humanize.IBytes(uint64(batchedBytes)), batchedCount)
	}

	deltaThreshold, err := parseSize(opts.DeltaThresholdStr)
	if err != nil {
		return fmt.Errorf("invalid --delta-threshold: %w", err)
	}

	syncCfg := remotesync.DefaultConfig()
	syncCfg.Connections = connections
	syncCfg.MaxRetries = opts.RetryCount
	syncCfg.RetryDelay = opts.RetryDelay
	syncCfg.DeltaThreshold = deltaThreshold

	rs := remotesync.New(syncCfg, &cancel)
	result := rs.SyncToRemote(p, largeFiles, remoteRoot)

	fmt.Fprintf(os.Stdout, "transferred %d files (%s), failed %d in %s (%s/s)\n",
		result.FilesTransferred, humanize.IBytes(uint64(result.BytesTransferred)), result.FilesFailed,
		result.Duration.Round(time.Millisecond), humanize.IBytes(uint64(result.Throughput)))
	for _, fail := range result.Failures {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", fail.Path, fail.Err)
	}
	if result.FilesFailed > 0 {
		exitCode = 1
	}
	return nil
}

// toBatchRefs partitions a scanned tree into small-file batches (bundled
// into TAR archives before the round trip) and the remaining large files
// that go through the per-file remotesync path.
func toBatchRefs(files []*types.FileEntry, compress bool) (batches [][]batch.FileRef, large []*types.FileEntry) {
	b := batch.NewBuilder()
	if compress {
		b.Format = batch.FormatTarLZ4
	}
	refs := make([]batch.FileRef, len(files))
	byPath := make(map[string]*types.FileEntry, len(files))
	for i, f := range files {
		refs[i] = batch.FileRef{Path: f.RelativePath, Size: f.Size}
		byPath[f.RelativePath] = f
	}
	partitioned, largeRefs := b.PartitionFiles(refs)
	for _, ref := range largeRefs {
		large = append(large, byPath[ref.Path])
	}
	return partitioned, large
}

func flattenRefs(batches [][]batch.FileRef) []batch.FileRef {
	var all []batch.FileRef
	for _, b := range batches {
		all = append(all, b...)
	}
	return all
}

// pushBatches archives each small-file batch in memory and sends it as one
// WriteBatch round trip, pacing the send through bucket when --bwlimit is
// set.
func pushBatches(p *pool.Pool[*agent.Client], bucket *throttle.TokenBucket, localRoot, remoteRoot string, batches [][]batch.FileRef, compress bool) (count int, totalBytes int64, err error) {
	if len(batches) == 0 {
		return 0, 0, nil
	}
	b := batch.NewBuilder()
	format := batch.FormatTar
	if compress {
		b.Format = batch.FormatTarLZ4
		format = batch.FormatTarLZ4
	}
	for _, files := range batches {
		var buf bytes.Buffer
		if _, terr := b.CreateTAR(localRoot, files, &buf); terr != nil {
			return count, totalBytes, terr
		}
		bucket.WaitForCapacity(int64(buf.Len()))

		lease, lerr := p.Acquire()
		if lerr != nil {
			return count, totalBytes, lerr
		}
		_, werr := lease.Client().WriteBatch(remoteRoot, int(format), buf.Bytes())
		lease.Release()
		if werr != nil {
			return count, totalBytes, werr
		}
		count++
		totalBytes += int64(buf.Len())
	}
	return count, totalBytes, nil
}

func runQUICPush(host string, opts *copyOptions, localRoot, remoteRoot string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientCfg := quictransport.DefaultClientConfig(host)
	addr := fmt.Sprintf("%s:%d", host, opts.QUICPort)
	client, err := quictransport.NewClient(ctx, addr, clientCfg)
	if err != nil {
		return fmt.Errorf("quic dial %s: %w", addr, err)
	}
	defer client.Close()

	rtt, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("quic ping: %w", err)
	}
	fmt.Fprintf(os.Stdout, "connected to %s over QUIC (rtt %s); streaming %s -> %s\n", addr, rtt, localRoot, remoteRoot)
	// The bulk push itself still flows through the agent protocol's
	// write-chunk semantics; QUIC here only replaces the read-path
	// handshake/ping smoke test exercised by `parasync copy --quic`
	// against a `parasync quic-server`. Full bidirectional write support
	// over QUIC streams is intentionally narrower than the SSH/TCP path
	// (see quictransport.Server.handleFileRequest, read-only today).
	return fmt.Errorf("quic transport is read-only in this build; use --direct-tcp or SSH for writes")
}
