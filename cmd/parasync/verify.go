package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/parasync/parasync/internal/hashing"
)

type verifyOptions struct {
	Manifest  string
	Algorithm string
	Workers   int
	CacheFile string
}

func newVerifyCmd() *cobra.Command {
	opts := &verifyOptions{Algorithm: string(hashing.DefaultAlgorithm)}
	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify a destination tree against a saved manifest, or two trees against each other",
		Long: `With --manifest, re-hashes each file the manifest lists (resolved under
<path>) and compares it to the recorded digest; files under <path> that the
manifest does not list are not checked. Without --manifest, <path> is treated as a destination and
a second positional argument is required: the original source tree, which is
hashed fresh for comparison.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerify(args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Manifest, "manifest", "", "Manifest file to verify against")
	f.StringVar(&opts.Algorithm, "algorithm", opts.Algorithm, "Hash algorithm to use when no manifest is given")
	f.IntVarP(&opts.Workers, "workers", "w", 0, "Parallel hashing workers (0 = auto)")
	f.StringVar(&opts.CacheFile, "cache-file", "", "Path to a persistent hash cache (speeds up repeat verification)")
	return cmd
}

func runVerify(args []string, opts *verifyOptions) error {
	cache, err := hashing.Open(opts.CacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = cache.Close() }()

	if opts.Manifest != "" {
		return verifyAgainstManifest(args[0], opts, cache)
	}
	if len(args) != 2 {
		return fmt.Errorf("verify without --manifest requires both a destination and a source path")
	}
	return verifyTreesMatch(args[1], args[0], opts, cache)
}

func cachedHashFile(cache *hashing.Cache, path string, algo hashing.Algorithm) (hashing.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return hashing.Result{}, err
	}
	if digest, hit, err := cache.Lookup(path, info.Size(), info.ModTime(), algo); err == nil && hit {
		return hashing.Result{Algorithm: algo, Hash: digest, Size: info.Size()}, nil
	}
	res, err := hashing.HashFile(path, algo)
	if err != nil {
		return hashing.Result{}, err
	}
	_ = cache.Store(path, info.Size(), info.ModTime(), algo, res.Hash)
	return res, nil
}

func verifyAgainstManifest(root string, opts *verifyOptions, cache *hashing.Cache) error {
	m, err := hashing.LoadManifest(opts.Manifest)
	if err != nil {
		return err
	}
	var mismatches, missing, ok int
	for _, e := range m.Entries {
		path := filepath.Join(root, e.RelativePath)
		res, err := cachedHashFile(cache, path, e.Algorithm)
		if err != nil {
			missing++
			fmt.Fprintf(os.Stderr, "missing: %s: %v\n", e.RelativePath, err)
			continue
		}
		want := hashing.Result{Algorithm: e.Algorithm, Hash: e.Digest, Size: e.Size}
		if res.Verify(want) {
			ok++
		} else {
			mismatches++
			fmt.Fprintf(os.Stderr, "mismatch: %s\n", e.RelativePath)
		}
	}
	fmt.Fprintf(os.Stdout, "%d ok, %d mismatched, %d missing (of %d entries)\n", ok, mismatches, missing, len(m.Entries))
	if mismatches > 0 || missing > 0 {
		exitCode = 1
	}
	return nil
}

func verifyTreesMatch(src, dst string, opts *verifyOptions, cache *hashing.Cache) error {
	algo, err := resolveAlgorithm(opts.Algorithm)
	if err != nil {
		return err
	}
	srcFiles, err := collectFiles(src)
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = resolveThreads(0)
	}

	type outcome struct {
		rel     string
		match   bool
		missing bool
		err     error
	}

	start := time.Now()
	sem := make(chan struct{}, workers)
	results := make(chan outcome, len(srcFiles))
	for _, rel := range srcFiles {
		rel := rel
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			srcRes, err := cachedHashFile(cache, filepath.Join(src, rel), algo)
			if err != nil {
				results <- outcome{rel: rel, err: err}
				return
			}
			dstRes, err := cachedHashFile(cache, filepath.Join(dst, rel), algo)
			if err != nil {
				results <- outcome{rel: rel, missing: true, err: err}
				return
			}
			results <- outcome{rel: rel, match: srcRes.Verify(dstRes)}
		}()
	}

	var mismatches, missing, ok int
	var firstErr error
	for range srcFiles {
		o := <-results
		switch {
		case o.missing:
			missing++
			fmt.Fprintf(os.Stderr, "missing: %s: %v\n", o.rel, o.err)
		case o.err != nil:
			if firstErr == nil {
				firstErr = o.err
			}
		case o.match:
			ok++
		default:
			mismatches++
			fmt.Fprintf(os.Stderr, "mismatch: %s\n", o.rel)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	fmt.Fprintf(os.Stdout, "%d ok, %d mismatched, %d missing in %s\n", ok, mismatches, missing, time.Since(start).Round(time.Millisecond))
	if mismatches > 0 || missing > 0 {
		exitCode = 1
	}
	return nil
}

// collectFiles returns every regular file under root, relative to root.
func collectFiles(root string) ([]string, error) {
	var rels []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	return rels, err
}
