// Package scanner provides parallel filesystem scanning: directory trees
// are walked concurrently, filtered by glob/size/hidden-file policy, and
// returned as a ScanResult ready for the copy engine to mirror and
// schedule.
//
// # Architecture Overview
//
// The scanner uses a concurrent fan-out/fan-in architecture to efficiently
// traverse directory trees while respecting system resource limits.
//
// # Concurrency Model
//
// The scanner employs three concurrent components:
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine spawned per directory discovered
//     - Concurrency limited by semaphore (walkerSem)
//     - Each walker: acquires semaphore → lists directory → releases semaphore → spawns child walkers
//
//  2. COLLECTOR GOROUTINE (fan-in)
//     - Single goroutine that drains resultCh into files/directories slices
//     - Provides the aggregation point for all walker outputs
//     - Runs until resultCh is closed
//
//  3. MAIN GOROUTINE (orchestrator)
//     - Initializes channels and spawns initial walkers
//     - Waits for all walkers (walkerWg.Wait)
//     - Closes resultCh to signal collector
//     - Waits for collector (collectorWg.Wait)
//
// # Why This Design?
//
//   - Semaphore controls concurrent directory reads
//   - Atomic counters eliminate lock contention for stats updates
//   - Buffered channel smooths producer/consumer rate differences
//   - Single collector avoids slice synchronization complexity
//   - Recursive spawning naturally handles arbitrary directory depth
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/parasync/parasync/internal/progress"
	"github.com/parasync/parasync/internal/scerr"
	"github.com/parasync/parasync/internal/types"
)

// Ordering controls the order in which ScanResult.Files is returned.
// Ordering is applied after filtering.
type Ordering int

const (
	SmallestFirst Ordering = iota // default
	LargestFirst
	NewestFirst
	OldestFirst
	None
)

// Config holds the immutable parameters of one scan.
type Config struct {
	Paths            []string
	IncludePatterns  []string
	ExcludePatterns  []string
	IncludeHidden    bool
	MinSize          int64
	MaxSize          int64 // 0 means unlimited
	MaxDepth         *int  // nil means unlimited
	FollowSymlinks   bool
	Workers          int
	ShowProgress     bool
	Order            Ordering
}

// ScanResult holds the two disjoint sequences produced by one scan, plus
// bookkeeping. Every file's RelativePath starts at the scan root; no entry
// appears twice.
type ScanResult struct {
	Root        string
	Files       []*types.FileEntry
	Directories []*types.FileEntry
	TotalSize   int64
	FileCount   int
	DirCount    int
	Duration    time.Duration
	Errors      []string
}

// Scanner discovers files and directories matching filter criteria using
// parallel directory traversal. Designed for single use: create with New(),
// call Run() once.
type Scanner struct {
	cfg Config

	walkerWg sync.WaitGroup
	walkerSem chan struct{}
	resultCh  chan scanItem
	stats     *stats
	bar       progress.Reporter
	errMu     sync.Mutex
	errs      []string
}

type scanItem struct {
	entry *types.FileEntry
	isDir bool
}

// New creates a Scanner for the given configuration. Workers <= 0 is
// replaced with 1; cmd/parasync resolves its own runtime.NumCPU() default
// before constructing Config.
func New(cfg Config) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scanner{cfg: cfg}
}

type stats struct {
	scannedFiles atomic.Int64
	matchedFiles atomic.Int64
	scannedBytes atomic.Int64
	matchedBytes atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("scanned %d (%s), matched %d files (%s) in %.1fs",
		s.scannedFiles.Load(), humanize.IBytes(uint64(s.scannedBytes.Load())),
		s.matchedFiles.Load(), humanize.IBytes(uint64(s.matchedBytes.Load())),
		time.Since(s.startTime).Seconds())
}

// Run executes the scan and returns the aggregated result. A missing root
// is recorded in ScanResult.Errors as a KindNotFound error and the scan
// goes on with the other roots; invalid glob patterns or an empty Paths
// list return a KindConfig error before any traversal starts.
func (s *Scanner) Run() (*ScanResult, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	s.walkerSem = make(chan struct{}, s.cfg.Workers)
	s.stats = &stats{startTime: start}
	s.bar = progress.New(s.cfg.ShowProgress, -1)
	s.bar.Describe(s.stats)
	s.resultCh = make(chan scanItem, 1000)

	result := &ScanResult{}
	if len(s.cfg.Paths) == 1 {
		abs, err := filepath.Abs(s.cfg.Paths[0])
		if err == nil {
			result.Root = abs
		}
	}

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() {
		defer collectorWg.Done()
		seen := make(map[string]bool)
		for item := range s.resultCh {
			if seen[item.entry.Path] {
				continue
			}
			seen[item.entry.Path] = true
			if item.isDir {
				result.Directories = append(result.Directories, item.entry)
				result.DirCount++
			} else {
				result.Files = append(result.Files, item.entry)
				result.FileCount++
				result.TotalSize += item.entry.Size
			}
		}
	}()

	for _, root := range s.cfg.Paths {
		abs, err := filepath.Abs(root)
		if err != nil {
			s.sendError(err)
			continue
		}
		info, err := os.Lstat(abs)
		if err != nil {
			s.sendError(scerr.New(scerr.KindNotFound, abs, err))
			continue
		}
		if !info.IsDir() {
			s.sendError(scerr.New(scerr.KindConfig, abs, fmt.Errorf("not a directory")))
			continue
		}
		s.walkDirectory(abs, abs, 0)
	}

	s.walkerWg.Wait()
	close(s.resultCh)
	collectorWg.Wait()

	s.bar.Finish(s.stats)

	result.Duration = time.Since(start)
	result.Errors = s.errs
	applyOrdering(result.Files, s.cfg.Order)

	return result, nil
}

func (s *Scanner) validate() error {
	for _, p := range append(append([]string{}, s.cfg.IncludePatterns...), s.cfg.ExcludePatterns...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return scerr.New(scerr.KindConfig, "", fmt.Errorf("invalid glob pattern %q: %w", p, err))
		}
	}
	if len(s.cfg.Paths) == 0 {
		return scerr.New(scerr.KindConfig, "", fmt.Errorf("no scan paths given"))
	}
	return nil
}

// walkDirectory spawns a goroutine to process one directory and recursively
// spawn children. The semaphore limits how many directories are being read
// simultaneously; it does not limit the number of pending goroutines, which
// is bounded by the directory count.
func (s *Scanner) walkDirectory(root, dir string, depth int) {
	s.walkerWg.Add(1)
	go func() {
		defer s.walkerWg.Done()

		s.walkerSem <- struct{}{}
		entries, err := s.listDirectory(dir)
		<-s.walkerSem
		if err != nil {
			s.sendError(scerr.IO(dir, err))
			return
		}

		for _, entry := range entries {
			fe, isDir, skipDescend := s.processEntry(root, dir, entry)
			if fe == nil {
				continue
			}
			if isDir {
				s.resultCh <- scanItem{entry: fe, isDir: true}
				if !skipDescend && (s.cfg.MaxDepth == nil || depth+1 <= *s.cfg.MaxDepth) {
					s.walkDirectory(root, fe.Path, depth+1)
				}
				continue
			}

			s.stats.scannedFiles.Add(1)
			s.stats.scannedBytes.Add(fe.Size)
			if s.matchesFileFilters(fe) {
				s.resultCh <- scanItem{entry: fe}
				s.stats.matchedFiles.Add(1)
				s.stats.matchedBytes.Add(fe.Size)
			}
		}
		s.bar.Describe(s.stats)
	}()
}

// listDirectory reads one directory in ReadDir batches of 1000 entries and
// returns them all together; the full listing is held in memory.
func (s *Scanner) listDirectory(dirPath string) ([]os.DirEntry, error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	var all []os.DirEntry
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return all, err
			}
			break
		}
		all = append(all, entries...)
	}
	return all, nil
}

// processEntry classifies one directory entry. Directories are returned
// regardless of file filters (mirror creation needs them); an excluded
// directory is still returned (so its presence as a container is known) but
// is not descended into. Hidden directories are the exception: with
// IncludeHidden off they are neither returned nor descended into.
func (s *Scanner) processEntry(root, dirPath string, entry os.DirEntry) (fe *types.FileEntry, isDir bool, skipDescend bool) {
	fullPath := filepath.Join(dirPath, entry.Name())
	rel, _ := filepath.Rel(root, fullPath)
	hidden := isHiddenName(entry.Name())

	if entry.IsDir() {
		if hidden && !s.cfg.IncludeHidden {
			return nil, true, true
		}
		excluded := s.matchesExclude(rel, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, true, true
		}
		return &types.FileEntry{
			Path: fullPath, RelativePath: rel, IsDir: true,
			ModTime: info.ModTime(), Mode: uint32(info.Mode().Perm()),
		}, true, excluded
	}

	if entry.Type()&os.ModeSymlink != 0 {
		target, err := os.Readlink(fullPath)
		if err != nil {
			s.sendError(scerr.New(scerr.KindSymlink, fullPath, err))
			return nil, false, false
		}
		if !s.cfg.FollowSymlinks {
			info, err := entry.Info()
			if err != nil {
				return nil, false, false
			}
			return &types.FileEntry{
				Path: fullPath, RelativePath: rel, IsSymlink: true, SymlinkTo: target,
				ModTime: info.ModTime(), Mode: uint32(info.Mode().Perm()),
			}, false, false
		}
		// FollowSymlinks: stat through the link and treat as a regular file.
		info, err := os.Stat(fullPath)
		if err != nil {
			s.sendError(scerr.IO(fullPath, err))
			return nil, false, false
		}
		return newFileEntry(fullPath, rel, info), false, false
	}

	if !entry.Type().IsRegular() {
		s.sendError(scerr.New(scerr.KindUnsupportedFileType, fullPath, fmt.Errorf("not a regular file")))
		return nil, false, false
	}

	info, err := entry.Info()
	if err != nil {
		return nil, false, false
	}
	return newFileEntry(fullPath, rel, info), false, false
}

func (s *Scanner) matchesFileFilters(fe *types.FileEntry) bool {
	if isHiddenName(filepath.Base(fe.RelativePath)) && !s.cfg.IncludeHidden {
		return false
	}
	if fe.Size < s.cfg.MinSize {
		return false
	}
	if s.cfg.MaxSize > 0 && fe.Size > s.cfg.MaxSize {
		return false
	}
	if len(s.cfg.ExcludePatterns) > 0 && s.matchesAny(s.cfg.ExcludePatterns, fe.RelativePath, filepath.Base(fe.Path)) {
		return false
	}
	if len(s.cfg.IncludePatterns) > 0 && !s.matchesAny(s.cfg.IncludePatterns, fe.RelativePath, filepath.Base(fe.Path)) {
		return false
	}
	return true
}

func (s *Scanner) matchesExclude(rel, base string) bool {
	if len(s.cfg.ExcludePatterns) == 0 {
		return false
	}
	return s.matchesAny(s.cfg.ExcludePatterns, rel, base)
}

func (s *Scanner) matchesAny(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if matched, _ := filepath.Match(p, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(p, base); matched {
			return true
		}
	}
	return false
}

func newFileEntry(fullPath, rel string, info os.FileInfo) *types.FileEntry {
	fe := &types.FileEntry{
		Path: fullPath, RelativePath: rel, Size: info.Size(),
		ModTime: info.ModTime(), Mode: uint32(info.Mode().Perm()),
	}
	setPlatformStat(fe, info)
	return fe
}

func isHiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func (s *Scanner) sendError(err error) {
	s.errMu.Lock()
	s.errs = append(s.errs, err.Error())
	s.errMu.Unlock()
}

func applyOrdering(files []*types.FileEntry, order Ordering) {
	switch order {
	case SmallestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].Size < files[j].Size })
	case LargestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].Size > files[j].Size })
	case NewestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	case OldestFirst:
		sort.SliceStable(files, func(i, j int) bool { return files[i].ModTime.Before(files[j].ModTime) })
	case None:
		// leave traversal order as collected
	}
}
