// Package scheduler implements the bounded multi-producer multi-consumer
// task/result channel pair, worker pool, and retry-with-backoff logic that
// sit between the copy engine and the per-file copier.
//
// # Concurrency Model
//
// A bounded task channel carries Tasks to a fixed pool of worker
// goroutines; a symmetric bounded channel carries Results back. Each
// worker loops: receive with a short timeout (so a shutdown flag flip is
// observed promptly even with no traffic) → copy → send result → repeat.
// Failed tasks whose retry counter has not exceeded the configured maximum
// are requeued with the counter incremented and an exponential backoff
// delay; exceeding the maximum yields a typed "exceeded retries" error.
//
// # Why This Design?
//
//   - Bounded channels provide natural backpressure between engine and
//     workers without an unbounded queue.
//   - A shared shutdown flag, checked every iteration, lets Stop terminate
//     promptly without losing in-flight results.
//   - Shared atomic counters give lock-free statistics under concurrent
//     submission and completion.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/parasync/parasync/internal/scerr"
	"github.com/parasync/parasync/internal/types"
)

// Task is a schedulable unit of work: one file entry to copy into
// destRoot, with a monotonically assigned Id and a priority derived from
// size (smaller size → smaller priority number → scheduled earlier).
type Task struct {
	ID       int64
	Entry    *types.FileEntry
	DestRoot string
	Priority int64
	Retries  int
}

// Result is what a worker reports back after attempting a Task.
type Result struct {
	TaskID      int64
	BytesCopied int64
	Duration    time.Duration
	Hash        string // empty if verification was not requested
	Err         error
	Retries     int
}

// CopyFunc is the single-file copy operation the scheduler dispatches to;
// supplied by the engine so this package has no dependency on the copier
// package's concrete types.
type CopyFunc func(task Task) (bytesCopied int64, dur time.Duration, hash string, err error)

// Config configures one Scheduler.
type Config struct {
	Workers      int
	QueueDepth   int
	MaxRetries   int
	BaseDelay    time.Duration // exponential backoff base
	WorkStealing bool          // reserved: all workers share one queue regardless, so stealing is implicit
}

// DefaultConfig returns the baseline scheduler configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueDepth: 1024, MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// Stats are the shared, lock-free counters the scheduler maintains.
// Completion is defined as Completed+Failed == Submitted (and Submitted >
// 0).
type Stats struct {
	Submitted     atomic.Int64
	Completed     atomic.Int64
	Failed        atomic.Int64
	InProgress    atomic.Int64
	BytesCopied   atomic.Int64
	BytesRemaining atomic.Int64
}

// Done reports whether every submitted task has produced a terminal
// result.
func (s *Stats) Done() bool {
	submitted := s.Submitted.Load()
	return submitted > 0 && s.Completed.Load()+s.Failed.Load() == submitted
}

// Scheduler owns the task/result channel pair, the worker pool, and the
// shared stats. Create with New, Submit/SubmitBatch tasks, drain Results,
// call Stop when done.
type Scheduler struct {
	cfg    Config
	copy   CopyFunc
	tasks  chan Task
	results chan Result
	nextID atomic.Int64
	stats  *Stats
	cancel *atomic.Bool // shared with caller; nil means never cancelled

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// New builds a Scheduler with cfg.Workers goroutines already running,
// consuming from an internal bounded task channel of depth
// cfg.QueueDepth. cancel, if non-nil, is consulted by every worker before
// starting a copy; when it reports true the task is abandoned with a
// scerr.Cancelled() result instead of being attempted.
func New(cfg Config, copy CopyFunc, cancel *atomic.Bool) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	s := &Scheduler{
		cfg:     cfg,
		copy:    copy,
		tasks:   make(chan Task, cfg.QueueDepth),
		results: make(chan Result, cfg.QueueDepth),
		stats:   &Stats{},
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Stats returns the shared counters; callers read them concurrently via
// the exposed atomics.
func (s *Scheduler) Stats() *Stats { return s.stats }

// Results returns the channel workers publish Results on. Callers should
// drain it until Stats().Done() to avoid leaking a blocked worker.
func (s *Scheduler) Results() <-chan Result { return s.results }

// Submit assigns a task id, accounts for it in Stats, and enqueues it.
// Blocks if the internal task channel is full (backpressure).
func (s *Scheduler) Submit(entry *types.FileEntry, destRoot string) Task {
	t := Task{
		ID:       s.nextID.Add(1),
		Entry:    entry,
		DestRoot: destRoot,
		Priority: entry.Size,
	}
	s.stats.Submitted.Add(1)
	s.stats.BytesRemaining.Add(entry.Size)
	s.tasks <- t
	return t
}

// SubmitBatch sorts entries by size ascending (SmallestFirst priority
// semantics) then submits each individually.
func (s *Scheduler) SubmitBatch(entries []*types.FileEntry, destRoot string) []Task {
	sorted := make([]*types.FileEntry, len(entries))
	copy(sorted, entries)
	sortBySize(sorted)

	tasks := make([]Task, len(sorted))
	for i, e := range sorted {
		tasks[i] = s.Submit(e, destRoot)
	}
	return tasks
}

func sortBySize(entries []*types.FileEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Size < entries[j-1].Size; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Stop closes the task channel (no further Submit calls are valid after
// this), flips the shutdown flag observed by workers, waits for all
// workers to drain, then closes the results channel.
func (s *Scheduler) Stop() {
	s.shutdown.Store(true)
	close(s.tasks)
	s.wg.Wait()
	close(s.results)
}

const receiveTimeout = 200 * time.Millisecond

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		if s.shutdown.Load() {
			return
		}
		select {
		case t, ok := <-s.tasks:
			if !ok {
				return
			}
			s.handle(t)
		case <-time.After(receiveTimeout):
			// loop back around to re-check the shutdown flag
		}
	}
}

func (s *Scheduler) handle(t Task) {
	if s.cancel != nil && s.cancel.Load() {
		s.finish(t, Result{TaskID: t.ID, Err: scerr.Cancelled(), Retries: t.Retries})
		return
	}

	s.stats.InProgress.Add(1)
	n, dur, hash, err := s.copy(t)
	s.stats.InProgress.Add(-1)

	if err != nil && scerr.IsRecoverable(err) && t.Retries < s.cfg.MaxRetries {
		t.Retries++
		go func() {
			time.Sleep(backoff(s.cfg.BaseDelay, t.Retries))
			select {
			case s.tasks <- t:
			default:
				// channel closed or full during shutdown; drop and report as failed
				s.finish(t, Result{TaskID: t.ID, Err: err, Retries: t.Retries})
			}
		}()
		return
	}

	if err != nil && scerr.IsRecoverable(err) && t.Retries >= s.cfg.MaxRetries {
		err = scerr.New(scerr.KindThreadPool, t.Entry.Path, errExceededRetries(t.Retries))
	}

	s.finish(t, Result{TaskID: t.ID, BytesCopied: n, Duration: dur, Hash: hash, Err: err, Retries: t.Retries})
}

func (s *Scheduler) finish(t Task, r Result) {
	s.stats.BytesRemaining.Add(-t.Entry.Size)
	if r.Err != nil {
		s.stats.Failed.Add(1)
	} else {
		s.stats.Completed.Add(1)
		s.stats.BytesCopied.Add(r.BytesCopied)
	}
	s.results <- r
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

type retriesExceededError struct{ retries int }

func (e *retriesExceededError) Error() string {
	return "exceeded maximum retries"
}

func errExceededRetries(retries int) error { return &retriesExceededError{retries: retries} }
