package throttle

import (
	"sort"
	"sync"
	"time"
)

// Rule is one entry in a Schedule: it applies on the given days, between
// start and end time-of-day (end < start means the window crosses
// midnight), at the given priority (higher wins on overlap) enforcing
// limitBytesPerSec.
type Rule struct {
	Name     string
	Days     map[time.Weekday]struct{} // nil/empty = every day
	Start    time.Duration             // time-of-day offset, e.g. 9*time.Hour
	End      time.Duration
	Priority int
	LimitBPS int64 // 0 = unlimited while this rule is active
}

func (r Rule) matches(now time.Time) bool {
	if len(r.Days) > 0 {
		if _, ok := r.Days[now.Weekday()]; !ok {
			return false
		}
	}
	tod := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	if r.Start <= r.End {
		return tod >= r.Start && tod < r.End
	}
	// spans midnight
	return tod >= r.Start || tod < r.End
}

// Schedule is an ordered (by descending priority) list of rules plus a
// default limit applied when no rule matches.
type Schedule struct {
	Rules        []Rule
	DefaultLimit int64
}

func (s Schedule) sorted() []Rule {
	rules := make([]Rule, len(s.Rules))
	copy(rules, s.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules
}

// effectiveLimit evaluates the schedule against now and returns the
// winning limit and, if a rule matched, its name.
func (s Schedule) effectiveLimit(now time.Time, sorted []Rule) (int64, string) {
	for _, r := range sorted {
		if r.matches(now) {
			return r.LimitBPS, r.Name
		}
	}
	return s.DefaultLimit, ""
}

// nextBoundary returns the next wall-clock minute boundary, the only
// instants at which the updater re-evaluates the schedule.
func nextBoundary(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}

// Status reports the scheduled limiter's current state.
type Status struct {
	Enabled     bool
	CurrentBPS  int64
	NextChange  time.Time
	ActiveRule  string
}

// ScheduledLimiter wraps a TokenBucket whose rate is kept in sync with a
// Schedule by a background updater goroutine, refreshed at each wall-clock
// minute boundary. A rule whose start or end falls between two minute
// boundaries takes effect at the next one, not at its exact second.
type ScheduledLimiter struct {
	mu       sync.RWMutex
	schedule Schedule
	sorted   []Rule
	bucket   *TokenBucket
	status   Status
	enabled  bool

	stop chan struct{}
	done chan struct{}
}

// NewScheduledLimiter starts a background updater evaluating schedule
// against wall-clock time. Call Stop to terminate the updater goroutine.
func NewScheduledLimiter(schedule Schedule) *ScheduledLimiter {
	l := &ScheduledLimiter{
		schedule: schedule,
		sorted:   schedule.sorted(),
		enabled:  true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.refresh(time.Now())
	go l.run()
	return l
}

func (l *ScheduledLimiter) refresh(now time.Time) {
	limit, name := l.schedule.effectiveLimit(now, l.sorted)
	l.mu.Lock()
	l.bucket = NewTokenBucket(limit)
	l.status = Status{
		Enabled:    l.enabled,
		CurrentBPS: limit,
		NextChange: nextBoundary(now),
		ActiveRule: name,
	}
	l.mu.Unlock()
}

func (l *ScheduledLimiter) run() {
	defer close(l.done)
	for {
		now := time.Now()
		wait := time.Until(nextBoundary(now))
		if wait <= 0 {
			wait = time.Minute
		}
		select {
		case <-time.After(wait):
			l.refresh(time.Now())
		case <-l.stop:
			return
		}
	}
}

// Stop terminates the background updater goroutine.
func (l *ScheduledLimiter) Stop() {
	close(l.stop)
	<-l.done
}

// WaitForCapacity delegates to the currently effective TokenBucket.
func (l *ScheduledLimiter) WaitForCapacity(n int64) {
	l.mu.RLock()
	b := l.bucket
	l.mu.RUnlock()
	b.WaitForCapacity(n)
}

// TryAcquire delegates to the currently effective TokenBucket.
func (l *ScheduledLimiter) TryAcquire(n int64) bool {
	l.mu.RLock()
	b := l.bucket
	l.mu.RUnlock()
	return b.TryAcquire(n)
}

// CurrentStatus reports the enabled flag, current limit, next scheduled
// change, and the name of the currently active rule (empty if the default
// limit is in effect).
func (l *ScheduledLimiter) CurrentStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// SetEnabled toggles the limiter; when disabled, WaitForCapacity/TryAcquire
// still consult the bucket (callers that want a true bypass should check
// CurrentStatus().Enabled themselves before calling in).
func (l *ScheduledLimiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.status.Enabled = enabled
	l.mu.Unlock()
}
