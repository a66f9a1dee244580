package throttle

import (
	"testing"
	"time"
)

func TestTokenBucketUnlimited(t *testing.T) {
	b := NewTokenBucket(0)
	if !b.TryAcquire(1 << 30) {
		t.Error("unlimited bucket should always acquire")
	}
	b.WaitForCapacity(1 << 30) // must not block
}

func TestTokenBucketTryAcquireNeverOverdraws(t *testing.T) {
	b := NewTokenBucket(1024) // 1 token/sec, burst 2 tokens (2 KiB)
	if !b.TryAcquire(1024) {
		t.Fatal("expected first 1 KiB acquire to succeed within burst")
	}
	if !b.TryAcquire(1024) {
		t.Fatal("expected second 1 KiB acquire to succeed within burst cap")
	}
	if b.TryAcquire(1024) {
		t.Error("expected acquire beyond burst cap to fail immediately")
	}
}

func TestTokenBucketWaitEventuallyUnblocks(t *testing.T) {
	b := NewTokenBucket(1024 * 100) // 100 tokens/sec
	done := make(chan struct{})
	go func() {
		b.WaitForCapacity(1024)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCapacity did not return in time")
	}
}

func TestScheduleRuleSpansMidnight(t *testing.T) {
	r := Rule{Start: 22 * time.Hour, End: 6 * time.Hour}
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !r.matches(late) {
		t.Error("expected rule to match 23:00")
	}
	if !r.matches(early) {
		t.Error("expected rule to match 03:00")
	}
	if r.matches(midday) {
		t.Error("expected rule not to match midday")
	}
}

func TestScheduleHighestPriorityWins(t *testing.T) {
	s := Schedule{
		Rules: []Rule{
			{Name: "low", Start: 0, End: 24 * time.Hour, Priority: 1, LimitBPS: 1000},
			{Name: "high", Start: 0, End: 24 * time.Hour, Priority: 10, LimitBPS: 2000},
		},
		DefaultLimit: 500,
	}
	sorted := s.sorted()
	limit, name := s.effectiveLimit(time.Now(), sorted)
	if name != "high" || limit != 2000 {
		t.Errorf("got (%d, %q), want (2000, \"high\")", limit, name)
	}
}

func TestScheduleDefaultWhenNoRuleMatches(t *testing.T) {
	s := Schedule{
		Rules: []Rule{
			{Name: "never", Days: map[time.Weekday]struct{}{time.Sunday: {}}, Start: 0, End: time.Hour, Priority: 5, LimitBPS: 999},
		},
		DefaultLimit: 321,
	}
	// pick a Monday, well outside the rule's window
	monday := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	limit, name := s.effectiveLimit(monday, s.sorted())
	if name != "" || limit != 321 {
		t.Errorf("got (%d, %q), want (321, \"\")", limit, name)
	}
}

func TestScheduledLimiterStatusAndStop(t *testing.T) {
	l := NewScheduledLimiter(Schedule{DefaultLimit: 4096})
	defer l.Stop()

	st := l.CurrentStatus()
	if !st.Enabled {
		t.Error("expected enabled by default")
	}
	if st.CurrentBPS != 4096 {
		t.Errorf("CurrentBPS = %d, want 4096", st.CurrentBPS)
	}

	l.SetEnabled(false)
	if l.CurrentStatus().Enabled {
		t.Error("expected disabled after SetEnabled(false)")
	}
}
