// Package throttle implements bandwidth limiting: a token-bucket limiter
// for a flat rate, and a scheduled limiter that evaluates a list of
// day-of-week/time-of-day rules to pick the effective rate at any instant.
// Internal accounting is in 1 KiB tokens throughout.
package throttle

import (
	"time"

	"golang.org/x/time/rate"
)

const tokenUnit = 1024 // bytes per accounted token

// TokenBucket rate-limits byte transfer to a configured bytes-per-second
// rate, accounted in 1 KiB tokens. golang.org/x/time/rate.Limiter is the
// accounting primitive underneath; its burst is set to ~2 seconds of rate
// so a long idle period does not produce an unbounded burst.
type TokenBucket struct {
	limiter    *rate.Limiter
	ratePerSec int64 // tokens/sec, 0 = unlimited
}

// NewTokenBucket builds a bucket rate-limiting to bytesPerSec bytes/second.
// bytesPerSec <= 0 means unlimited: Wait and TryAcquire always succeed
// immediately.
func NewTokenBucket(bytesPerSec int64) *TokenBucket {
	rateTokens := bytesPerSec / tokenUnit
	if rateTokens < 1 && bytesPerSec > 0 {
		rateTokens = 1
	}
	b := &TokenBucket{ratePerSec: rateTokens}
	if rateTokens > 0 {
		burst := int(rateTokens * 2)
		b.limiter = rate.NewLimiter(rate.Limit(rateTokens), burst)
	}
	return b
}

// WaitForCapacity blocks, busy-waiting in short sleeps, until n bytes worth
// of tokens are available, then consumes them. A request larger than the
// burst is consumed in burst-sized pieces. A non-positive rate (unlimited)
// returns immediately.
func (b *TokenBucket) WaitForCapacity(n int64) {
	if b.ratePerSec <= 0 {
		return
	}
	need := int(tokensFor(n))
	burst := b.limiter.Burst()
	for need > 0 {
		take := need
		if take > burst {
			take = burst
		}
		for !b.limiter.AllowN(time.Now(), take) {
			time.Sleep(100 * time.Microsecond)
		}
		need -= take
	}
}

// TryAcquire attempts to consume n bytes worth of tokens without blocking.
// It never returns true unless at least n bytes' worth of tokens were
// available at the moment of acquisition.
func (b *TokenBucket) TryAcquire(n int64) bool {
	if b.ratePerSec <= 0 {
		return true
	}
	return b.limiter.AllowN(time.Now(), int(tokensFor(n)))
}

func tokensFor(bytes int64) int64 {
	t := bytes / tokenUnit
	if bytes%tokenUnit != 0 {
		t++
	}
	return t
}
