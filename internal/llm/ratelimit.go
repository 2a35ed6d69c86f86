package llm

import (
	"sync"
	"time"

	"github.com/haoran/skuflow/internal/apperr"
)

// RateLimiter enforces queries-per-minute and tokens-per-minute limits
// over a one-minute sliding window.
type RateLimiter struct {
	mu  sync.Mutex
	qpm int
	tpm int

	requests []time.Time
	tokens   []tokenRecord

	now func() time.Time
}

type tokenRecord struct {
	at    time.Time
	count int
}

// NewRateLimiter creates a limiter; zero limits disable the check.
func NewRateLimiter(qpm, tpm int) *RateLimiter {
	return &RateLimiter{qpm: qpm, tpm: tpm, now: time.Now}
}

// Acquire reserves one request slot, checking both limits.
// Parameters:
//   - estimatedTokens: expected token consumption; 0 skips the TPM check.
// Returns:
//   - error: rate-limited error when a limit would be exceeded.
func (rl *RateLimiter) Acquire(estimatedTokens int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)
	rl.prune(cutoff)

	if rl.qpm > 0 && len(rl.requests) >= rl.qpm {
		return apperr.New(apperr.CodeLLMRateLimited, apperr.SeverityWarning,
			"QPM limit (%d) exceeded", rl.qpm)
	}
	if rl.tpm > 0 && estimatedTokens > 0 {
		used := 0
		for _, t := range rl.tokens {
			used += t.count
		}
		if used+estimatedTokens > rl.tpm {
			return apperr.New(apperr.CodeLLMRateLimited, apperr.SeverityWarning,
				"TPM limit (%d) exceeded", rl.tpm)
		}
	}

	rl.requests = append(rl.requests, now)
	return nil
}

// RecordTokens records actual token consumption after a call completes.
func (rl *RateLimiter) RecordTokens(tokens int) {
	if tokens <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = append(rl.tokens, tokenRecord{at: rl.now(), count: tokens})
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	keepReq := rl.requests[:0]
	for _, t := range rl.requests {
		if t.After(cutoff) {
			keepReq = append(keepReq, t)
		}
	}
	rl.requests = keepReq

	keepTok := rl.tokens[:0]
	for _, t := range rl.tokens {
		if t.at.After(cutoff) {
			keepTok = append(keepTok, t)
		}
	}
	rl.tokens = keepTok
}
