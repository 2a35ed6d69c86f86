package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/haoran/skuflow/internal/apperr"
	"github.com/haoran/skuflow/internal/logger"
)

// maxRetries bounds transient-failure retries per call (linear backoff).
const maxRetries = 2

// Service is the single entry point for every LLM call in the system.
// Call chain: circuit check -> rate limit -> budget -> client -> record.
type Service struct {
	client  Completer
	circuit *CircuitBreaker
	budget  *BudgetGuard
	limiter *RateLimiter

	sleep func(time.Duration)
}

// NewService wires the LLM client with its resilience guards.
// Parameters:
//   - client: underlying completion client.
//   - circuit: circuit breaker (required).
//   - budget: budget guard; nil disables budget checks.
//   - limiter: rate limiter; nil disables rate checks.
// Returns:
//   - *Service: ready service.
func NewService(client Completer, circuit *CircuitBreaker, budget *BudgetGuard, limiter *RateLimiter) *Service {
	return &Service{
		client:  client,
		circuit: circuit,
		budget:  budget,
		limiter: limiter,
		sleep:   time.Sleep,
	}
}

// Model returns the active model name.
func (s *Service) Model() string {
	return s.client.Model()
}

// Complete performs one guarded LLM call with bounded retry.
//
// Resource-exhaustion errors (circuit open, rate limited, budget
// exhausted) are returned immediately without retry; the caller must
// degrade. Transient client failures are retried up to maxRetries times
// with linear backoff.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: completion request.
// Returns:
//   - *CompletionResponse: response on success.
//   - error: non-retryable guard error or the final transient failure.
func (s *Service) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := s.circuit.Check(); err != nil {
			return nil, err
		}
		if s.limiter != nil {
			if err := s.limiter.Acquire(estimateTokens(req)); err != nil {
				return nil, err
			}
		}
		if s.budget != nil {
			if _, err := s.budget.Check(ctx, req.Operation); err != nil {
				return nil, err
			}
		}

		resp, err := s.client.Complete(ctx, req)
		if err == nil {
			s.circuit.RecordSuccess()
			tokens := resp.InputTokens + resp.OutputTokens
			if s.limiter != nil {
				s.limiter.RecordTokens(tokens)
			}
			if s.budget != nil {
				cost := estimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
				if rerr := s.budget.Record(ctx, cost, int64(tokens)); rerr != nil {
					logger.CtxWarn(ctx, "failed to record LLM usage: %v", rerr)
				}
			}
			return resp, nil
		}

		s.circuit.RecordFailure()
		lastErr = err
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		if attempt < maxRetries {
			logger.CtxWarn(ctx, "LLM call retry: operation=%s attempt=%d error=%v",
				req.Operation, attempt+1, err)
			s.sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	return nil, apperr.Wrap(apperr.CodeInternal, apperr.SeverityError, lastErr,
		"LLM call failed after %d attempts", maxRetries+1)
}

// estimateTokens gives a rough pre-call token estimate for rate limiting.
func estimateTokens(req *CompletionRequest) int {
	// ~4 chars per token for prompt text; a flat charge per image.
	return len(req.Prompt)/4 + len(req.Images)*800
}

// estimateCost converts token usage to USD using per-million-token rates.
func estimateCost(model string, inputTokens, outputTokens int) float64 {
	inRate, outRate := 0.15, 0.60 // gpt-4o-mini class default
	switch {
	case strings.Contains(model, "gpt-4o-mini"):
		inRate, outRate = 0.15, 0.60
	case strings.Contains(model, "gpt-4o"):
		inRate, outRate = 2.50, 10.0
	case strings.Contains(model, "qwen"):
		inRate, outRate = 0.40, 1.20
	}
	return (float64(inputTokens)*inRate + float64(outputTokens)*outRate) / 1_000_000
}
