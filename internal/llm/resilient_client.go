package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/abdul-hamid-achik/aishell/internal/config"
	shellerr "github.com/abdul-hamid-achik/aishell/internal/errors"
	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// ResilientClient wraps an LLMClient with retry logic and circuit breaking.
type ResilientClient struct {
	inner      LLMClient
	cb         *CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	onWait     WaitCallback
}

// NewResilientClient wraps the given client with resilience features.
func NewResilientClient(inner LLMClient, cfg config.RateLimitConfig) *ResilientClient {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &ResilientClient{
		inner:      inner,
		cb:         NewCircuitBreaker(5, 30*time.Second),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// SetWaitCallback sets a callback invoked before each retry.
func (rc *ResilientClient) SetWaitCallback(cb WaitCallback) {
	rc.onWait = cb
}

// Breaker exposes the circuit breaker, e.g. for /status.
func (rc *ResilientClient) Breaker() *CircuitBreaker {
	return rc.cb
}

// Chat sends a request with retry and circuit breaker protection.
func (rc *ResilientClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if err := rc.wait(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}
		if !rc.cb.Allow() {
			return nil, shellerr.CircuitOpen()
		}

		resp, err := rc.inner.Chat(ctx, messages, systemPrompt)
		if err == nil {
			rc.cb.RecordSuccess()
			return resp, nil
		}
		lastErr = err
		if !rc.countFailure(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// ChatStream streams with circuit breaker protection. A stream is retried
// only if it fails before producing any output.
func (rc *ResilientClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)
		var lastErr error
		for attempt := 0; attempt <= rc.maxRetries; attempt++ {
			if attempt > 0 {
				if err := rc.wait(ctx, attempt, lastErr); err != nil {
					out <- StreamChunk{Type: ChunkError, Error: err}
					return
				}
			}
			if !rc.cb.Allow() {
				out <- StreamChunk{Type: ChunkError, Error: shellerr.CircuitOpen()}
				return
			}

			produced := false
			var streamErr error
			for chunk := range rc.inner.ChatStream(ctx, messages, systemPrompt) {
				if chunk.Type == ChunkError {
					streamErr = chunk.Error
					continue
				}
				if streamErr == nil {
					produced = produced || chunk.Type == ChunkText || chunk.Type == ChunkReasoning
					out <- chunk
				}
			}
			if streamErr == nil {
				rc.cb.RecordSuccess()
				return
			}

			lastErr = streamErr
			if !rc.countFailure(streamErr) || produced || ctx.Err() != nil {
				out <- StreamChunk{Type: ChunkError, Error: streamErr}
				return
			}
		}
		out <- StreamChunk{Type: ChunkError, Error: lastErr}
	}()
	return out
}

// countFailure feeds err to the breaker and reports whether it may be retried.
// Aborts and permanent errors do not count against the endpoint.
func (rc *ResilientClient) countFailure(err error) bool {
	if shellerr.IsCategory(err, shellerr.CategoryAbort) {
		return false
	}
	rc.cb.RecordFailure()
	return shellerr.IsRetryable(err)
}

func (rc *ResilientClient) wait(ctx context.Context, attempt int, cause error) error {
	info := WaitInfo{
		Duration:    rc.backoff(attempt - 1),
		Reason:      shellerr.GetUserMessage(cause),
		Attempt:     attempt,
		MaxAttempts: rc.maxRetries,
	}
	logging.Debug("retrying LLM request", logging.Attempt(attempt), logging.Duration(info.Duration), logging.Reason(info.Reason))
	if err := sleep(ctx, rc.onWait, info); err != nil {
		return shellerr.UserAbort(err)
	}
	return nil
}

// SetModel delegates to the inner client.
func (rc *ResilientClient) SetModel(model string) {
	rc.inner.SetModel(model)
}

// GetModel delegates to the inner client.
func (rc *ResilientClient) GetModel() string {
	return rc.inner.GetModel()
}

// backoff returns an exponential delay with 50-100% jitter.
func (rc *ResilientClient) backoff(attempt int) time.Duration {
	delay := rc.baseDelay * (1 << uint(attempt))
	if delay > rc.maxDelay || delay <= 0 {
		delay = rc.maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int64N(int64(half)))
}
