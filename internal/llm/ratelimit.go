package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// TokenEstimator estimates token counts for rate limiting
type TokenEstimator struct{}

// NewTokenEstimator creates a new token estimator
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateTokens estimates the number of tokens in a string:
// ~4 characters per token plus a 20% buffer
func (e *TokenEstimator) EstimateTokens(text string) int {
	return int(float64(len(text)/4) * 1.2)
}

// EstimateMessages estimates tokens for a slice of messages
func (e *TokenEstimator) EstimateMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		// ~4 tokens of framing per message
		total += 4
		total += e.EstimateTokens(msg.Content)
	}
	return total
}

// WaitInfo describes a pause before the next request
type WaitInfo struct {
	Duration    time.Duration
	Reason      string // e.g. "token bucket cooldown" or "API returned status 429"
	Attempt     int    // 1-based retry number, 0 if not a retry
	MaxAttempts int
}

// WaitCallback is called instead of sleeping when the client must wait.
// It should block for info.Duration or until ctx is cancelled.
type WaitCallback func(ctx context.Context, info WaitInfo) error

// sleep waits for info.Duration, via cb when set.
func sleep(ctx context.Context, cb WaitCallback, info WaitInfo) error {
	if cb != nil {
		return cb(ctx, info)
	}
	timer := time.NewTimer(info.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	onWait  WaitCallback
}

// NewTokenBucket creates a limiter refilling tokensPerMinute tokens per minute,
// with a burst of ten seconds' worth (at least 1000).
func NewTokenBucket(tokensPerMinute int) *TokenBucket {
	tokensPerSecond := float64(tokensPerMinute) / 60.0
	burstSize := tokensPerMinute / 6
	if burstSize < 1000 {
		burstSize = 1000
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), burstSize),
	}
}

// SetWaitCallback sets a callback to be invoked when waiting for tokens
func (tb *TokenBucket) SetWaitCallback(cb WaitCallback) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.onWait = cb
}

// Wait blocks until the specified number of tokens are available.
// Requests larger than the burst are clamped to it.
func (tb *TokenBucket) Wait(ctx context.Context, tokens int) error {
	tb.mu.Lock()
	onWait := tb.onWait
	tb.mu.Unlock()

	if burst := tb.limiter.Burst(); tokens > burst {
		tokens = burst
	}
	reservation := tb.limiter.ReserveN(time.Now(), tokens)
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	logging.Debug("rate limit: waiting for tokens", logging.Duration(delay), logging.Tokens(tokens))
	if err := sleep(ctx, onWait, WaitInfo{Duration: delay, Reason: "token bucket cooldown"}); err != nil {
		reservation.Cancel()
		return err
	}
	return nil
}

// RateLimitedClient delays requests so that the estimated token usage
// stays under a per-minute budget.
type RateLimitedClient struct {
	inner       LLMClient
	tokenBucket *TokenBucket
	estimator   *TokenEstimator
}

// NewRateLimitedClient wraps inner with a token bucket
func NewRateLimitedClient(inner LLMClient, tokensPerMinute int) *RateLimitedClient {
	return &RateLimitedClient{
		inner:       inner,
		tokenBucket: NewTokenBucket(tokensPerMinute),
		estimator:   NewTokenEstimator(),
	}
}

// SetWaitCallback sets a callback to be invoked when waiting for tokens.
func (c *RateLimitedClient) SetWaitCallback(cb WaitCallback) {
	c.tokenBucket.SetWaitCallback(cb)
}

func (c *RateLimitedClient) estimate(messages []Message, systemPrompt string) int {
	return c.estimator.EstimateMessages(messages) + c.estimator.EstimateTokens(systemPrompt)
}

// Chat waits for budget, then delegates
func (c *RateLimitedClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (*Response, error) {
	if err := c.tokenBucket.Wait(ctx, c.estimate(messages, systemPrompt)); err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return c.inner.Chat(ctx, messages, systemPrompt)
}

// ChatStream waits for budget, then delegates
func (c *RateLimitedClient) ChatStream(ctx context.Context, messages []Message, systemPrompt string) <-chan StreamChunk {
	if err := c.tokenBucket.Wait(ctx, c.estimate(messages, systemPrompt)); err != nil {
		return ErrorStream(classifyTransportError(ctx, err))
	}
	return c.inner.ChatStream(ctx, messages, systemPrompt)
}

// SetModel delegates to the inner client.
func (c *RateLimitedClient) SetModel(model string) { c.inner.SetModel(model) }

// GetModel delegates to the inner client.
func (c *RateLimitedClient) GetModel() string { return c.inner.GetModel() }
