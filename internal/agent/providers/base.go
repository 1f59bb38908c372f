// Package providers implements the agent.Provider interface for the LLM
// backends relay can talk to: Anthropic, OpenAI and AWS Bedrock. Each
// implementation converts between the provider-agnostic chat types and the
// vendor SDK, streams tokens when asked to, and retries transient failures.
package providers

import (
	"context"
	"strings"
	"time"
)

// baseProvider holds shared retry configuration.
type baseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBaseProvider(name string, maxRetries int, retryDelay time.Duration) baseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseProvider{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry executes op with linear backoff while isRetryable returns true.
func (b *baseProvider) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// retryableMessage reports whether an error message looks like a transient
// failure: throttling, 5xx, timeouts, or connection trouble.
func retryableMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
