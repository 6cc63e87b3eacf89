// Package oracle wraps the external pattern-discovery oracle (an LLM) behind
// a gateway that validates every response and retries on an explicit state
// machine. Validation retries and throttle retries run on independent
// budgets: a rate-limited call never spends a validation attempt and a
// malformed response never spends a backoff slot.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Caller is the external text-generation collaborator. Implementations
// classify failures with the package sentinels: ErrRateLimited, ErrTimeout,
// ErrRefused. Any other error is treated as the oracle being unavailable.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, prompt string) (string, error)

func (f CallerFunc) Call(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Config configures the gateway's retry budgets.
type Config struct {
	// MaxAttempts is the total number of validation attempts, first call
	// included. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`
	// Backoff is the throttle schedule, one delay per rate-limited call.
	// Its length is the throttle attempt budget.
	// Default: 30s, 60s, 120s, 240s, 480s.
	Backoff []time.Duration `yaml:"backoff"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second}
	}
}

// Gateway is the validated, retrying front to a Caller.
type Gateway struct {
	caller Caller
	cfg    Config
	logger *slog.Logger

	// sleep waits for a backoff delay; overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway around the given caller.
func NewGateway(caller Caller, cfg Config, logger *slog.Logger) *Gateway {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		caller: caller,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// outcome tags one step of the retry state machine.
type outcome int

const (
	stepOK outcome = iota
	stepRetryValidation
	stepRetryThrottle
	stepFail
)

// Invoke calls the oracle with the prompt, strips markdown fences, and hands
// the JSON body to decode, which must unmarshal into a fresh value and run
// structural and range checks. The same prompt is reused on every retry.
func (g *Gateway) Invoke(ctx context.Context, prompt string, decode func(data []byte) error) error {
	validationAttempts := 0
	throttleAttempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step, err := g.attempt(ctx, prompt, decode)
		switch step {
		case stepOK:
			return nil

		case stepRetryValidation:
			validationAttempts++
			if validationAttempts >= g.cfg.MaxAttempts {
				return &ValidationExhaustedError{Attempts: validationAttempts, Last: err}
			}
			g.logger.Warn("oracle response invalid, retrying",
				"attempt", validationAttempts,
				"max_attempts", g.cfg.MaxAttempts,
				"error", err)

		case stepRetryThrottle:
			delay := g.cfg.Backoff[throttleAttempts]
			throttleAttempts++
			g.logger.Warn("oracle throttled, backing off",
				"attempt", throttleAttempts,
				"budget", len(g.cfg.Backoff),
				"delay", delay)
			if serr := g.sleep(ctx, delay); serr != nil {
				return serr
			}
			if throttleAttempts >= len(g.cfg.Backoff) {
				return &ThrottleExhaustedError{Attempts: throttleAttempts}
			}

		case stepFail:
			return err
		}
	}
}

// attempt performs a single call and classifies its result.
func (g *Gateway) attempt(ctx context.Context, prompt string, decode func(data []byte) error) (outcome, error) {
	text, err := g.caller.Call(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			return stepRetryThrottle, err
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrRefused):
			return stepFail, &OracleUnavailableError{Cause: err}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return stepFail, err
		default:
			return stepFail, &OracleUnavailableError{Cause: err}
		}
	}

	data := []byte(StripFences(text))
	if !json.Valid(data) {
		return stepRetryValidation, fmt.Errorf("response is not valid JSON")
	}
	if err := decode(data); err != nil {
		return stepRetryValidation, err
	}
	return stepOK, nil
}

// StripFences removes a surrounding markdown code fence, which models wrap
// JSON responses in regardless of instructions.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
