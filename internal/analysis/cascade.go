package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Config bounds the work done against each adapter.
type Config struct {
	// MaxAttempts is the total number of calls made to one adapter while
	// its failures stay transient. Values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout bounds a single Invoke. Zero disables it.
	CallTimeout time.Duration
}

// DefaultConfig is used by main when flags leave fields unset.
var DefaultConfig = Config{
	MaxAttempts: 2,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	CallTimeout: 60 * time.Second,
}

// Hooks receives cascade events. Nil fields are skipped.
type Hooks struct {
	OnAttempt  func(provider, outcome string, duration float64)
	OnRetry    func(provider string)
	OnAbandon  func(provider, reason string)
	OnResult   func(provider string)
	OnFallback func()
}

// Cascade walks adapters in order until one produces a parseable analysis.
type Cascade struct {
	adapters []Adapter
	cfg      Config
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// New creates a Cascade. The order of adapters is the order of preference.
func New(adapters []Adapter, cfg Config, logger log.Logger, hooks Hooks) *Cascade {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Cascade{
		adapters: adapters,
		cfg:      cfg,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Providers returns adapter names in cascade order.
func (c *Cascade) Providers() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name()
	}
	return names
}

// Analyze returns the first normalized result any adapter produces, or the
// fixed fallback. It never fails.
func (c *Cascade) Analyze(ctx context.Context, t *ticket.Ticket) Result {
	L := c.logger.With("ticket_id", t.ID)

	system, prompt := Prompt(t, c.now())

	for _, a := range c.adapters {
		if ctx.Err() != nil {
			break
		}
		res, err := c.try(ctx, L, a, prompt, system)
		if err == nil {
			if c.hooks.OnResult != nil {
				c.hooks.OnResult(a.Name())
			}
			L.Info(ctx, "analysis produced", "provider", a.Name(), "priority", res.Priority)
			return res
		}

		reason := abandonReason(err)
		if c.hooks.OnAbandon != nil {
			c.hooks.OnAbandon(a.Name(), reason)
		}
		L.Warn(ctx, "provider abandoned", "provider", a.Name(), "reason", reason, "err", err.Error())
	}

	if c.hooks.OnFallback != nil {
		c.hooks.OnFallback()
	}
	L.Warn(ctx, "using fallback analysis", "providers", len(c.adapters))
	return Fallback(t.Title)
}

// try runs one adapter to completion. Transient failures are retried with
// exponential backoff up to MaxAttempts calls; anything else stops at once.
func (c *Cascade) try(ctx context.Context, L log.Logger, a Adapter, prompt, system string) (Result, error) {
	name := a.Name()
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	raw, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		start := time.Now()
		out, err := c.invoke(ctx, a, prompt, system)
		if c.hooks.OnAttempt != nil {
			c.hooks.OnAttempt(name, attemptOutcome(ctx, err), time.Since(start).Seconds())
		}
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.hooks.OnRetry != nil {
				c.hooks.OnRetry(name)
			}
			L.Warn(ctx, "provider call failed, retrying",
				"provider", name,
				"attempt", attempts,
				"max_attempts", c.cfg.MaxAttempts,
				"retry_in", next.String(),
				"err", err.Error(),
			)
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return Result{}, &AdapterError{Provider: name, Attempts: attempts, Err: err}
	}

	doc, err := Extract(raw)
	if err != nil {
		return Result{}, &AdapterError{
			Provider: name,
			Attempts: attempts,
			Err:      &MalformedOutputError{Provider: name, Raw: raw, Err: err},
		}
	}
	return Normalize(doc, name), nil
}

func (c *Cascade) invoke(ctx context.Context, a Adapter, prompt, system string) (string, error) {
	if c.cfg.CallTimeout <= 0 {
		return a.Invoke(ctx, prompt, system)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return a.Invoke(callCtx, prompt, system)
}

func attemptOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsTransient(err):
		return "rate_limited"
	default:
		return "error"
	}
}

func abandonReason(err error) string {
	var mal *MalformedOutputError
	switch {
	case errors.As(err, &mal):
		return "malformed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case IsTransient(err):
		return "exhausted"
	default:
		return "error"
	}
}
