// Package retry implements the bounded, linear-backoff fetch engine. Every
// attempt runs in its own session which is released before the next one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/metrics"
)

// Config tunes the retry loop.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	DelayFirstAttempt bool
	// AttemptTimeout bounds a single attempt. Zero leaves attempts bounded
	// only by the caller's context.
	AttemptTimeout time.Duration
}

// Validate checks the retry settings.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("retry max_retries must be >= 1")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay must be >= 0")
	}
	if c.AttemptTimeout < 0 {
		return fmt.Errorf("retry attempt_timeout must be >= 0")
	}
	return nil
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLimiter makes every attempt wait on limiter before opening a session.
func WithLimiter(limiter harvest.Limiter) Option {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

// WithPauser replaces the timer used between attempts.
func WithPauser(p Pauser) Option {
	return func(e *Engine) {
		if p != nil {
			e.pauser = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine implements harvest.Fetcher.
type Engine struct {
	opener  harvest.SessionOpener
	limiter harvest.Limiter
	pauser  Pauser
	logger  *zap.Logger
	cfg     Config
}

var _ harvest.Fetcher = (*Engine)(nil)

// New builds an Engine around opener.
func New(opener harvest.SessionOpener, cfg Config, opts ...Option) (*Engine, error) {
	if opener == nil {
		return nil, errors.New("retry: session opener is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		opener: opener,
		pauser: timerPauser{},
		logger: zap.NewNop(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Fetch extracts rule from url, retrying transient failures up to
// MaxRetries attempts in total.
func (e *Engine) Fetch(ctx context.Context, url string, rule harvest.Rule) (harvest.FetchResult, error) {
	result := harvest.FetchResult{URL: url}
	var last error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		delay := Delay(e.cfg.BaseDelay, attempt, e.cfg.DelayFirstAttempt)
		if err := e.pauser.Pause(ctx, delay); err != nil {
			return result, harvest.Permanent(url, rule, err)
		}

		start := time.Now()
		page, err := e.attempt(ctx, url, rule)
		err = Classify(ctx, url, rule, err)
		result.Attempts = append(result.Attempts, harvest.FetchAttempt{
			Index:    attempt,
			Delay:    delay,
			Duration: time.Since(start),
			Err:      err,
		})
		metrics.ObserveFetchAttempt(outcome(err))

		if err == nil {
			result.Title = page.Title
			result.Fragment = page.Fragment
			if page.URL != "" {
				result.URL = page.URL
			}
			e.logger.Debug("fragment extracted",
				zap.String("url", url),
				zap.String("rule", rule.String()),
				zap.String("title", page.Title),
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(page.Fragment)),
			)
			return result, nil
		}

		last = err
		if harvest.KindOf(err) == harvest.KindPermanent {
			e.logger.Warn("fetch failed permanently",
				zap.String("url", url),
				zap.String("rule", rule.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return result, err
		}
		e.logger.Info("fetch attempt failed, will retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.cfg.MaxRetries),
			zap.Duration("next_delay", Delay(e.cfg.BaseDelay, attempt+1, e.cfg.DelayFirstAttempt)),
			zap.Error(err),
		)
	}
	return result, &harvest.ExhaustedError{URL: url, Attempts: len(result.Attempts), Last: last}
}

func (e *Engine) attempt(ctx context.Context, url string, rule harvest.Rule) (harvest.Page, error) {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, url); err != nil {
			return harvest.Page{}, err
		}
	}
	session, err := e.opener.Open(ctx)
	if err != nil {
		return harvest.Page{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Debug("close session", zap.String("url", url), zap.Error(cerr))
		}
	}()
	return session.Extract(ctx, url, rule)
}
