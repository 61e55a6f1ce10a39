// Package failover drives one model call across a ranked model chain.
//
// Chain order is fixed: the controller never reorders models by observed
// health or latency. A Session keeps its position across the turns of one
// run, so once a model is given up on later turns start at the next one.
package failover

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/ranya-engine/internal/observability"
	"github.com/harun/ranya-engine/internal/tracing"
	"github.com/harun/ranya-engine/pkg/llm"
)

// Config configures retry and rate-limit behavior
type Config struct {
	Provider llm.Provider
	Logger   zerolog.Logger

	// TransientRetries is the number of same-model retries after a transient
	// error. Zero uses the default; a negative value disables retries.
	TransientRetries  int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// DisableJitter makes backoff delays exact
	DisableJitter bool

	// MaxRetryAfter caps a single provider-requested wait
	MaxRetryAfter time.Duration
	// RateLimitBudget is the total time one model may spend waiting on rate limits
	RateLimitBudget time.Duration
	// DefaultRetryAfter is used when a rate-limit error carries no delay
	DefaultRetryAfter time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns retry defaults
func DefaultConfig() Config {
	return Config{
		TransientRetries:  2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetryAfter:     30 * time.Second,
		RateLimitBudget:   60 * time.Second,
		DefaultRetryAfter: 2 * time.Second,
	}
}

// SwitchFunc observes a move from one chain entry to the next
type SwitchFunc func(from, to string, reason llm.ErrorClass)

// DiscardFunc is told that text already streamed by a failed call of model
// is void. The next attempt streams its reply from the start.
type DiscardFunc func(model string, err error)

// Controller creates failover sessions
type Controller struct {
	cfg    Config
	logger zerolog.Logger
}

// NewController creates a controller. Zero-valued retry fields take the
// values of DefaultConfig.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = def.DefaultRetryAfter
	}
	if cfg.RateLimitBudget <= 0 {
		cfg.RateLimitBudget = def.RateLimitBudget
	}
	switch {
	case cfg.TransientRetries == 0:
		cfg.TransientRetries = def.TransientRetries
	case cfg.TransientRetries < 0:
		cfg.TransientRetries = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "failover").Logger(),
	}
}

// NewSession starts a session over chain. onSwitch may be nil.
func (c *Controller) NewSession(chain []string, onSwitch SwitchFunc) (*Session, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	models := make([]string, len(chain))
	copy(models, chain)
	return &Session{c: c, chain: models, onSwitch: onSwitch}, nil
}

// Delay returns the backoff before transient retry number attempt (0-indexed)
func (c *Controller) Delay(attempt int) time.Duration {
	base := c.cfg.BaseDelay.Seconds()
	delay := math.Min(base*math.Pow(c.cfg.BackoffMultiplier, float64(attempt)), c.cfg.MaxDelay.Seconds())
	if !c.cfg.DisableJitter {
		// +/- 50%
		delay = delay * (0.5 + rand.Float64())
	}
	return time.Duration(delay * float64(time.Second))
}

// Session is the failover state of one run. Not safe for concurrent use;
// a run calls Attempt from its own goroutine only.
type Session struct {
	c         *Controller
	chain     []string
	idx       int
	failures  []ModelFailure
	onSwitch  SwitchFunc
	onDiscard DiscardFunc
}

// OnDiscard registers fn to hear about failed calls that had streamed text
func (s *Session) OnDiscard(fn DiscardFunc) {
	s.onDiscard = fn
}

// Current returns the model the next attempt will use, empty once exhausted
func (s *Session) Current() string {
	if s.idx >= len(s.chain) {
		return ""
	}
	return s.chain[s.idx]
}

// Exhausted reports whether every model has been given up on
func (s *Session) Exhausted() bool {
	return s.idx >= len(s.chain)
}

// Failures returns the failures recorded so far
func (s *Session) Failures() []ModelFailure {
	out := make([]ModelFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// Attempt runs request against the current model, retrying and advancing
// through the chain as the error class dictates.
//
// Returns *OverflowError on context overflow, *TerminalError when the chain
// is exhausted, or the context error when ctx ends during a call or backoff.
// The returned response's Model is the chain entry that served it.
func (s *Session) Attempt(ctx context.Context, request llm.Request, onDelta func(llm.Delta)) (*llm.Response, error) {
	for !s.Exhausted() {
		model := s.chain[s.idx]
		transient := 0
		var waited time.Duration
		attempts := 0

		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			attempts++
			request.Model = model
			resp, streamed, err := s.call(ctx, request, onDelta)
			if err == nil {
				resp.Model = model
				return resp, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if streamed && s.onDiscard != nil {
				s.onDiscard(model, err)
			}

			class := llm.Classify(err)
			logger := tracing.LoggerFromContext(ctx, s.c.logger).With().
				Str("model", model).
				Str("class", string(class)).
				Int("attempt", attempts).
				Logger()

			if class == llm.ClassContextOverflow {
				return nil, &OverflowError{Model: model, Err: err}
			}

			delay, retry := s.retryDelay(err, class, transient, waited)
			if retry {
				logger.Warn().Err(err).Dur("delay", delay).Msg("Retrying model call")
				observability.RecordProviderRetry(string(class))
				if class == llm.ClassTransient {
					transient++
				} else {
					waited += delay
				}
				if err := s.c.cfg.Sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}

			logger.Warn().Err(err).Msg("Giving up on model")
			s.failures = append(s.failures, ModelFailure{Model: model, Class: class, Attempts: attempts, Err: err})
			s.advance(class)
			break
		}
	}

	return nil, &TerminalError{Failures: s.Failures()}
}

// retryDelay decides whether the same model is tried again and after how long
func (s *Session) retryDelay(err error, class llm.ErrorClass, transient int, waited time.Duration) (time.Duration, bool) {
	switch class {
	case llm.ClassTransient:
		if transient < s.c.cfg.TransientRetries {
			return s.c.Delay(transient), true
		}
	case llm.ClassRateLimited:
		delay := s.c.cfg.DefaultRetryAfter
		var pe *llm.ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			delay = pe.RetryAfter
		}
		if delay > s.c.cfg.MaxRetryAfter {
			delay = s.c.cfg.MaxRetryAfter
		}
		if waited+delay <= s.c.cfg.RateLimitBudget {
			return delay, true
		}
	}
	return 0, false
}

func (s *Session) advance(reason llm.ErrorClass) {
	from := s.chain[s.idx]
	s.idx++
	if s.idx < len(s.chain) {
		to := s.chain[s.idx]
		observability.RecordModelSwitch(string(reason))
		s.c.logger.Info().Str("from", from).Str("to", to).Str("reason", string(reason)).Msg("Switching model")
		if s.onSwitch != nil {
			s.onSwitch(from, to, reason)
		}
	}
}

// call makes one model call. streamed reports whether any text reached
// onDelta before the call ended.
func (s *Session) call(ctx context.Context, request llm.Request, onDelta func(llm.Delta)) (resp *llm.Response, streamed bool, err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerFailover, "failover.attempt",
		attribute.String("model", request.Model),
	)
	defer span.End()

	forward := func(d llm.Delta) {
		if d.Type == llm.DeltaText && d.Text != "" {
			streamed = true
		}
		if onDelta != nil {
			onDelta(d)
		}
	}

	start := time.Now()
	resp, err = s.stream(ctx, request, forward)
	observability.RecordModelCall(request.Model, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(llm.Classify(err)))
		return nil, streamed, err
	}
	return resp, streamed, nil
}

func (s *Session) stream(ctx context.Context, request llm.Request, onDelta func(llm.Delta)) (*llm.Response, error) {
	deltas, err := s.c.cfg.Provider.StreamCompletion(ctx, request)
	if err != nil {
		return nil, err
	}
	return llm.Collect(ctx, deltas, onDelta)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
