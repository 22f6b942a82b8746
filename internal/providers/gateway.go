package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"arbiter/internal/config"
	"arbiter/internal/logging"
	"arbiter/internal/services"
)

const (
	defaultRequestsPerMinute = 60
	defaultMaxInFlight       = 4
	defaultMaxQueueWait      = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBaseDelay    = time.Second
	defaultRetryMaxDelay     = 15 * time.Second
)

// providerState tracks one registered provider's throttle and health for the
// duration of a job.
type providerState struct {
	provider      Provider
	limiter       *rate.Limiter
	inFlight      chan struct{}
	maxQueueWait  time.Duration
	retryAttempts int

	mu       sync.Mutex
	fatalErr error
}

func (s *providerState) disqualify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
}

func (s *providerState) disqualified() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Gateway fans judgment requests out to the registered providers with
// per-provider rate limiting, bounded concurrency, and retry. Provider-fatal
// failures (auth, quota) disqualify that provider for the rest of the job;
// every other failure is confined to its single artifact response.
type Gateway struct {
	states  map[string]*providerState
	logger  *slog.Logger
	sleeper func(context.Context, time.Duration) error

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewGateway builds an empty gateway; register providers before use.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		states:         make(map[string]*providerState),
		logger:         logging.NewComponentLogger(logger, "providers"),
		sleeper:        sleepContext,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
	}
}

// Register adds a provider with its throttle configuration.
func (g *Gateway) Register(p Provider, cfg config.Provider) {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = defaultMaxInFlight
	}
	maxWait := time.Duration(cfg.MaxQueueWaitSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = defaultMaxQueueWait
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	g.states[p.ID()] = &providerState{
		provider:      p,
		limiter:       rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		inFlight:      make(chan struct{}, inFlight),
		maxQueueWait:  maxWait,
		retryAttempts: attempts,
	}
}

// ProviderIDs returns the registered provider identifiers in sorted order.
func (g *Gateway) ProviderIDs() []string {
	ids := make([]string, 0, len(g.states))
	for id := range g.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AnalyzeAll submits every request to every named provider and returns one
// response per (artifact, provider) pair, ordered by artifact ordinal then
// provider. Individual failures land in Response.Err; AnalyzeAll itself only
// fails when the context ends or no requested provider is registered.
func (g *Gateway) AnalyzeAll(ctx context.Context, requests []Request, providerIDs []string) ([]Response, error) {
	states := make([]*providerState, 0, len(providerIDs))
	for _, id := range providerIDs {
		state, ok := g.states[id]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "analyzing", "gateway",
				fmt.Sprintf("provider %q not registered", id), nil)
		}
		states = append(states, state)
	}
	if len(states) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "analyzing", "gateway", "no providers selected", nil)
	}

	responses := make([]Response, len(requests)*len(states))
	group, groupCtx := errgroup.WithContext(ctx)
	for ri, req := range requests {
		for si, state := range states {
			slot := ri*len(states) + si
			req, state := req, state
			group.Go(func() error {
				responses[slot] = g.judgeOne(groupCtx, state, req)
				return groupCtx.Err()
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, services.Wrap(services.ErrCancelled, "analyzing", "gateway", "analysis interrupted", err)
	}
	return responses, nil
}

func (g *Gateway) judgeOne(ctx context.Context, state *providerState, req Request) Response {
	resp := Response{
		ArtifactOrdinal: req.Artifact.Ordinal,
		ArtifactDigest:  req.Artifact.Digest,
		ProviderID:      state.provider.ID(),
	}
	if err := state.disqualified(); err != nil {
		resp.Err = err
		return resp
	}
	if services.CancellationRequested(ctx) {
		resp.Err = cancelledBeforeCall(state)
		return resp
	}
	if err := g.acquire(ctx, state); err != nil {
		resp.Err = err
		return resp
	}
	defer func() { <-state.inFlight }()

	// Calls queued behind the throttle re-check after acquiring: a cancel
	// that landed while they waited must keep them from starting.
	if services.CancellationRequested(ctx) {
		resp.Err = cancelledBeforeCall(state)
		return resp
	}

	judgment, err := g.judgeWithRetry(ctx, state, req)
	if err != nil {
		if services.IsProviderFatal(err) {
			state.disqualify(err)
			g.logger.WarnContext(ctx, "provider disqualified for remainder of job",
				logging.String(logging.FieldProvider, state.provider.ID()),
				logging.Error(err),
			)
		}
		resp.Err = err
		return resp
	}
	resp.Judgment = &judgment
	return resp
}

func cancelledBeforeCall(state *providerState) error {
	return services.Wrap(services.ErrCancelled, "analyzing", state.provider.ID(), "cancellation requested before call", nil)
}

// acquire claims an in-flight slot and a rate token, bounded by the
// provider's queue-wait ceiling.
func (g *Gateway) acquire(ctx context.Context, state *providerState) error {
	waitCtx, cancel := context.WithTimeout(ctx, state.maxQueueWait)
	defer cancel()

	select {
	case state.inFlight <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "analyzing", state.provider.ID(), "queue wait interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrRateLimited, "analyzing", state.provider.ID(), "queue wait exceeded", nil)
	}
	if err := state.limiter.Wait(waitCtx); err != nil {
		<-state.inFlight
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "analyzing", state.provider.ID(), "rate wait interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrRateLimited, "analyzing", state.provider.ID(), "rate wait exceeded", nil)
	}
	return nil
}

func (g *Gateway) judgeWithRetry(ctx context.Context, state *providerState, req Request) (Judgment, error) {
	var lastErr error
	for attempt := 1; attempt <= state.retryAttempts; attempt++ {
		if err := state.disqualified(); err != nil {
			return Judgment{}, err
		}
		judgment, err := state.provider.Judge(ctx, req)
		if err == nil {
			return judgment, nil
		}
		lastErr = err
		if !retryable(err) || attempt == state.retryAttempts {
			return Judgment{}, err
		}

		delay := g.backoffDelay(attempt)
		g.logger.WarnContext(ctx, "provider call failed; retrying",
			logging.String(logging.FieldProvider, state.provider.ID()),
			logging.Int("artifact", req.Artifact.Ordinal),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := g.sleeper(ctx, delay); err != nil {
			return Judgment{}, services.Wrap(services.ErrCancelled, "analyzing", state.provider.ID(), "retry interrupted", err)
		}
		if services.CancellationRequested(ctx) {
			return Judgment{}, cancelledBeforeCall(state)
		}
	}
	return Judgment{}, lastErr
}

// retryable extends the transient set with upstream rate-limit pushback,
// which resolves itself after backoff.
func retryable(err error) bool {
	return services.IsTransient(err) || (!services.IsProviderFatal(err) && services.ReasonCode(err) == "rate_limited")
}

func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := g.retryBaseDelay << (attempt - 1)
	if g.retryMaxDelay > 0 && delay > g.retryMaxDelay {
		delay = g.retryMaxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(delay/2)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
