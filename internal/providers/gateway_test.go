package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/media"
	"arbiter/internal/services"
)

type fakeProvider struct {
	id string

	mu    sync.Mutex
	calls int
	judge func(call int, req Request) (Judgment, error)
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) Judge(ctx context.Context, req Request) (Judgment, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	if p.judge != nil {
		return p.judge(call, req)
	}
	return okJudgment(), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func okJudgment() Judgment {
	return Judgment{
		Scores:     map[string]float64{"technicality": 8},
		Rationales: map[string]string{"technicality": "solid"},
		Feedback:   "good",
		Confidence: 0.9,
	}
}

func testRequests(n int) []Request {
	reqs := make([]Request, 0, n)
	for i := 0; i < n; i++ {
		artifact := media.NewArtifact(media.KindFrame, i, 0, 0, "image/jpeg", []byte{byte(i)})
		reqs = append(reqs, Request{Artifact: artifact, SystemPrompt: "system", UserPrompt: "user"})
	}
	return reqs
}

func testGateway(providers ...*fakeProvider) *Gateway {
	g := NewGateway(nil)
	g.sleeper = func(context.Context, time.Duration) error { return nil }
	for _, p := range providers {
		g.Register(p, config.Provider{RequestsPerMinute: 100000, MaxInFlight: 8, RetryAttempts: 3})
	}
	return g
}

func TestAnalyzeAllReturnsResponsePerPair(t *testing.T) {
	a := &fakeProvider{id: "alpha"}
	b := &fakeProvider{id: "beta"}
	g := testGateway(a, b)

	responses, err := g.AnalyzeAll(context.Background(), testRequests(3), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(responses) != 6 {
		t.Fatalf("got %d responses, want 6", len(responses))
	}
	for _, resp := range responses {
		if resp.Err != nil {
			t.Errorf("response %s/%d failed: %v", resp.ProviderID, resp.ArtifactOrdinal, resp.Err)
		}
		if resp.Judgment == nil {
			t.Errorf("response %s/%d missing judgment", resp.ProviderID, resp.ArtifactOrdinal)
		}
	}
}

func TestAnalyzeAllUnregisteredProvider(t *testing.T) {
	g := testGateway(&fakeProvider{id: "alpha"})
	_, err := g.AnalyzeAll(context.Background(), testRequests(1), []string{"alpha", "ghost"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestTransientFailureRetriedPerArtifact(t *testing.T) {
	transient := services.Wrap(services.ErrNetwork, "analyzing", "alpha", "hiccup", nil)
	p := &fakeProvider{id: "alpha"}
	p.judge = func(call int, req Request) (Judgment, error) {
		if call == 1 {
			return Judgment{}, transient
		}
		return okJudgment(), nil
	}
	g := testGateway(p)

	responses, err := g.AnalyzeAll(context.Background(), testRequests(1), []string{"alpha"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if responses[0].Err != nil {
		t.Fatalf("expected retry to recover, got %v", responses[0].Err)
	}
	if p.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.callCount())
	}
}

func TestQuotaExhaustionDisqualifiesProvider(t *testing.T) {
	quota := services.Wrap(services.ErrQuotaExceeded, "analyzing", "alpha", "insufficient_quota", nil)
	p := &fakeProvider{id: "alpha"}
	p.judge = func(call int, req Request) (Judgment, error) {
		if call > 5 {
			return Judgment{}, quota
		}
		return okJudgment(), nil
	}
	g := testGateway(p)
	// Serialize so the disqualification ordering is deterministic.
	g.states["alpha"].inFlight = make(chan struct{}, 1)

	responses, err := g.AnalyzeAll(context.Background(), testRequests(10), []string{"alpha"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}

	var succeeded, quotaFailed int
	for _, resp := range responses {
		switch {
		case resp.Err == nil:
			succeeded++
		case errors.Is(resp.Err, services.ErrQuotaExceeded):
			quotaFailed++
		default:
			t.Errorf("unexpected error class: %v", resp.Err)
		}
	}
	if succeeded != 5 {
		t.Errorf("got %d successes, want 5", succeeded)
	}
	if quotaFailed != 5 {
		t.Errorf("got %d quota failures, want 5", quotaFailed)
	}
	// The sixth call hit quota; the remaining four must short-circuit without
	// touching the provider again.
	if p.callCount() != 6 {
		t.Errorf("provider called %d times, want 6", p.callCount())
	}
}

func TestAuthFailureNotRetried(t *testing.T) {
	auth := services.Wrap(services.ErrAuth, "analyzing", "alpha", "bad key", nil)
	p := &fakeProvider{id: "alpha"}
	p.judge = func(call int, req Request) (Judgment, error) {
		return Judgment{}, auth
	}
	g := testGateway(p)

	responses, err := g.AnalyzeAll(context.Background(), testRequests(1), []string{"alpha"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if !errors.Is(responses[0].Err, services.ErrAuth) {
		t.Fatalf("expected auth error, got %v", responses[0].Err)
	}
	if p.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.callCount())
	}
}

func TestOneProviderFailureLeavesOthersIntact(t *testing.T) {
	quota := services.Wrap(services.ErrQuotaExceeded, "analyzing", "alpha", "quota", nil)
	bad := &fakeProvider{id: "alpha"}
	bad.judge = func(call int, req Request) (Judgment, error) {
		return Judgment{}, quota
	}
	good := &fakeProvider{id: "beta"}
	g := testGateway(bad, good)

	responses, err := g.AnalyzeAll(context.Background(), testRequests(3), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	for _, resp := range responses {
		if resp.ProviderID == "beta" && resp.Err != nil {
			t.Errorf("healthy provider failed artifact %d: %v", resp.ArtifactOrdinal, resp.Err)
		}
		if resp.ProviderID == "alpha" && !errors.Is(resp.Err, services.ErrQuotaExceeded) {
			t.Errorf("expected quota failure for alpha artifact %d, got %v", resp.ArtifactOrdinal, resp.Err)
		}
	}
}

func TestQueueWaitExceededIsRateLimited(t *testing.T) {
	slow := &fakeProvider{id: "alpha"}
	release := make(chan struct{})
	slow.judge = func(call int, req Request) (Judgment, error) {
		<-release
		return okJudgment(), nil
	}
	g := NewGateway(nil)
	g.sleeper = func(context.Context, time.Duration) error { return nil }
	g.Register(slow, config.Provider{RequestsPerMinute: 100000, MaxInFlight: 1, MaxQueueWaitSeconds: 1, RetryAttempts: 1})
	// Tighten the wait so the test does not stall.
	g.states["alpha"].maxQueueWait = 20 * time.Millisecond

	// Unblock the in-flight call once the queued ones have timed out.
	timer := time.AfterFunc(100*time.Millisecond, func() { close(release) })
	defer timer.Stop()

	responses, err := g.AnalyzeAll(context.Background(), testRequests(3), []string{"alpha"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}

	var rateLimited int
	for _, resp := range responses {
		if errors.Is(resp.Err, services.ErrRateLimited) {
			rateLimited++
		}
	}
	if rateLimited == 0 {
		t.Error("expected at least one queue-wait rejection")
	}
}

func TestAnalyzeAllStopsNewCallsAfterCancellation(t *testing.T) {
	var cancelled atomic.Bool
	p := &fakeProvider{id: "alpha"}
	p.judge = func(call int, req Request) (Judgment, error) {
		cancelled.Store(true)
		return okJudgment(), nil
	}
	g := NewGateway(nil)
	// Single slot so every later call observes the flag set by the first.
	g.Register(p, config.Provider{RequestsPerMinute: 100000, MaxInFlight: 1, RetryAttempts: 1})

	ctx := services.WithCancellationCheck(context.Background(), func(context.Context) bool {
		return cancelled.Load()
	})
	responses, err := g.AnalyzeAll(ctx, testRequests(10), []string{"alpha"})
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if got := p.callCount(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	var stopped int
	for _, resp := range responses {
		if errors.Is(resp.Err, services.ErrCancelled) {
			stopped++
		}
	}
	if stopped != len(responses)-1 {
		t.Errorf("cancelled responses = %d, want %d", stopped, len(responses)-1)
	}
}
