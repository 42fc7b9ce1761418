package scrape

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Fetcher is the contract shared by both fetch paths.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) Result
}

// RobotsGate answers whether an origin may be fetched at all.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// OrchestratorConfig holds the per-run pipeline knobs.
type OrchestratorConfig struct {
	// Concurrency bounds simultaneously in-flight URLs.
	Concurrency int
	// MaxRetries is the number of light-path retries after the first attempt.
	MaxRetries int
	// RetryBaseDelay and RetryJitter shape the wait between attempts: the
	// base plus a uniformly random slice of the jitter.
	RetryBaseDelay time.Duration
	RetryJitter    time.Duration
	// RetryableKinds are the error categories worth retrying. Nil selects
	// DefaultRetryableKinds.
	RetryableKinds map[string]struct{}
	Escalation     EscalationConfig
}

// Orchestrator runs the per-URL pipeline: robots gate, light fetch with
// retries, escalation decision, budgeted browser fetch. It is the only
// component that calls the others.
type Orchestrator struct {
	cfg         OrchestratorConfig
	robots      RobotsGate
	light       Fetcher
	heavy       Fetcher
	logger      *zap.Logger
	sem         chan struct{}
	escalations atomic.Int64
}

// NewOrchestrator wires the pipeline. heavy may be nil, in which case
// escalation decisions are recorded but never acted on.
func NewOrchestrator(cfg OrchestratorConfig, robots RobotsGate, light, heavy Fetcher, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryableKinds == nil {
		cfg.RetryableKinds = DefaultRetryableKinds()
	}
	return &Orchestrator{
		cfg:    cfg,
		robots: robots,
		light:  light,
		heavy:  heavy,
		logger: logger,
		sem:    make(chan struct{}, cfg.Concurrency),
	}
}

// Run processes every URL concurrently under the admission gate and returns
// one final result per URL, in input order. One URL's failure never aborts
// its siblings.
func (o *Orchestrator) Run(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				rec := Result{URL: rawURL, Fetcher: FetcherLight, ErrorKind: ErrorKindCanceled}
				rec.Domain = HostOf(rawURL)
				results[i] = rec
				return
			}
			defer func() { <-o.sem }()
			results[i] = o.FetchOne(ctx, rawURL)
		}(i, rawURL)
	}
	wg.Wait()
	return results
}

// FetchOne executes the full pipeline for a single URL.
func (o *Orchestrator) FetchOne(ctx context.Context, rawURL string) Result {
	if !o.robots.Allowed(ctx, rawURL) {
		robotsBlocked.Inc()
		rec := RobotsBlocked(rawURL)
		rec.Domain = HostOf(rawURL)
		o.logger.Info("blocked by robots", zap.String("url", rawURL))
		return rec
	}

	rec := o.lightWithRetries(ctx, rawURL)
	rec.Domain = HostOf(rawURL)
	if rec.CaptchaSuspect {
		captchaSuspected.Inc()
	}

	if !ShouldEscalate(rec, o.cfg.Escalation) {
		return rec
	}
	if o.heavy == nil || !o.reserveEscalation() {
		escalationsSuppressed.Inc()
		o.logger.Debug("escalation suppressed",
			zap.String("url", rawURL),
			zap.Bool("heavy_available", o.heavy != nil),
		)
		return rec
	}

	heavyFetches.Inc()
	heavyRec := o.heavy.Fetch(ctx, rawURL)
	heavyRec.Domain = HostOf(rawURL)
	if heavyRec.CaptchaSuspect {
		captchaSuspected.Inc()
	}
	return heavyRec
}

func (o *Orchestrator) lightWithRetries(ctx context.Context, rawURL string) Result {
	var rec Result
	for attempt := 0; ; attempt++ {
		lightFetches.Inc()
		rec = o.light.Fetch(ctx, rawURL)
		rec.RetryCount = attempt
		if rec.ErrorKind == "" || attempt >= o.cfg.MaxRetries || ctx.Err() != nil {
			return rec
		}
		if _, ok := o.cfg.RetryableKinds[rec.ErrorKind]; !ok {
			return rec
		}
		retries.Inc()
		if !o.pause(ctx, o.backoffDelay()) {
			return rec
		}
	}
}

// reserveEscalation claims one slot of the heavy-path budget before the fetch
// is attempted, so the cap holds under concurrent decisions.
func (o *Orchestrator) reserveEscalation() bool {
	limit := int64(o.cfg.Escalation.MaxEscalations)
	for {
		current := o.escalations.Load()
		if current >= limit {
			return false
		}
		if o.escalations.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// EscalationsUsed reports how many heavy-path slots have been reserved.
func (o *Orchestrator) EscalationsUsed() int64 {
	return o.escalations.Load()
}

func (o *Orchestrator) backoffDelay() time.Duration {
	return o.cfg.RetryBaseDelay + randomJitter(o.cfg.RetryJitter)
}

func (o *Orchestrator) pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
