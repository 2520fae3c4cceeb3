// Package reconciler drives the resolve/apply pipeline. It is the single
// writer of applied state: event handlers enqueue triggers, one goroutine
// coalesces them and runs passes, and nothing else ever calls apply.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/ingress-operator/internal/applier"
	"github.com/wudi/ingress-operator/internal/metrics"
	"github.com/wudi/ingress-operator/internal/resolver"
)

// TriggerKind identifies what changed.
type TriggerKind string

const (
	TriggerRouteRequest TriggerKind = "route-request"
	TriggerCertificate  TriggerKind = "certificate"
	TriggerConfig       TriggerKind = "config"
	TriggerTick         TriggerKind = "tick"
)

// Trigger is one typed reconciliation request.
type Trigger struct {
	Kind   TriggerKind
	Reason string
}

// State is the loop's position in its state machine.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateApplying  State = "applying"
	StateRetrying  State = "retrying"
)

// StatusKind is the externally visible health of the engine.
type StatusKind string

const (
	StatusActive  StatusKind = "active"
	StatusWaiting StatusKind = "waiting"
	StatusBlocked StatusKind = "blocked"
)

// Status is a read-only snapshot for the status interface. The loop owns the
// underlying state; readers always get a copy.
type Status struct {
	Kind   StatusKind
	Reason string
	// Warnings lists clients excluded from the last successful resolution.
	Warnings []resolver.ClientWarning
	// Waiting lists clients with no backends yet.
	Waiting []string
	// Routes is the rule count of the last applied config.
	Routes int
	// LastPassID and LastPassTime identify the last completed pass.
	LastPassID   string
	LastPassTime time.Time
}

// SnapshotFunc assembles the current inputs for one pass. It is called at
// the start of every pass so no stale resolution is ever applied.
type SnapshotFunc func() resolver.Snapshot

// Options configures a Loop.
type Options struct {
	Snapshot SnapshotFunc
	Resolver *resolver.Resolver
	Applier  *applier.Applier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// Generation, when set, returns a counter that advances on every input
	// mutation. Periodic ticks skip resolution entirely while it is
	// unchanged since the last successful pass.
	Generation func() int64

	// Debounce coalesces trigger bursts (default 100ms).
	Debounce time.Duration
	// TickInterval is the periodic safety-net pass (default 5m).
	TickInterval time.Duration
	// MaxRetries bounds publish retries within one pass (default 5).
	MaxRetries int
	// InitialBackoff/MaxBackoff bound the retry backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Loop is the reconciliation loop.
type Loop struct {
	opts     Options
	triggers chan Trigger

	mu           sync.RWMutex
	state        State
	status       Status
	lastResolved *resolver.ResolvedConfig
	lastGen      int64
	hasPassed    bool
}

// New creates a Loop.
func New(opts Options) *Loop {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Minute
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loop{
		opts:     opts,
		triggers: make(chan Trigger, 64),
		state:    StateIdle,
		status:   Status{Kind: StatusWaiting, Reason: "no configuration applied yet"},
	}
}

// Enqueue registers a trigger without blocking. Handlers call this and
// nothing else: resolution and apply stay single-writer. A full queue is
// fine; a pass is already pending and re-reads all state.
func (l *Loop) Enqueue(t Trigger) {
	select {
	case l.triggers <- t:
	default:
	}
}

// State returns the loop state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Status returns a copy of the current status.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.status
	st.Warnings = append([]resolver.ClientWarning(nil), l.status.Warnings...)
	st.Waiting = append([]string(nil), l.status.Waiting...)
	return st
}

// LastResolved returns the most recently applied ResolvedConfig, or nil when
// nothing has been applied yet.
func (l *Loop) LastResolved() *resolver.ResolvedConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastResolved == nil {
		return nil
	}
	cfg := *l.lastResolved
	cfg.Rules = append([]resolver.Rule(nil), l.lastResolved.Rules...)
	return &cfg
}

// Run processes triggers until ctx is cancelled. It performs one initial
// pass so the proxy converges without waiting for the first event.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()

	l.runPass(ctx, Trigger{Kind: TriggerTick, Reason: "startup"})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case trig := <-l.triggers:
			trig = l.coalesce(ctx, trig)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.runPass(ctx, trig)

		case <-ticker.C:
			l.runPass(ctx, Trigger{Kind: TriggerTick, Reason: "periodic"})
		}
	}
}

// coalesce waits out the debounce window, draining any further triggers so a
// burst of relation churn becomes a single pass.
func (l *Loop) coalesce(ctx context.Context, first Trigger) Trigger {
	timer := time.NewTimer(l.opts.Debounce)
	defer timer.Stop()

	last := first
	drained := 0
	for {
		select {
		case t := <-l.triggers:
			last = t
			drained++
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(l.opts.Debounce)
		case <-timer.C:
			if drained > 0 {
				l.opts.Logger.Debug("Coalesced trigger burst",
					zap.Int("extra_triggers", drained),
					zap.String("last_kind", string(last.Kind)),
				)
			}
			return last
		case <-ctx.Done():
			return last
		}
	}
}

// runPass executes one full reconciliation: snapshot, resolve, apply.
func (l *Loop) runPass(ctx context.Context, trig Trigger) {
	passID := uuid.NewString()
	logger := l.opts.Logger.With(
		zap.String("pass_id", passID),
		zap.String("trigger", string(trig.Kind)),
	)
	started := time.Now()

	// Ticks are a safety net. When nothing mutated since the last
	// successful pass there is nothing to reconcile; blocked passes are
	// never skipped so a fixed environment recovers on the next tick.
	var gen int64
	if l.opts.Generation != nil {
		gen = l.opts.Generation()
		if trig.Kind == TriggerTick && l.unchangedSince(gen) {
			logger.Debug("Inputs unchanged since last pass, skipping")
			return
		}
	}

	l.setState(StateResolving)
	defer l.setState(StateIdle)

	snap := l.opts.Snapshot()
	cfg, err := l.opts.Resolver.Resolve(snap)
	if err != nil {
		// Conflicts and hostname mismatches need external correction:
		// surface Blocked, do not retry, and leave the applied config alone.
		logger.Error("Resolution failed", zap.Error(err))
		l.setStatus(Status{
			Kind:         StatusBlocked,
			Reason:       err.Error(),
			LastPassID:   passID,
			LastPassTime: started,
		})
		l.observeOutcome(metrics.OutcomeBlocked, started, true)
		return
	}

	// A trigger that arrived after the snapshot means the resolution may
	// already be stale. Abandon it before apply begins; the pending trigger
	// restarts the pass with fresh state.
	if len(l.triggers) > 0 {
		logger.Debug("Pass superseded before apply, restarting with fresh state")
		return
	}

	l.setState(StateApplying)
	result := l.applyWithRetry(ctx, cfg, logger)
	if result.Err != nil {
		l.setStatus(Status{
			Kind:         StatusBlocked,
			Reason:       fmt.Sprintf("publish retries exhausted: %v", result.Err),
			Warnings:     cfg.Warnings,
			Waiting:      cfg.Waiting,
			LastPassID:   passID,
			LastPassTime: started,
		})
		l.observeOutcome(metrics.OutcomeFailed, started, true)
		return
	}

	status := Status{
		Kind:         StatusActive,
		Warnings:     cfg.Warnings,
		Waiting:      cfg.Waiting,
		Routes:       len(cfg.Rules),
		LastPassID:   passID,
		LastPassTime: started,
	}
	if len(cfg.Rules) == 0 {
		status.Kind = StatusWaiting
		status.Reason = "no routable clients"
	}
	l.mu.Lock()
	l.status = status
	l.lastResolved = cfg
	l.lastGen = gen
	l.hasPassed = true
	l.mu.Unlock()

	outcome := metrics.OutcomeUnchanged
	if result.Published {
		outcome = metrics.OutcomeApplied
	}
	l.observeOutcome(outcome, started, false)
	if l.opts.Metrics != nil {
		l.opts.Metrics.Routes.Set(float64(len(cfg.Rules)))
	}

	logger.Info("Reconciliation pass complete",
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("published", result.Published),
		zap.Int("warnings", len(cfg.Warnings)),
		zap.Duration("took", time.Since(started)),
	)
}

// applyWithRetry pushes cfg with bounded exponential backoff. Only transient
// publish failures are retried; render errors fail immediately.
func (l *Loop) applyWithRetry(ctx context.Context, cfg *resolver.ResolvedConfig, logger *zap.Logger) applier.ApplyResult {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.InitialBackoff
	bo.MaxInterval = l.opts.MaxBackoff
	bo.MaxElapsedTime = 0

	var result applier.ApplyResult
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			l.setState(StateRetrying)
			if l.opts.Metrics != nil {
				l.opts.Metrics.ReconcilesTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
			}
			wait := bo.NextBackOff()
			logger.Warn("Publish failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(result.Err),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			}
			l.setState(StateApplying)
		}

		result = l.opts.Applier.Apply(ctx, cfg)
		if result.Err == nil {
			if result.Published && l.opts.Metrics != nil {
				l.opts.Metrics.PublishesTotal.Inc()
			}
			return result
		}

		if l.opts.Metrics != nil {
			l.opts.Metrics.PublishFailures.Inc()
		}
		var transient *applier.TransientApplyError
		if !errors.As(result.Err, &transient) {
			// Render failures are not transient; retrying cannot help.
			return result
		}
	}
	return result
}

func (l *Loop) unchangedSince(gen int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasPassed && l.status.Kind != StatusBlocked && gen == l.lastGen
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) setStatus(st Status) {
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

func (l *Loop) observeOutcome(outcome string, started time.Time, blocked bool) {
	if l.opts.Metrics == nil {
		return
	}
	l.opts.Metrics.ReconcilesTotal.WithLabelValues(outcome).Inc()
	l.opts.Metrics.ApplyDuration.Observe(time.Since(started).Seconds())
	if blocked {
		l.opts.Metrics.Blocked.Set(1)
	} else {
		l.opts.Metrics.Blocked.Set(0)
	}
}
