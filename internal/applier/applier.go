// Package applier pushes rendered proxy configuration to the data plane.
// Applies are idempotent: a config whose content hash matches the last
// successful push is skipped. Retry policy lives in the reconcile loop, not
// here.
package applier

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/wudi/ingress-operator/internal/resolver"
	"github.com/wudi/ingress-operator/internal/traefik"
)

// Publisher delivers serialized config to wherever the running proxy reads
// it from.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// TransientApplyError wraps a publish failure. The caller decides whether to
// retry.
type TransientApplyError struct {
	Err error
}

func (e *TransientApplyError) Error() string {
	return fmt.Sprintf("publish proxy config: %v", e.Err)
}

func (e *TransientApplyError) Unwrap() error {
	return e.Err
}

// ApplyResult records the outcome of one apply call.
type ApplyResult struct {
	// Hash is the xxhash of the serialized config.
	Hash uint64
	// Published reports whether a publish call was made (false when the
	// config was unchanged).
	Published bool
	// Err is the publish failure, if any.
	Err error
}

// Applier renders and publishes resolved configs.
type Applier struct {
	publisher Publisher
	logger    *zap.Logger

	lastAppliedHash atomic.Uint64
	hasApplied      atomic.Bool
}

// New creates an Applier.
func New(publisher Publisher, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{publisher: publisher, logger: logger}
}

// Apply renders cfg and publishes it unless the content hash matches the
// last successful apply.
func (a *Applier) Apply(ctx context.Context, cfg *resolver.ResolvedConfig) ApplyResult {
	data, err := traefik.Render(cfg)
	if err != nil {
		return ApplyResult{Err: err}
	}

	hash := xxhash.Sum64(data)
	if a.hasApplied.Load() && hash == a.lastAppliedHash.Load() {
		a.logger.Debug("Config unchanged, skipping publish",
			zap.Uint64("hash", hash),
		)
		return ApplyResult{Hash: hash}
	}

	if err := a.publisher.Publish(ctx, data); err != nil {
		return ApplyResult{Hash: hash, Err: &TransientApplyError{Err: err}}
	}

	a.lastAppliedHash.Store(hash)
	a.hasApplied.Store(true)
	a.logger.Info("Published proxy config",
		zap.Uint64("hash", hash),
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("tls", cfg.TLS != nil),
	)
	return ApplyResult{Hash: hash, Published: true}
}

// LastAppliedHash returns the hash of the last successfully published config
// and whether any config has been published yet.
func (a *Applier) LastAppliedHash() (uint64, bool) {
	return a.lastAppliedHash.Load(), a.hasApplied.Load()
}
