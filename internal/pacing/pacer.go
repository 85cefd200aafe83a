// File: internal/pacing/pacer.go

// Package pacing enforces a minimum spacing between browser actions of the
// same category. Each category gets its own limiter, so a burst of searches
// never delays an unrelated message send.
package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacer gates actions by category. The first action in a category passes
// immediately; each subsequent one waits out the remainder of the
// configured interval.
type Pacer struct {
	limiters map[schemas.ActionCategory]*rate.Limiter
	log      *zap.Logger
}

// New builds a pacer from the configured intervals.
func New(cfg config.PacingConfig, logger *zap.Logger) *Pacer {
	return &Pacer{
		limiters: map[schemas.ActionCategory]*rate.Limiter{
			schemas.CategorySearch:  rate.NewLimiter(rate.Every(cfg.SearchInterval), 1),
			schemas.CategoryPublish: rate.NewLimiter(rate.Every(cfg.PublishInterval), 1),
			schemas.CategoryMessage: rate.NewLimiter(rate.Every(cfg.MessageInterval), 1),
		},
		log: logger.Named("pacing"),
	}
}

// Gate blocks until the category's interval allows another action, or
// until ctx is done. Waiters within one category are served in Wait order.
func (p *Pacer) Gate(ctx context.Context, cat schemas.ActionCategory) error {
	limiter, ok := p.limiters[cat]
	if !ok {
		return fmt.Errorf("unknown action category %q", cat)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		// rate.Limiter reports context cancellation as its own error text;
		// callers want the ctx error.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		p.log.Debug("Paced action",
			zap.String("category", string(cat)),
			zap.Duration("waited", waited))
	}
	return nil
}
