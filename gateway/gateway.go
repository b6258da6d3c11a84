// Package gateway paces calls to a single rate limited external provider.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wrenb/earnwatch/shared"
)

// Config represents the configuration for a provider gateway.
type Config struct {
	// Name identifies the wrapped provider in logs.
	Name string
	// Spacing is the minimum interval between call departures.
	Spacing time.Duration
	// MaxWait bounds how long a caller may queue for a departure slot.
	MaxWait time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger represents the gateway logger.
	Logger *zerolog.Logger
}

// Gateway serializes and paces calls to one external provider so no more
// than one call departs within the configured spacing window. Callers are
// assigned departure slots strictly in submission order and block until
// their slot arrives. Each provider gets its own gateway, pacing is never
// shared across providers.
type Gateway struct {
	cfg *Config

	mtx  sync.Mutex
	next time.Time
}

// New initializes a new provider gateway.
func New(cfg *Config) (*Gateway, error) {
	if cfg.Spacing <= 0 {
		return nil, fmt.Errorf("gateway spacing must be positive, got %v", cfg.Spacing)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Gateway{
		cfg: cfg,
	}, nil
}

// reserve assigns the caller the next departure slot. Slot order is the
// order callers reach the reservation, which fixes FIFO across concurrent
// submitters before any waiting happens. A caller whose slot lies beyond the
// bounded wait is rejected before the slot is committed, so rejected callers
// never push out the departures of later ones.
func (g *Gateway) reserve() (time.Time, time.Duration, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	now := g.cfg.Now()
	at := g.next
	if at.Before(now) {
		at = now
	}

	delay := at.Sub(now)
	if g.cfg.MaxWait > 0 && delay > g.cfg.MaxWait {
		return time.Time{}, 0, fmt.Errorf("%w: %s gateway wait %v exceeds %v",
			shared.ErrProviderTimeout, g.cfg.Name, delay, g.cfg.MaxWait)
	}

	g.next = at.Add(g.cfg.Spacing)

	return at, delay, nil
}

// Wait blocks until the caller's departure slot arrives. It returns
// shared.ErrProviderTimeout when the bounded wait or the caller's context
// expires first. The gateway never retries on behalf of callers, provider
// errors belong to the caller's own call after Wait returns.
func (g *Gateway) Wait(ctx context.Context) error {
	_, delay, err := g.reserve()
	if err != nil {
		g.cfg.Logger.Error().Msgf("%s gateway: rejecting caller: %v", g.cfg.Name, err)
		return err
	}

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s gateway: %v", shared.ErrProviderTimeout, g.cfg.Name, ctx.Err())
	case <-timer.C:
		return nil
	}
}
