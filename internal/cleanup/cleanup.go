// Package cleanup runs background maintenance: expiring tokens,
// reaping idle sessions and resetting rate-limiter state.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/store"
)

// SessionReaper closes sessions idle past their deadline. Satisfied by
// mcp.SessionManager.
type SessionReaper interface {
	ReapIdle(now time.Time) int
}

// LimiterResetter drops accumulated per-token limiter state. Satisfied
// by auth.RateLimiter.
type LimiterResetter interface {
	Reset()
}

// Cleaner performs periodic maintenance sweeps. The interval sweep
// deactivates expired tokens and reaps idle sessions; the cron-scheduled
// deep sweep additionally resets rate-limiter state so tokens revoked
// since the last sweep do not keep a limiter entry alive.
type Cleaner struct {
	store    store.Store
	sessions SessionReaper
	limiter  LimiterResetter
	interval time.Duration
	deepSpec string
	nextDeep time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	Interval time.Duration // How often the interval sweep runs
	DeepCron string        // 5-field cron expression for the deep sweep
}

// DefaultConfig returns sensible defaults: a sweep every five minutes
// and a deep sweep nightly at 03:17.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		DeepCron: "17 3 * * *",
	}
}

// New creates a Cleaner. The limiter may be nil when the HTTP
// transport is disabled.
func New(st store.Store, sessions SessionReaper, limiter LimiterResetter, cfg Config) (*Cleaner, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.DeepCron == "" {
		cfg.DeepCron = DefaultConfig().DeepCron
	}
	if err := ValidateCron(cfg.DeepCron); err != nil {
		return nil, err
	}
	return &Cleaner{
		store:    st,
		sessions: sessions,
		limiter:  limiter,
		interval: cfg.Interval,
		deepSpec: cfg.DeepCron,
	}, nil
}

// Start begins the periodic sweep loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.nextDeep, _ = NextRun(c.deepSpec, time.Now())
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		// Run immediately on start
		c.sweep(ctx, time.Now())

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.sweep(ctx, now)
			}
		}
	}()

	logger.Info("Cleanup started (interval=%v, deep sweep %q)", c.interval, c.deepSpec)
}

// Stop halts the sweep loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Info("Cleanup stopped")
	}
}

// sweep runs one maintenance pass and, when the cron schedule has come
// due, the deep sweep on top of it.
func (c *Cleaner) sweep(ctx context.Context, now time.Time) {
	c.sweepTokens(ctx, now)
	c.reapSessions(now)

	if !c.nextDeep.IsZero() && now.After(c.nextDeep) {
		c.deepSweep()
		c.nextDeep, _ = NextRun(c.deepSpec, now)
	}
}

func (c *Cleaner) sweepTokens(ctx context.Context, now time.Time) {
	n, err := c.store.DeactivateExpiredTokens(ctx, now)
	if err != nil {
		logger.Error("cleanup: expiring tokens: %v", err)
		return
	}
	if n > 0 {
		logger.Info("Cleanup deactivated %d expired tokens", n)
	}
}

func (c *Cleaner) reapSessions(now time.Time) {
	if c.sessions == nil {
		return
	}
	if n := c.sessions.ReapIdle(now); n > 0 {
		logger.Info("Cleanup reaped %d idle sessions", n)
	}
}

func (c *Cleaner) deepSweep() {
	if c.limiter != nil {
		c.limiter.Reset()
	}
	logger.Info("Cleanup deep sweep complete")
}
