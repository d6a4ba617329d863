package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// Background refresh. Each tracked symbol has its own loop whose timer is
// re-armed after every fetch, so refresh cadence follows actual fetch
// completion instead of a global tick. Failures back off exponentially with
// jitter to avoid thundering-herd retries across symbols.

// StartTracking begins periodic background refresh for a symbol. Idempotent.
func (m *Manager) StartTracking(symbol string) error {
	if _, ok := m.FeedConfig(symbol); !ok {
		return fmt.Errorf("%w: %s", sources.ErrNotConfigured, symbol)
	}

	st := m.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tracking {
		return nil
	}

	ctx, cancel := context.WithCancel(m.rootCtx)
	st.tracking = true
	st.cancelRefresh = cancel

	m.logger.Info("Started tracking", "symbol", symbol)
	go m.refreshLoop(ctx, symbol)
	return nil
}

// StopTracking cancels the refresh loop and any in-flight retry sleep for the
// symbol. Deterministic: after return no background work for the symbol
// remains scheduled.
func (m *Manager) StopTracking(symbol string) {
	st := m.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.tracking {
		return
	}
	st.cancelRefresh()
	st.cancelRefresh = nil
	st.tracking = false
	m.logger.Info("Stopped tracking", "symbol", symbol)
}

// IsTracking reports whether a background loop runs for the symbol.
func (m *Manager) IsTracking(symbol string) bool {
	st := m.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tracking
}

func (m *Manager) refreshLoop(ctx context.Context, symbol string) {
	st := m.state(symbol)

	for {
		_, err := m.GetPrice(ctx, symbol, true)

		cfg, ok := m.FeedConfig(symbol)
		if !ok {
			return
		}

		delay := cfg.RefreshInterval
		if err != nil {
			st.mu.Lock()
			st.failures++
			failures := st.failures
			st.mu.Unlock()

			delay = backoffWithJitter(cfg.RetryBackoff, failures, cfg.RefreshInterval)
			m.logger.Warn("Background refresh failed",
				"symbol", symbol, "failures", failures, "next_attempt", delay.String(), "error", err.Error())
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// backoffWithJitter doubles the base per consecutive failure, caps at the
// refresh interval, and adds up to 25% random jitter.
func backoffWithJitter(base time.Duration, failures int, maxDelay time.Duration) time.Duration {
	if failures > 6 {
		failures = 6
	}
	delay := base << uint(failures)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
