/*
Package chat contains the core logic of the chat server.

This file holds the idle detector, the only producer of the INACTIVE
presence transition.
*/
package chat

import (
	"context"
	"time"

	"tildechat/internal/pkg/wire"
)

const (
	// idleThreshold is the quiescence window after which an ACTIVE user is
	// demoted to INACTIVE.
	idleThreshold = 15 * time.Second

	// idleSweepPeriod is how often the detector scans the roster.
	idleSweepPeriod = 3 * time.Second
)

// RunIdleDetector periodically demotes quiescent ACTIVE users until ctx is
// cancelled. Run it on its own goroutine.
func (e *Engine) RunIdleDetector(ctx context.Context) {
	ticker := time.NewTicker(idleSweepPeriod)
	defer ticker.Stop()

	e.logger.Info().Dur("threshold", idleThreshold).Msg("Idle detector started.")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Idle detector stopped.")
			return
		case <-ticker.C:
			e.sweepIdle(time.Now())
		}
	}
}

// sweepIdle demotes every ACTIVE user whose last action is at least the idle
// threshold ago and broadcasts each transition. BUSY users are never demoted.
// Returns the number of demotions.
func (e *Engine) sweepIdle(now time.Time) int {
	e.roster.lock()
	defer e.roster.unlock()

	demoted := 0
	for _, s := range e.roster.inOrder() {
		if s.status == wire.StatusActive && now.Sub(s.lastAction) >= idleThreshold {
			s.status = wire.StatusInactive
			demoted++

			e.logger.Info().Str("user", s.name).Msg("Marking user INACTIVE.")
			e.broadcastLocked(wire.EncodeChangedStatus(s.name, wire.StatusInactive), nil)
		}
	}

	e.logger.Debug().
		Int("checked", len(e.roster.inOrder())).
		Int("demoted", demoted).
		Msg("Idle sweep complete.")

	return demoted
}
