// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package authority

import (
	"context"
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

// SweeperConfig defines the auto-expiry policy.
type SweeperConfig struct {
	Interval time.Duration
	// PausedMaxAge stops sessions that have been paused longer than this.
	// Zero disables auto-expiry.
	PausedMaxAge time.Duration
}

// Sweeper stops sessions abandoned in Paused.
type Sweeper struct {
	Auth  *Authority
	Conf  SweeperConfig
	Clock clock.Clock
}

// Run calls SweepOnce every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Conf.Interval <= 0 || s.Conf.PausedMaxAge <= 0 {
		return
	}
	c := s.Clock
	if c == nil {
		c = clock.Real{}
	}
	log.L().Info().
		Dur("interval", s.Conf.Interval).
		Dur("paused_max_age", s.Conf.PausedMaxAge).
		Msg("session sweeper started")

	for {
		if err := clock.Sleep(ctx, c, s.Conf.Interval); err != nil {
			return
		}
		s.SweepOnce(ctx)
	}
}

// SweepOnce performs one pass and returns the number of sessions stopped.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	if s.Conf.PausedMaxAge <= 0 {
		return 0
	}
	c := s.Clock
	if c == nil {
		c = clock.Real{}
	}
	now := c.Now()

	type candidate struct {
		id      string
		version int64
	}
	var stale []candidate
	err := s.Auth.store.ScanSessions(ctx, func(r *model.Session) error {
		if r.State == model.StatePaused && now.Sub(r.UpdatedAt) > s.Conf.PausedMaxAge {
			stale = append(stale, candidate{r.ID, r.Version})
		}
		return nil
	})
	if err != nil {
		log.L().Warn().Err(err).Msg("session sweep scan failed")
		return 0
	}

	stopped := 0
	for _, c := range stale {
		if _, err := s.Auth.Stop(ctx, "", c.id, c.version); err != nil {
			// A concurrent resume or stop wins; the next pass re-evaluates.
			log.L().Debug().Err(err).Str(log.FieldSessionID, c.id).Msg("auto-stop skipped")
			continue
		}
		stopped++
		metrics.IncSessionAutoStop()
		log.L().Info().Str(log.FieldSessionID, c.id).Msg("stopped session paused beyond max age")
	}
	return stopped
}
