package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// Scheduler runs the daily anchoring pass and the pending-submission retry
// loop. The retry interval backs off exponentially while submissions keep
// failing and resets after a successful pass.
type Scheduler struct {
	service       *Service
	orgs          []string
	checkInterval time.Duration
	retryBase     time.Duration
	retryMax      time.Duration
	log           *slog.Logger
}

// NewScheduler builds a scheduler anchoring the listed orgs.
func NewScheduler(service *Service, orgs []string) *Scheduler {
	return &Scheduler{
		service:       service,
		orgs:          orgs,
		checkInterval: time.Hour,
		retryBase:     time.Minute,
		retryMax:      time.Hour,
		log:           slog.Default().With("component", "anchor-scheduler"),
	}
}

// Run blocks until ctx is cancelled. Each tick anchors the previous UTC
// day for every org that has unanchored events, then retries pending chain
// submissions with backoff.
func (s *Scheduler) Run(ctx context.Context) {
	retryDelay := s.retryBase
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		s.anchorDailyWindows(ctx)

		confirmed, err := s.service.RetryPending(ctx)
		if err != nil || confirmed == 0 {
			retryDelay = min(retryDelay*2, s.retryMax)
		} else {
			retryDelay = s.retryBase
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		case <-ticker.C:
		}
	}
}

// anchorDailyWindows seals every unanchored day from the day after the
// org's latest anchor through the previous UTC day, oldest first, so a day
// the scheduler missed is still sealed before later ones. Catch-up is
// capped at 30 days per pass.
func (s *Scheduler) anchorDailyWindows(ctx context.Context) {
	yesterday := s.service.clock.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	for _, org := range s.orgs {
		start := yesterday
		if latest, err := s.service.store.LatestAnchor(ctx, org); err == nil {
			if t, perr := time.Parse("2006-01-02", latest.Date); perr == nil {
				start = t.AddDate(0, 0, 1)
			}
		}
		if floor := yesterday.AddDate(0, 0, -30); start.Before(floor) {
			start = floor
		}

		for day := start; !day.After(yesterday); day = day.AddDate(0, 0, 1) {
			date := day.Format("2006-01-02")
			_, err := s.service.AnchorWindow(ctx, org, date)
			switch {
			case err == nil:
				s.log.Info("daily window anchored", "org_id", org, "date", date)
			case errors.Is(err, contracts.ErrAlreadyAnchored), errors.Is(err, contracts.ErrEmptyWindow):
				// nothing to do
			default:
				s.log.Error("daily anchoring failed", "org_id", org, "date", date, "error", err)
			}
		}
	}
}
