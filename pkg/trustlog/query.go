package trustlog

import (
	"context"
	"errors"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// EventsByDate returns one org's events for a UTC calendar day, ordered
// by event_id.
func (l *Logger) EventsByDate(ctx context.Context, orgID, date string) ([]contracts.TrustEvent, error) {
	return l.store.ReadEventsInWindow(ctx, orgID, date)
}

// EventsByAgent returns the most recent events for an agent.
func (l *Logger) EventsByAgent(ctx context.Context, orgID, agentID string, limit int) ([]contracts.TrustEvent, error) {
	return l.store.ListEventsByAgent(ctx, orgID, agentID, limit)
}

// GetEvent fetches a single event by id.
func (l *Logger) GetEvent(ctx context.Context, eventID string) (contracts.TrustEvent, error) {
	return l.store.GetEvent(ctx, eventID)
}

// StatusSummary is the per-org dashboard rollup.
type StatusSummary struct {
	OrgID         string                  `json:"org_id"`
	Date          string                  `json:"date"`
	EventCount    int                     `json:"event_count"`
	PerAgent      map[string]int          `json:"per_agent"`
	AverageScore  float64                 `json:"average_score"`
	ScoredEvents  int                     `json:"scored_events"`
	LastAnchor    *contracts.MerkleAnchor `json:"last_anchor,omitempty"`
}

// Summary aggregates one day's activity for an org. date defaults to the
// current UTC day when empty.
func (l *Logger) Summary(ctx context.Context, orgID, date string) (StatusSummary, error) {
	if date == "" {
		date = l.clock.Now().UTC().Format("2006-01-02")
	}
	events, err := l.store.ReadEventsInWindow(ctx, orgID, date)
	if err != nil {
		return StatusSummary{}, err
	}

	sum := StatusSummary{
		OrgID:      orgID,
		Date:       date,
		EventCount: len(events),
		PerAgent:   make(map[string]int),
	}
	var total float64
	for _, ev := range events {
		sum.PerAgent[ev.AgentID]++
		if ev.EPIScore != nil {
			total += *ev.EPIScore
			sum.ScoredEvents++
		}
	}
	if sum.ScoredEvents > 0 {
		sum.AverageScore = total / float64(sum.ScoredEvents)
	}

	anchor, err := l.store.LatestAnchor(ctx, orgID)
	switch {
	case err == nil:
		sum.LastAnchor = &anchor
	case errors.Is(err, contracts.ErrNotFound):
		// no anchors yet
	default:
		return StatusSummary{}, err
	}
	return sum, nil
}
