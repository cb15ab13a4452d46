// Package store defines the narrow persistence interface the trust engine
// core consumes, with one SQL-backed reference implementation and one
// in-memory implementation for tests. The core's correctness never depends
// on a specific storage engine.
package store

import (
	"context"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// Store is the durable collaborator for events, anchors, guardian actions
// and the pause flag. All writes are append-only except the pause state
// and anchor confirmation attachment.
type Store interface {
	// AppendEvent persists a signed trust event. Duplicate event ids fail.
	AppendEvent(ctx context.Context, ev contracts.TrustEvent) error

	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, eventID string) (contracts.TrustEvent, error)

	// ReadEventsInWindow returns all events for (orgID, date) ordered by
	// event_id ascending. The read is a consistent snapshot: events
	// appended after the call returns belong to a later batch.
	ReadEventsInWindow(ctx context.Context, orgID, date string) ([]contracts.TrustEvent, error)

	// ListEventsByAgent returns the most recent events for an agent.
	ListEventsByAgent(ctx context.Context, orgID, agentID string, limit int) ([]contracts.TrustEvent, error)

	// AppendAnchor persists a new anchor. At most one per (org_id, date).
	AppendAnchor(ctx context.Context, anchor contracts.MerkleAnchor) error

	// GetAnchor retrieves the anchor for (orgID, date).
	GetAnchor(ctx context.Context, orgID, date string) (contracts.MerkleAnchor, error)

	// LatestAnchor returns the most recent anchor for an org.
	LatestAnchor(ctx context.Context, orgID string) (contracts.MerkleAnchor, error)

	// ListAnchors returns all anchors for an org, date ascending.
	ListAnchors(ctx context.Context, orgID string) ([]contracts.MerkleAnchor, error)

	// ListUnconfirmedAnchors returns anchors awaiting chain confirmation.
	ListUnconfirmedAnchors(ctx context.Context) ([]contracts.MerkleAnchor, error)

	// UpdateAnchorConfirmation attaches settlement data to an anchor.
	// The root itself is immutable.
	UpdateAnchorConfirmation(ctx context.Context, orgID, date, chain, txHash string, blockNumber int64) error

	// AppendGuardianAction persists a signed guardian action.
	AppendGuardianAction(ctx context.Context, action contracts.GuardianAction) error

	// ListGuardianActions returns the most recent guardian actions.
	ListGuardianActions(ctx context.Context, limit int) ([]contracts.GuardianAction, error)

	// ReadPauseState returns the current pause flag. Callers gating an
	// append must call this fresh, never cache it.
	ReadPauseState(ctx context.Context) (contracts.PauseState, error)

	// WritePauseState replaces the pause flag.
	WritePauseState(ctx context.Context, state contracts.PauseState) error
}
