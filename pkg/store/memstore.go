package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// MemStore is the in-memory Store used by tests and local development.
// All methods take a full lock for writes and return copies, so readers
// see a consistent snapshot.
type MemStore struct {
	mu         sync.RWMutex
	events     map[string]contracts.TrustEvent
	anchors    map[string]contracts.MerkleAnchor // keyed by orgID+"|"+date
	actions    []contracts.GuardianAction
	pauseState contracts.PauseState
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		events:  make(map[string]contracts.TrustEvent),
		anchors: make(map[string]contracts.MerkleAnchor),
	}
}

func anchorKey(orgID, date string) string { return orgID + "|" + date }

func (s *MemStore) AppendEvent(_ context.Context, ev contracts.TrustEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.EventID]; exists {
		return fmt.Errorf("%w: duplicate event id %s", contracts.ErrPersistence, ev.EventID)
	}
	s.events[ev.EventID] = ev
	return nil
}

func (s *MemStore) GetEvent(_ context.Context, eventID string) (contracts.TrustEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return contracts.TrustEvent{}, fmt.Errorf("%w: event %s", contracts.ErrNotFound, eventID)
	}
	return ev, nil
}

func (s *MemStore) ReadEventsInWindow(_ context.Context, orgID, date string) ([]contracts.TrustEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.TrustEvent, 0)
	for _, ev := range s.events {
		if ev.OrgID == orgID && ev.WindowDate() == date {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (s *MemStore) ListEventsByAgent(_ context.Context, orgID, agentID string, limit int) ([]contracts.TrustEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.TrustEvent, 0)
	for _, ev := range s.events {
		if ev.OrgID == orgID && ev.AgentID == agentID {
			out = append(out, ev)
		}
	}
	// Newest first; event ids are time-ordered.
	sort.Slice(out, func(i, j int) bool { return out[i].EventID > out[j].EventID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) AppendAnchor(_ context.Context, anchor contracts.MerkleAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := anchorKey(anchor.OrgID, anchor.Date)
	if _, exists := s.anchors[key]; exists {
		return fmt.Errorf("%w: %s/%s", contracts.ErrAlreadyAnchored, anchor.OrgID, anchor.Date)
	}
	s.anchors[key] = anchor
	return nil
}

func (s *MemStore) GetAnchor(_ context.Context, orgID, date string) (contracts.MerkleAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	anchor, ok := s.anchors[anchorKey(orgID, date)]
	if !ok {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: anchor %s/%s", contracts.ErrNotFound, orgID, date)
	}
	return anchor, nil
}

func (s *MemStore) LatestAnchor(_ context.Context, orgID string) (contracts.MerkleAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest contracts.MerkleAnchor
	found := false
	for _, anchor := range s.anchors {
		if anchor.OrgID != orgID {
			continue
		}
		if !found || anchor.Date > latest.Date {
			latest = anchor
			found = true
		}
	}
	if !found {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: no anchors for org %s", contracts.ErrNotFound, orgID)
	}
	return latest, nil
}

func (s *MemStore) ListAnchors(_ context.Context, orgID string) ([]contracts.MerkleAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.MerkleAnchor, 0)
	for _, anchor := range s.anchors {
		if anchor.OrgID == orgID {
			out = append(out, anchor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemStore) ListUnconfirmedAnchors(_ context.Context) ([]contracts.MerkleAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.MerkleAnchor, 0)
	for _, anchor := range s.anchors {
		if !anchor.Confirmed {
			out = append(out, anchor)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID < out[j].OrgID
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func (s *MemStore) UpdateAnchorConfirmation(_ context.Context, orgID, date, chain, txHash string, blockNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := anchorKey(orgID, date)
	anchor, ok := s.anchors[key]
	if !ok {
		return fmt.Errorf("%w: anchor %s/%s", contracts.ErrNotFound, orgID, date)
	}
	anchor.Blockchain = chain
	anchor.TxHash = txHash
	anchor.BlockNumber = blockNumber
	anchor.Confirmed = true
	s.anchors[key] = anchor
	return nil
}

func (s *MemStore) AppendGuardianAction(_ context.Context, action contracts.GuardianAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *MemStore) ListGuardianActions(_ context.Context, limit int) ([]contracts.GuardianAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.actions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]contracts.GuardianAction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.actions[i])
	}
	return out, nil
}

func (s *MemStore) ReadPauseState(_ context.Context) (contracts.PauseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pauseState, nil
}

func (s *MemStore) WritePauseState(_ context.Context, state contracts.PauseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseState = state
	return nil
}

var _ Store = (*MemStore)(nil)
