// Package guardian implements the human override layer: a roster of
// guardians with classed authority, a global pause/resume state machine,
// and one-way per-target vetoes. Every transition is recorded as a signed
// GuardianAction with the same append-only discipline as trust events.
package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/store"
)

// Clock provides time to the guardian system; injected so tests can pin it.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Class is a guardian authority level.
type Class string

const (
	// ClassA has full authority: pause, resume, veto, upgrade.
	ClassA Class = "class_a"
	// ClassB has limited authority: veto alone; pause/resume only as
	// part of a quorum.
	ClassB Class = "class_b"
	// Observer can only read.
	Observer Class = "observer"
)

// Guardian is one roster member.
type Guardian struct {
	GuardianID string    `json:"guardian_id" yaml:"guardian_id"`
	Name       string    `json:"name" yaml:"name"`
	Class      Class     `json:"class" yaml:"class"`
	PublicKey  string    `json:"public_key" yaml:"public_key"`
	AddedAt    time.Time `json:"added_at" yaml:"-"`
	Active     bool      `json:"active" yaml:"-"`
}

// System holds the roster and pause/veto state. It is an explicitly
// constructed, shared instance rather than ambient global state, so tests
// and multi-tenant deployments can run isolated systems concurrently.
type System struct {
	mu     sync.Mutex
	store  store.Store
	signer crypto.Signer
	clock  Clock
	log    *slog.Logger

	roster map[string]*Guardian

	// pauseQuorum is how many distinct Class B guardians must concur to
	// pause or resume without a Class A guardian. Votes older than voteTTL
	// no longer count, and every effective transition clears both maps.
	pauseQuorum int
	voteTTL     time.Duration
	pauseVotes  map[string]time.Time // guardian id → time of pending pause vote
	resumeVotes map[string]time.Time

	vetoed map[string]bool // target id → vetoed (one-way)
}

// Option configures a System.
type Option func(*System)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *System) { s.clock = c }
}

// WithPauseQuorum sets the Class B pause/resume quorum (default 2).
func WithPauseQuorum(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.pauseQuorum = n
		}
	}
}

// WithVoteTTL bounds how long a Class B pause/resume vote keeps counting
// toward the quorum (default 24h).
func WithVoteTTL(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.voteTTL = d
		}
	}
}

// NewSystem creates a guardian system over the given store and signer.
func NewSystem(st store.Store, signer crypto.Signer, opts ...Option) *System {
	s := &System{
		store:       st,
		signer:      signer,
		clock:       wallClock{},
		log:         slog.Default().With("component", "guardian"),
		roster:      make(map[string]*Guardian),
		pauseQuorum: 2,
		voteTTL:     24 * time.Hour,
		pauseVotes:  make(map[string]time.Time),
		resumeVotes: make(map[string]time.Time),
		vetoed:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddGuardian registers a roster member.
func (s *System) AddGuardian(g Guardian) error {
	if g.GuardianID == "" {
		return fmt.Errorf("%w: guardian_id is required", contracts.ErrValidation)
	}
	switch g.Class {
	case ClassA, ClassB, Observer:
	default:
		return fmt.Errorf("%w: unknown guardian class %q", contracts.ErrValidation, g.Class)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.AddedAt.IsZero() {
		g.AddedAt = s.clock.Now().UTC()
	}
	g.Active = true
	s.roster[g.GuardianID] = &g
	return nil
}

// Roster returns the active roster.
func (s *System) Roster() []Guardian {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Guardian, 0, len(s.roster))
	for _, g := range s.roster {
		out = append(out, *g)
	}
	return out
}

// IsPaused reports the pause flag with a fresh store read. Gate callers
// must not cache the result.
func (s *System) IsPaused(ctx context.Context) (bool, error) {
	state, err := s.store.ReadPauseState(ctx)
	if err != nil {
		return false, err
	}
	return state.IsPaused, nil
}

// PauseState returns the full pause state, read fresh.
func (s *System) PauseState(ctx context.Context) (contracts.PauseState, error) {
	return s.store.ReadPauseState(ctx)
}

// Pause halts the system. A Class A guardian pauses immediately; Class B
// guardians register votes and the pause takes effect once the quorum is
// reached. Every call appends a signed GuardianAction.
func (s *System) Pause(ctx context.Context, guardianID, reason string) (contracts.GuardianAction, error) {
	g, err := s.authority(guardianID)
	if err != nil {
		return contracts.GuardianAction{}, err
	}

	state, err := s.store.ReadPauseState(ctx)
	if err != nil {
		return contracts.GuardianAction{}, err
	}
	if state.IsPaused {
		return contracts.GuardianAction{}, fmt.Errorf("%w: already paused", contracts.ErrValidation)
	}

	effective := false
	switch g.Class {
	case ClassA:
		effective = true
	case ClassB:
		s.mu.Lock()
		effective = s.registerVote(s.pauseVotes, guardianID) >= s.pauseQuorum
		s.mu.Unlock()
	default:
		return contracts.GuardianAction{}, fmt.Errorf("%w: %s guardians cannot pause", contracts.ErrUnauthorized, g.Class)
	}

	action, err := s.record(ctx, g, contracts.GuardianPause, "system", reason)
	if err != nil {
		return contracts.GuardianAction{}, err
	}

	if effective {
		now := s.clock.Now().UTC()
		newState := contracts.PauseState{
			IsPaused:    true,
			PauseReason: reason,
			PausedBy:    guardianID,
			PausedAt:    &now,
		}
		if err := s.store.WritePauseState(ctx, newState); err != nil {
			return contracts.GuardianAction{}, err
		}
		s.clearVotes()
		s.log.Warn("system paused", "guardian", guardianID, "reason", reason)
	} else {
		s.log.Info("pause vote registered", "guardian", guardianID, "quorum", s.pauseQuorum)
	}
	return action, nil
}

// Resume lifts a pause under the same authority rules as Pause.
func (s *System) Resume(ctx context.Context, guardianID, reason string) (contracts.GuardianAction, error) {
	g, err := s.authority(guardianID)
	if err != nil {
		return contracts.GuardianAction{}, err
	}

	state, err := s.store.ReadPauseState(ctx)
	if err != nil {
		return contracts.GuardianAction{}, err
	}
	if !state.IsPaused {
		return contracts.GuardianAction{}, fmt.Errorf("%w: system is not paused", contracts.ErrValidation)
	}

	effective := false
	switch g.Class {
	case ClassA:
		effective = true
	case ClassB:
		s.mu.Lock()
		effective = s.registerVote(s.resumeVotes, guardianID) >= s.pauseQuorum
		s.mu.Unlock()
	default:
		return contracts.GuardianAction{}, fmt.Errorf("%w: %s guardians cannot resume", contracts.ErrUnauthorized, g.Class)
	}

	action, err := s.record(ctx, g, contracts.GuardianResume, "system", reason)
	if err != nil {
		return contracts.GuardianAction{}, err
	}

	if effective {
		if err := s.store.WritePauseState(ctx, contracts.PauseState{}); err != nil {
			return contracts.GuardianAction{}, err
		}
		s.clearVotes()
		s.log.Info("system resumed", "guardian", guardianID)
	}
	return action, nil
}

// Veto marks a target (proposal, event) as vetoed. Any non-observer
// guardian may veto; the guardian's class is recorded for audit weighting.
// The flag is terminal: there is no un-veto.
func (s *System) Veto(ctx context.Context, guardianID, targetID, reason string) (contracts.GuardianAction, error) {
	g, err := s.authority(guardianID)
	if err != nil {
		return contracts.GuardianAction{}, err
	}
	if g.Class == Observer {
		return contracts.GuardianAction{}, fmt.Errorf("%w: observers cannot veto", contracts.ErrUnauthorized)
	}
	if targetID == "" {
		return contracts.GuardianAction{}, fmt.Errorf("%w: veto target is required", contracts.ErrValidation)
	}

	action, err := s.record(ctx, g, contracts.GuardianVeto, targetID, reason)
	if err != nil {
		return contracts.GuardianAction{}, err
	}

	s.mu.Lock()
	s.vetoed[targetID] = true
	s.mu.Unlock()
	s.log.Warn("target vetoed", "guardian", guardianID, "target", targetID, "reason", reason)
	return action, nil
}

// IsVetoed reports whether a target has been vetoed.
func (s *System) IsVetoed(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vetoed[targetID]
}

// RecordBlockedAttempt records a log attempt rejected during a pause, so
// that the attempt itself leaves an audit trail.
func (s *System) RecordBlockedAttempt(ctx context.Context, orgID, agentID, actionType string) error {
	action := contracts.GuardianAction{
		ActionID:   uuid.New().String(),
		GuardianID: "system",
		Class:      "system",
		ActionType: contracts.GuardianBlocked,
		TargetID:   orgID + "/" + agentID,
		Reason:     fmt.Sprintf("log attempt for action_type %q rejected: system paused", actionType),
		Timestamp:  s.clock.Now().UTC(),
	}
	if err := s.sign(&action); err != nil {
		return err
	}
	return s.store.AppendGuardianAction(ctx, action)
}

// Status is the aggregate view consumed by the dashboard.
type Status struct {
	Paused          bool                      `json:"paused"`
	PauseReason     string                    `json:"pause_reason,omitempty"`
	PausedBy        string                    `json:"paused_by,omitempty"`
	PausedAt        *time.Time                `json:"paused_at,omitempty"`
	TotalGuardians  int                       `json:"total_guardians"`
	ClassAGuardians int                       `json:"class_a_guardians"`
	TotalActions    int                       `json:"total_actions"`
	VetoCount       int                       `json:"veto_count"`
	VetoRate        float64                   `json:"veto_rate"`
	Recent          []contracts.GuardianAction `json:"recent_actions"`
}

// Status aggregates pause state and recent action counts.
func (s *System) Status(ctx context.Context) (Status, error) {
	state, err := s.store.ReadPauseState(ctx)
	if err != nil {
		return Status{}, err
	}
	actions, err := s.store.ListGuardianActions(ctx, 200)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Paused:      state.IsPaused,
		PauseReason: state.PauseReason,
		PausedBy:    state.PausedBy,
		PausedAt:    state.PausedAt,
	}
	vetoes := 0
	for _, a := range actions {
		if a.ActionType == contracts.GuardianVeto {
			vetoes++
		}
	}
	st.TotalActions = len(actions)
	st.VetoCount = vetoes
	if len(actions) > 0 {
		st.VetoRate = float64(vetoes) / float64(len(actions))
	}
	if len(actions) > 10 {
		actions = actions[:10]
	}
	st.Recent = actions

	s.mu.Lock()
	st.TotalGuardians = len(s.roster)
	for _, g := range s.roster {
		if g.Class == ClassA && g.Active {
			st.ClassAGuardians++
		}
	}
	s.mu.Unlock()
	return st, nil
}

// registerVote records a quorum vote after expiring stale ones. Caller
// holds s.mu.
func (s *System) registerVote(votes map[string]time.Time, guardianID string) int {
	now := s.clock.Now()
	for id, at := range votes {
		if now.Sub(at) > s.voteTTL {
			delete(votes, id)
		}
	}
	votes[guardianID] = now
	return len(votes)
}

// clearVotes drops every pending pause and resume vote. Called after each
// effective transition so votes never carry across pause cycles.
func (s *System) clearVotes() {
	s.mu.Lock()
	s.pauseVotes = make(map[string]time.Time)
	s.resumeVotes = make(map[string]time.Time)
	s.mu.Unlock()
}

func (s *System) authority(guardianID string) (*Guardian, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.roster[guardianID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown guardian %s", contracts.ErrUnauthorized, guardianID)
	}
	if !g.Active {
		return nil, fmt.Errorf("%w: guardian %s is inactive", contracts.ErrUnauthorized, guardianID)
	}
	return g, nil
}

func (s *System) record(ctx context.Context, g *Guardian, actionType contracts.GuardianActionType, targetID, reason string) (contracts.GuardianAction, error) {
	action := contracts.GuardianAction{
		ActionID:   uuid.New().String(),
		GuardianID: g.GuardianID,
		Class:      string(g.Class),
		ActionType: actionType,
		TargetID:   targetID,
		Reason:     reason,
		Timestamp:  s.clock.Now().UTC(),
	}
	if err := s.sign(&action); err != nil {
		return contracts.GuardianAction{}, err
	}
	if err := s.store.AppendGuardianAction(ctx, action); err != nil {
		return contracts.GuardianAction{}, err
	}
	return action, nil
}

// sign computes the signature over the canonical form of the action with
// the signature field cleared.
func (s *System) sign(action *contracts.GuardianAction) error {
	unsigned := *action
	unsigned.Signature = ""
	payload, err := crypto.Canonical(unsigned)
	if err != nil {
		return err
	}
	sig, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign guardian action: %w", err)
	}
	action.Signature = sig
	return nil
}

// VerifyAction checks a guardian action signature against a public key.
func VerifyAction(action contracts.GuardianAction, pubKeyHex string) (bool, error) {
	unsigned := action
	unsigned.Signature = ""
	payload, err := crypto.Canonical(unsigned)
	if err != nil {
		return false, err
	}
	return crypto.Verify(pubKeyHex, action.Signature, payload)
}
