// Package trustlog turns approved agent actions into signed, immutable
// trust events. Raw payloads are hashed at log time and never persisted:
// the log proves that an input/output occurred and what it hashes to,
// without storing sensitive content.
package trustlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/epi"
	"github.com/microai-dao/trustcore/pkg/risk"
	"github.com/microai-dao/trustcore/pkg/store"
)

// Gate is the guardian check consulted before an event is committed.
type Gate interface {
	// IsPaused must perform a fresh read; the logger never caches it.
	IsPaused(ctx context.Context) (bool, error)
	// RecordBlockedAttempt records a log attempt rejected by a pause.
	RecordBlockedAttempt(ctx context.Context, orgID, agentID, actionType string) error
}

// Clock is injected for deterministic tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Logger appends signed trust events to the durable log.
type Logger struct {
	store         store.Store
	signer        crypto.Signer
	gate          Gate
	policyVersion string
	clock         Clock
	log           *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(l *Logger) { l.clock = c }
}

// NewLogger builds a logger over the given collaborators.
func NewLogger(st store.Store, signer crypto.Signer, gate Gate, policyVersion string, opts ...Option) *Logger {
	l := &Logger{
		store:         st,
		signer:        signer,
		gate:          gate,
		policyVersion: policyVersion,
		clock:         wallClock{},
		log:           slog.Default().With("component", "trustlog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogEvent signs and persists one trust event for an approved action.
//
// The guardian gate is read fresh twice: once up front, and once more as
// the very last check before the append, to shrink the pause race to the
// smallest possible critical section. Once the signature is computed the
// attempt is always recorded, either as a trust event or, if a pause won
// the race, as a blocked-attempt guardian record.
//
// The call is idempotent only when the caller supplies a pre-existing
// EventID on the descriptor; otherwise retries produce distinguishable
// duplicate events.
func (l *Logger) LogEvent(ctx context.Context, act contracts.ActionDescriptor, epiRes *epi.Result, riskRes *risk.Assessment) (contracts.TrustEvent, error) {
	if err := validateDescriptor(act); err != nil {
		return contracts.TrustEvent{}, err
	}

	if err := l.checkGate(ctx, act); err != nil {
		return contracts.TrustEvent{}, err
	}

	eventID := act.EventID
	if eventID == "" {
		id, err := uuid.NewV7() // time-ordered, collision-free
		if err != nil {
			return contracts.TrustEvent{}, fmt.Errorf("event id generation: %w", err)
		}
		eventID = id.String()
	}

	ev := contracts.TrustEvent{
		EventID:       eventID,
		Timestamp:     l.clock.Now().UTC(),
		OrgID:         act.OrgID,
		AgentID:       act.AgentID,
		ActionType:    act.ActionType,
		Model:         act.Model,
		InputHash:     crypto.HashContent(act.Input),
		OutputHash:    crypto.HashContent(act.Output),
		PolicyVersion: l.policyVersion,
		ToolsCalled:   emptyIfNil(act.ToolsCalled),
		Redactions:    emptyIfNil(act.Redactions),
		Evaluations:   act.Evaluations,
	}
	if ev.Evaluations == nil {
		ev.Evaluations = []contracts.Evaluation{}
	}
	if epiRes != nil {
		score := epiRes.Score
		ev.EPIScore = &score
	}
	if riskRes != nil {
		tier := int(riskRes.Tier)
		ev.RiskTier = &tier
	}

	if err := l.sign(&ev); err != nil {
		return contracts.TrustEvent{}, err
	}

	// Final fresh pause read, immediately before commit.
	if err := l.checkGate(ctx, act); err != nil {
		return contracts.TrustEvent{}, err
	}

	if err := l.store.AppendEvent(ctx, ev); err != nil {
		return contracts.TrustEvent{}, err
	}

	l.log.Info("trust event logged",
		"event_id", ev.EventID,
		"org_id", ev.OrgID,
		"agent_id", ev.AgentID,
		"action_type", ev.ActionType,
	)
	return ev, nil
}

func (l *Logger) checkGate(ctx context.Context, act contracts.ActionDescriptor) error {
	paused, err := l.gate.IsPaused(ctx)
	if err != nil {
		return err
	}
	if !paused {
		return nil
	}
	if recErr := l.gate.RecordBlockedAttempt(ctx, act.OrgID, act.AgentID, act.ActionType); recErr != nil {
		l.log.Error("failed to record blocked attempt", "error", recErr)
	}
	return fmt.Errorf("%w: action %q for agent %s", contracts.ErrSystemPaused, act.ActionType, act.AgentID)
}

func (l *Logger) sign(ev *contracts.TrustEvent) error {
	payload, err := SigningPayload(*ev)
	if err != nil {
		return err
	}
	sig, err := l.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	ev.Signature = sig
	ev.SignatureType = crypto.SigPrefixEd25519 + crypto.SigSeparator + l.signer.KeyID()
	return nil
}

// SigningPayload returns the canonical bytes a trust event signature
// covers: every field except the signature itself.
func SigningPayload(ev contracts.TrustEvent) ([]byte, error) {
	ev.Signature = ""
	ev.SignatureType = ""
	return crypto.Canonical(ev)
}

// VerifyEvent checks a trust event signature against a public key.
func VerifyEvent(ev contracts.TrustEvent, pubKeyHex string) (bool, error) {
	payload, err := SigningPayload(ev)
	if err != nil {
		return false, err
	}
	return crypto.Verify(pubKeyHex, ev.Signature, payload)
}

func validateDescriptor(act contracts.ActionDescriptor) error {
	switch {
	case act.OrgID == "":
		return fmt.Errorf("%w: org_id is required", contracts.ErrValidation)
	case act.AgentID == "":
		return fmt.Errorf("%w: agent_id is required", contracts.ErrValidation)
	case act.ActionType == "":
		return fmt.Errorf("%w: action_type is required", contracts.ErrValidation)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
