// Package anchor seals one calendar day of trust events per org into a
// Merkle root and settles that root on one or more external chains. A
// window, once sealed, is never recomputed: late-arriving events roll
// into the next unanchored window.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/merkle"
	"github.com/microai-dao/trustcore/pkg/store"
)

// Confirmation is the settlement status of a submitted root.
type Confirmation struct {
	Confirmed   bool
	TxHash      string
	BlockNumber int64
}

// Submitter is the chain-submission collaborator. Implementations must be
// idempotent by root hash: submitting the same root twice to the same
// chain must not double-anchor.
type Submitter interface {
	SubmitRoot(ctx context.Context, chain, rootHash string) (txHandle string, err error)
	GetConfirmation(ctx context.Context, chain, txHandle string) (Confirmation, error)
}

// Clock is injected for deterministic tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Service batches, roots and anchors event windows.
type Service struct {
	store         store.Store
	submitter     Submitter
	chains        []string
	limiter       *rate.Limiter
	submitTimeout time.Duration
	clock         Clock
	log           *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSubmitTimeout bounds each chain submission attempt.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithSubmitRate paces chain submissions.
func WithSubmitRate(r rate.Limit, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(r, burst) }
}

// NewService builds an anchor service submitting to the given chains.
func NewService(st store.Store, submitter Submitter, chains []string, opts ...Option) *Service {
	s := &Service{
		store:         st,
		submitter:     submitter,
		chains:        chains,
		limiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		submitTimeout: 30 * time.Second,
		clock:         wallClock{},
		log:           slog.Default().With("component", "anchor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnchorWindow seals (orgID, date): it snapshots the window's events in
// event_id order together with late arrivals left uncovered by earlier
// anchors, builds the deterministic Merkle tree, persists the anchor, then
// attempts chain submission. Windows seal in date order; sealing a date
// older than the latest anchor fails with ErrValidation. An empty window is
// skipped with ErrEmptyWindow; an already-anchored window fails with
// ErrAlreadyAnchored. Chain submission failure leaves the anchor durable
// and pending; it is retried by RetryPending without recomputing the root.
func (s *Service) AnchorWindow(ctx context.Context, orgID, date string) (contracts.MerkleAnchor, error) {
	if _, err := s.store.GetAnchor(ctx, orgID, date); err == nil {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: %s/%s", contracts.ErrAlreadyAnchored, orgID, date)
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return contracts.MerkleAnchor{}, err
	}
	latest, err := s.store.LatestAnchor(ctx, orgID)
	if err == nil && date < latest.Date {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: window %s/%s precedes latest anchor %s, windows seal in date order",
			contracts.ErrValidation, orgID, date, latest.Date)
	} else if err != nil && !errors.Is(err, contracts.ErrNotFound) {
		return contracts.MerkleAnchor{}, err
	}

	// Late arrivals for already-sealed windows roll into this seal.
	_, carry, err := SealedWindows(ctx, s.store, orgID)
	if err != nil {
		return contracts.MerkleAnchor{}, err
	}
	window, err := s.store.ReadEventsInWindow(ctx, orgID, date)
	if err != nil {
		return contracts.MerkleAnchor{}, err
	}
	events := make([]contracts.TrustEvent, 0, len(carry)+len(window))
	events = append(events, carry...)
	events = append(events, window...)
	sortEventsByID(events)
	if len(events) == 0 {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: %s/%s", contracts.ErrEmptyWindow, orgID, date)
	}

	root, err := WindowRoot(events)
	if err != nil {
		return contracts.MerkleAnchor{}, err
	}

	anchor := contracts.MerkleAnchor{
		OrgID:      orgID,
		Date:       date,
		RootHash:   root,
		EventCount: len(events),
		AnchoredAt: s.clock.Now().UTC(),
	}
	if err := s.store.AppendAnchor(ctx, anchor); err != nil {
		return contracts.MerkleAnchor{}, err
	}
	s.log.Info("window sealed", "org_id", orgID, "date", date, "root", root, "events", len(events))

	if err := s.submit(ctx, &anchor); err != nil {
		// Root is durable; only settlement is delayed.
		s.log.Warn("chain submission pending", "org_id", orgID, "date", date, "error", err)
	}
	return anchor, nil
}

// WindowRoot computes the deterministic root over an ordered event window.
// Leaf i is the domain-separated hash of the canonical bytes of the full
// signed event. Any verifier can reproduce this from the raw events alone.
func WindowRoot(events []contracts.TrustEvent) (string, error) {
	leaves, err := Leaves(events)
	if err != nil {
		return "", err
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return "", err
	}
	return tree.Root, nil
}

// Leaves maps an ordered event window to its Merkle leaf hashes.
func Leaves(events []contracts.TrustEvent) ([]string, error) {
	leaves := make([]string, len(events))
	for i, ev := range events {
		b, err := crypto.Canonical(ev)
		if err != nil {
			return nil, fmt.Errorf("canonicalize event %s: %w", ev.EventID, err)
		}
		leaves[i] = merkle.LeafHash(b)
	}
	return leaves, nil
}

// submit pushes the root to every configured chain and records the first
// confirmation. Returns a ChainSubmissionError when no chain confirmed.
func (s *Service) submit(ctx context.Context, anchor *contracts.MerkleAnchor) error {
	var lastErr error
	for _, chain := range s.chains {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", contracts.ErrChainSubmission, err)
		}

		subCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
		conf, err := s.submitOne(subCtx, chain, anchor.RootHash)
		cancel()
		if err != nil {
			lastErr = err
			s.log.Warn("chain submission failed", "chain", chain, "root", anchor.RootHash, "error", err)
			continue
		}
		if !conf.Confirmed {
			lastErr = fmt.Errorf("%w: %s not yet confirmed", contracts.ErrChainSubmission, chain)
			continue
		}

		if err := s.store.UpdateAnchorConfirmation(ctx, anchor.OrgID, anchor.Date, chain, conf.TxHash, conf.BlockNumber); err != nil {
			return err
		}
		anchor.Blockchain = chain
		anchor.TxHash = conf.TxHash
		anchor.BlockNumber = conf.BlockNumber
		anchor.Confirmed = true
		s.log.Info("anchor confirmed", "chain", chain, "tx", conf.TxHash, "block", conf.BlockNumber)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no chains configured", contracts.ErrChainSubmission)
	}
	return lastErr
}

func (s *Service) submitOne(ctx context.Context, chain, root string) (Confirmation, error) {
	handle, err := s.submitter.SubmitRoot(ctx, chain, root)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: submit to %s: %v", contracts.ErrChainSubmission, chain, err)
	}
	conf, err := s.submitter.GetConfirmation(ctx, chain, handle)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: confirmation from %s: %v", contracts.ErrChainSubmission, chain, err)
	}
	return conf, nil
}

// RetryPending resubmits every locally durable but unconfirmed anchor.
// Roots are never recomputed. Returns the number of anchors confirmed.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListUnconfirmedAnchors(ctx)
	if err != nil {
		return 0, err
	}
	confirmed := 0
	for i := range pending {
		if err := s.submit(ctx, &pending[i]); err != nil {
			s.log.Warn("retry still pending", "org_id", pending[i].OrgID, "date", pending[i].Date, "error", err)
			continue
		}
		confirmed++
	}
	return confirmed, nil
}
