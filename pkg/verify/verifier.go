// Package verify answers "was event E included in anchored root R" by
// rebuilding the deterministic window tree and checking the inclusion
// proof. Everything here is re-derivable by a third party holding only
// the ordered leaf hashes and the claimed root.
package verify

import (
	"context"
	"fmt"
	"sort"

	"github.com/microai-dao/trustcore/pkg/anchor"
	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/merkle"
	"github.com/microai-dao/trustcore/pkg/store"
	"github.com/microai-dao/trustcore/pkg/trustlog"
)

// Result is the outcome of an inclusion check.
type Result struct {
	Included bool                  `json:"included"`
	EventID  string                `json:"event_id"`
	Date     string                `json:"date"`
	LeafHash string                `json:"leaf_hash"`
	Root     string                `json:"root"`
	Proof    merkle.InclusionProof `json:"proof"`
	Message  string                `json:"message,omitempty"`
}

// Verifier reconstructs inclusion proofs from the event log.
type Verifier struct {
	store store.Store
}

// NewVerifier builds a verifier over the event store.
func NewVerifier(st store.Store) *Verifier {
	return &Verifier{store: st}
}

// VerifyInclusion rebuilds the tree for the window that seals the event,
// using the same ordering (event_id ascending) and tie-break (duplicate
// last leaf) rules as anchoring, and checks the recomputed root against
// claimedRoot. An event that arrived after its own day was sealed is
// verified against the later anchor that swept it in; Result.Date reports
// that anchor's date. An event no anchor covers yet is verified against a
// live recomputation of its prospective window. A mismatch is a
// tamper/inconsistency finding, returned as ErrVerificationMismatch
// alongside the proof material.
func (v *Verifier) VerifyInclusion(ctx context.Context, eventID, claimedRoot string) (Result, error) {
	ev, err := v.store.GetEvent(ctx, eventID)
	if err != nil {
		return Result{}, err
	}

	events, date, err := v.coveringWindow(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	leaves, err := anchor.Leaves(events)
	if err != nil {
		return Result{}, err
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return Result{}, err
	}

	index := -1
	for i, e := range events {
		if e.EventID == eventID {
			index = i
			break
		}
	}
	if index < 0 {
		// GetEvent succeeded but the window read missed it; inconsistent store.
		return Result{}, fmt.Errorf("%w: event %s missing from window %s", contracts.ErrVerificationMismatch, eventID, date)
	}

	proof, err := tree.Proof(index)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		EventID:  eventID,
		Date:     date,
		LeafHash: leaves[index],
		Root:     tree.Root,
		Proof:    proof,
	}

	if claimedRoot != "" && tree.Root != claimedRoot {
		res.Message = "recomputed root does not match claimed root"
		return res, fmt.Errorf("%w: recomputed %s, claimed %s", contracts.ErrVerificationMismatch, tree.Root, claimedRoot)
	}

	res.Included = merkle.VerifyProof(proof, tree.Root)
	if !res.Included {
		return res, fmt.Errorf("%w: proof path does not reach root", contracts.ErrVerificationMismatch)
	}
	return res, nil
}

// coveringWindow returns the ordered event set to verify against: the
// sealed set of the anchor covering the event, or, when no anchor covers
// it yet, the uncovered pool plus the event's own unsealed day.
func (v *Verifier) coveringWindow(ctx context.Context, ev contracts.TrustEvent) ([]contracts.TrustEvent, string, error) {
	sealed, pending, err := anchor.SealedWindows(ctx, v.store, ev.OrgID)
	if err != nil {
		return nil, "", err
	}

	for _, w := range sealed {
		for _, e := range w.Events {
			if e.EventID == ev.EventID {
				return w.Events, w.Anchor.Date, nil
			}
		}
	}

	date := ev.WindowDate()
	dateAnchored := false
	for _, w := range sealed {
		if w.Anchor.Date == date {
			dateAnchored = true
			break
		}
	}
	events := append([]contracts.TrustEvent(nil), pending...)
	if !dateAnchored {
		day, err := v.store.ReadEventsInWindow(ctx, ev.OrgID, date)
		if err != nil {
			return nil, "", err
		}
		events = append(events, day...)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	return events, date, nil
}

// VerifyEventSignature checks the event's own signature against the org
// signing public key.
func (v *Verifier) VerifyEventSignature(ctx context.Context, eventID, pubKeyHex string) (bool, error) {
	ev, err := v.store.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	return trustlog.VerifyEvent(ev, pubKeyHex)
}
