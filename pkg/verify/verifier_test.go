package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/microai-dao/trustcore/pkg/anchor"
	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/store"
	"github.com/microai-dao/trustcore/pkg/trustlog"
)

type openGate struct{}

func (openGate) IsPaused(ctx context.Context) (bool, error) { return false, nil }
func (openGate) RecordBlockedAttempt(ctx context.Context, orgID, agentID, actionType string) error {
	return nil
}

type confirmingSubmitter struct{}

func (confirmingSubmitter) SubmitRoot(ctx context.Context, chain, rootHash string) (string, error) {
	return "0xtx", nil
}

func (confirmingSubmitter) GetConfirmation(ctx context.Context, chain, txHandle string) (anchor.Confirmation, error) {
	return anchor.Confirmation{Confirmed: true, TxHash: txHandle, BlockNumber: 1}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// setup logs three events on one day and anchors the window.
func setup(t *testing.T) (*Verifier, *store.MemStore, contracts.MerkleAnchor, []contracts.TrustEvent) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemStore()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)

	clock := fixedClock{t: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	logger := trustlog.NewLogger(st, signer, openGate{}, "policy-v1", trustlog.WithClock(clock))

	for _, agent := range []string{"a", "b", "c"} {
		_, err := logger.LogEvent(ctx, contracts.ActionDescriptor{
			OrgID:      "org1",
			AgentID:    agent,
			ActionType: "generate",
			Input:      []byte("in-" + agent),
			Output:     []byte("out-" + agent),
		}, nil, nil)
		require.NoError(t, err)
	}

	svc := anchor.NewService(st, confirmingSubmitter{}, []string{"polygon"},
		anchor.WithClock(fixedClock{t: time.Date(2026, 8, 31, 0, 5, 0, 0, time.UTC)}),
		anchor.WithSubmitRate(rate.Inf, 1),
	)
	a, err := svc.AnchorWindow(ctx, "org1", "2026-08-30")
	require.NoError(t, err)

	events, err := st.ReadEventsInWindow(ctx, "org1", "2026-08-30")
	require.NoError(t, err)
	require.Len(t, events, 3)

	return NewVerifier(st), st, a, events
}

func TestVerifyInclusion(t *testing.T) {
	ctx := context.Background()
	v, _, a, events := setup(t)

	for _, ev := range events {
		res, err := v.VerifyInclusion(ctx, ev.EventID, a.RootHash)
		require.NoError(t, err)
		assert.True(t, res.Included)
		assert.Equal(t, a.RootHash, res.Root)
		assert.Equal(t, "2026-08-30", res.Date)
		assert.NotEmpty(t, res.Proof.Steps)
	}
}

func TestVerifyInclusionLateEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)

	clock := fixedClock{t: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	logger := trustlog.NewLogger(st, signer, openGate{}, "policy-v1", trustlog.WithClock(clock))

	var early []contracts.TrustEvent
	for _, agent := range []string{"a", "b"} {
		ev, err := logger.LogEvent(ctx, contracts.ActionDescriptor{
			OrgID: "org1", AgentID: agent, ActionType: "generate",
		}, nil, nil)
		require.NoError(t, err)
		early = append(early, ev)
	}

	svc := anchor.NewService(st, confirmingSubmitter{}, []string{"polygon"},
		anchor.WithClock(fixedClock{t: time.Date(2026, 8, 31, 0, 5, 0, 0, time.UTC)}),
		anchor.WithSubmitRate(rate.Inf, 1),
	)
	a1, err := svc.AnchorWindow(ctx, "org1", "2026-08-30")
	require.NoError(t, err)

	// Stamped inside the sealed day, logged after the seal.
	late, err := logger.LogEvent(ctx, contracts.ActionDescriptor{
		OrgID: "org1", AgentID: "c", ActionType: "generate",
	}, nil, nil)
	require.NoError(t, err)

	v := NewVerifier(st)

	// The sealed events still verify against the sealed root.
	for _, ev := range early {
		res, err := v.VerifyInclusion(ctx, ev.EventID, a1.RootHash)
		require.NoError(t, err)
		assert.True(t, res.Included)
	}

	// The late event is not under the sealed root.
	_, err = v.VerifyInclusion(ctx, late.EventID, a1.RootHash)
	assert.True(t, errors.Is(err, contracts.ErrVerificationMismatch))

	// But it proves against its live prospective window.
	res, err := v.VerifyInclusion(ctx, late.EventID, "")
	require.NoError(t, err)
	assert.True(t, res.Included)

	// The next seal sweeps it in and the proof lands on that anchor.
	a2, err := svc.AnchorWindow(ctx, "org1", "2026-08-31")
	require.NoError(t, err)
	require.Equal(t, 1, a2.EventCount)

	res, err = v.VerifyInclusion(ctx, late.EventID, a2.RootHash)
	require.NoError(t, err)
	assert.True(t, res.Included)
	assert.Equal(t, "2026-08-31", res.Date)
}

func TestVerifyInclusionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v, _, a, events := setup(t)

	r1, err := v.VerifyInclusion(ctx, events[0].EventID, a.RootHash)
	require.NoError(t, err)
	r2, err := v.VerifyInclusion(ctx, events[0].EventID, a.RootHash)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestVerifyInclusionWithoutClaimedRoot(t *testing.T) {
	ctx := context.Background()
	v, _, _, events := setup(t)

	res, err := v.VerifyInclusion(ctx, events[1].EventID, "")
	require.NoError(t, err)
	assert.True(t, res.Included)
}

func TestVerifyInclusionRootMismatch(t *testing.T) {
	ctx := context.Background()
	v, _, _, events := setup(t)

	res, err := v.VerifyInclusion(ctx, events[0].EventID, "deadbeef")
	assert.True(t, errors.Is(err, contracts.ErrVerificationMismatch))
	assert.False(t, res.Included)
	assert.NotEmpty(t, res.Root, "recomputed root is still reported")
}

func TestVerifyInclusionUnknownEvent(t *testing.T) {
	ctx := context.Background()
	v, _, a, _ := setup(t)

	_, err := v.VerifyInclusion(ctx, "no-such-event", a.RootHash)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestVerifyEventSignature(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)
	logger := trustlog.NewLogger(st, signer, openGate{}, "policy-v1")

	ev, err := logger.LogEvent(ctx, contracts.ActionDescriptor{
		OrgID: "org1", AgentID: "a", ActionType: "generate",
	}, nil, nil)
	require.NoError(t, err)

	v := NewVerifier(st)
	ok, err := v.VerifyEventSignature(ctx, ev.EventID, signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := crypto.NewEd25519Signer("other")
	require.NoError(t, err)
	ok, err = v.VerifyEventSignature(ctx, ev.EventID, other.PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}
