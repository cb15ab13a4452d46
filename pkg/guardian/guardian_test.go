package guardian

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
	"github.com/microai-dao/trustcore/pkg/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestSystem(t *testing.T) (*System, *store.MemStore, *crypto.Ed25519Signer) {
	t.Helper()
	st := store.NewMemStore()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)

	sys := NewSystem(st, signer, WithClock(fixedClock{t: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "alice", Name: "Alice", Class: ClassA}))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "bob", Name: "Bob", Class: ClassB}))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "carol", Name: "Carol", Class: ClassB}))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "olga", Name: "Olga", Class: Observer}))
	return sys, st, signer
}

func TestAddGuardianValidation(t *testing.T) {
	sys, _, _ := newTestSystem(t)

	err := sys.AddGuardian(Guardian{Class: ClassA})
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	err = sys.AddGuardian(Guardian{GuardianID: "x", Class: "warlord"})
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	assert.Len(t, sys.Roster(), 4)
}

func TestClassAPausesImmediately(t *testing.T) {
	ctx := context.Background()
	sys, _, signer := newTestSystem(t)

	action, err := sys.Pause(ctx, "alice", "anomalous behavior")
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardianPause, action.ActionType)
	assert.NotEmpty(t, action.Signature)

	ok, err := VerifyAction(action, signer.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)

	paused, err := sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	state, err := sys.PauseState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", state.PausedBy)
	assert.Equal(t, "anomalous behavior", state.PauseReason)
	require.NotNil(t, state.PausedAt)
}

func TestPauseWhileAlreadyPaused(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Pause(ctx, "alice", "first")
	require.NoError(t, err)

	_, err = sys.Pause(ctx, "alice", "second")
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestClassBPauseNeedsQuorum(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Pause(ctx, "bob", "suspicious activity")
	require.NoError(t, err)

	paused, err := sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused, "single class B vote must not pause")

	// Same guardian voting again does not advance the quorum.
	_, err = sys.Pause(ctx, "bob", "still suspicious")
	require.NoError(t, err)
	paused, err = sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	_, err = sys.Pause(ctx, "carol", "concur")
	require.NoError(t, err)
	paused, err = sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
}

type steppingClock struct{ t time.Time }

func (c *steppingClock) Now() time.Time { return c.t }

func TestClassBVotesClearedAfterTransition(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Pause(ctx, "bob", "suspicious activity")
	require.NoError(t, err)

	// A class A pause and resume happen in between.
	_, err = sys.Pause(ctx, "alice", "incident")
	require.NoError(t, err)
	_, err = sys.Resume(ctx, "alice", "resolved")
	require.NoError(t, err)

	// Bob's vote did not survive the pause cycle, so carol's is the
	// first of a fresh round.
	_, err = sys.Pause(ctx, "carol", "concur")
	require.NoError(t, err)
	paused, err := sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	_, err = sys.Pause(ctx, "bob", "still suspicious")
	require.NoError(t, err)
	paused, err = sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestClassBVotesExpire(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	signer, err := crypto.NewEd25519Signer("test")
	require.NoError(t, err)

	clk := &steppingClock{t: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
	sys := NewSystem(st, signer, WithClock(clk), WithVoteTTL(time.Hour))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "bob", Name: "Bob", Class: ClassB}))
	require.NoError(t, sys.AddGuardian(Guardian{GuardianID: "carol", Name: "Carol", Class: ClassB}))

	_, err = sys.Pause(ctx, "bob", "suspicious activity")
	require.NoError(t, err)

	clk.t = clk.t.Add(2 * time.Hour)

	// Bob's vote has aged out, so carol's does not complete the quorum.
	_, err = sys.Pause(ctx, "carol", "concur")
	require.NoError(t, err)
	paused, err := sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	_, err = sys.Pause(ctx, "bob", "again")
	require.NoError(t, err)
	paused, err = sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestObserverCannotPauseOrVeto(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Pause(ctx, "olga", "trying")
	assert.True(t, errors.Is(err, contracts.ErrUnauthorized))

	_, err = sys.Veto(ctx, "olga", "proposal-7", "trying")
	assert.True(t, errors.Is(err, contracts.ErrUnauthorized))
}

func TestUnknownGuardianRejected(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Pause(ctx, "mallory", "hi")
	assert.True(t, errors.Is(err, contracts.ErrUnauthorized))
}

func TestResumeLiftsPause(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Resume(ctx, "alice", "not paused yet")
	assert.True(t, errors.Is(err, contracts.ErrValidation))

	_, err = sys.Pause(ctx, "alice", "incident")
	require.NoError(t, err)

	action, err := sys.Resume(ctx, "alice", "resolved")
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardianResume, action.ActionType)

	paused, err := sys.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestVetoIsOneWay(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	assert.False(t, sys.IsVetoed("proposal-7"))

	action, err := sys.Veto(ctx, "bob", "proposal-7", "violates policy")
	require.NoError(t, err)
	assert.Equal(t, contracts.GuardianVeto, action.ActionType)
	assert.Equal(t, "proposal-7", action.TargetID)
	assert.True(t, sys.IsVetoed("proposal-7"))

	// No API exists to clear a veto; a second veto is a no-op flag-wise.
	_, err = sys.Veto(ctx, "alice", "proposal-7", "concur")
	require.NoError(t, err)
	assert.True(t, sys.IsVetoed("proposal-7"))

	_, err = sys.Veto(ctx, "bob", "", "no target")
	assert.True(t, errors.Is(err, contracts.ErrValidation))
}

func TestRecordBlockedAttempt(t *testing.T) {
	ctx := context.Background()
	sys, st, _ := newTestSystem(t)

	require.NoError(t, sys.RecordBlockedAttempt(ctx, "org1", "agent1", "generate"))

	actions, err := st.ListGuardianActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, contracts.GuardianBlocked, actions[0].ActionType)
	assert.Equal(t, "system", actions[0].GuardianID)
	assert.Equal(t, "org1/agent1", actions[0].TargetID)
	assert.NotEmpty(t, actions[0].Signature)
}

func TestStatusAggregation(t *testing.T) {
	ctx := context.Background()
	sys, _, _ := newTestSystem(t)

	_, err := sys.Veto(ctx, "bob", "p1", "r")
	require.NoError(t, err)
	_, err = sys.Pause(ctx, "alice", "r")
	require.NoError(t, err)

	st, err := sys.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, 4, st.TotalGuardians)
	assert.Equal(t, 1, st.ClassAGuardians)
	assert.Equal(t, 2, st.TotalActions)
	assert.Equal(t, 1, st.VetoCount)
	assert.InDelta(t, 0.5, st.VetoRate, 1e-9)
	assert.Len(t, st.Recent, 2)
}
