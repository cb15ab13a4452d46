package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStoreAppendEvent(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	score := 0.82
	tier := 2
	ev := testEvent("ev-1", "org1", "agent1", ts)
	ev.EPIScore = &score
	ev.RiskTier = &tier

	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trust_events")).
		WithArgs("ev-1", "org1", "agent1", "generate", "2026-08-30",
			sqlmock.AnyArg(), sqlmock.AnyArg(), string(payload), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.AppendEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetEvent(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	ev := testEvent("ev-1", "org1", "agent1", ts)
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM trust_events WHERE event_id = $1")).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))

	got, err := s.GetEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, ev.Signature, got.Signature)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetEventNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM trust_events")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := s.GetEvent(context.Background(), "missing")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreWindowReadUsesTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	ev1 := testEvent("ev-1", "org1", "a", ts)
	ev2 := testEvent("ev-2", "org1", "b", ts)
	p1, _ := json.Marshal(ev1)
	p2, _ := json.Marshal(ev2)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM trust_events WHERE org_id = $1 AND event_date = $2 ORDER BY event_id ASC")).
		WithArgs("org1", "2026-08-30").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(p1)).AddRow(string(p2)))
	mock.ExpectCommit()

	events, err := s.ReadEventsInWindow(context.Background(), "org1", "2026-08-30")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendAnchorDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO merkle_anchors")).
		WillReturnError(errors.New("duplicate key value violates unique constraint"))

	err := s.AppendAnchor(context.Background(), contracts.MerkleAnchor{
		OrgID: "org1", Date: "2026-08-29", RootHash: "r", AnchoredAt: time.Now(),
	})
	assert.True(t, errors.Is(err, contracts.ErrAlreadyAnchored))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendAnchorKeepsGenesisBlock(t *testing.T) {
	s, mock := newMockStore(t)

	// A confirmed anchor at block 0 writes 0, not NULL.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO merkle_anchors")).
		WithArgs("org1", "2026-08-29", "r", 3, sqlmock.AnyArg(), "polygon", "0xdead", int64(0), true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.AppendAnchor(context.Background(), contracts.MerkleAnchor{
		OrgID: "org1", Date: "2026-08-29", RootHash: "r", EventCount: 3,
		AnchoredAt: time.Now(), Blockchain: "polygon", TxHash: "0xdead",
		BlockNumber: 0, Confirmed: true,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendAnchorUnconfirmedBlockIsNull(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO merkle_anchors")).
		WithArgs("org1", "2026-08-29", "r", 3, sqlmock.AnyArg(), nil, nil, nil, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.AppendAnchor(context.Background(), contracts.MerkleAnchor{
		OrgID: "org1", Date: "2026-08-29", RootHash: "r", EventCount: 3,
		AnchoredAt: time.Now(),
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListAnchors(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"org_id", "anchor_date", "root_hash", "event_count", "anchored_at", "blockchain", "tx_hash", "block_number", "confirmed"}
	at := time.Date(2026, 8, 31, 0, 5, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT org_id, anchor_date, root_hash, event_count, anchored_at, blockchain, tx_hash, block_number, confirmed FROM merkle_anchors WHERE org_id = $1 ORDER BY anchor_date ASC")).
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("org1", "2026-08-29", "r1", 2, at, "polygon", "0x1", int64(0), true).
			AddRow("org1", "2026-08-30", "r2", 3, at, nil, nil, nil, false))

	anchors, err := s.ListAnchors(context.Background(), "org1")
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.Equal(t, "2026-08-29", anchors[0].Date)
	assert.True(t, anchors[0].Confirmed)
	assert.Equal(t, int64(0), anchors[0].BlockNumber)
	assert.Equal(t, "2026-08-30", anchors[1].Date)
	assert.False(t, anchors[1].Confirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreUpdateAnchorConfirmation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE merkle_anchors")).
		WithArgs("polygon", "0xabc", int64(42), "org1", "2026-08-29").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateAnchorConfirmation(context.Background(), "org1", "2026-08-29", "polygon", "0xabc", 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreUpdateAnchorConfirmationMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE merkle_anchors")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAnchorConfirmation(context.Background(), "org1", "2026-01-01", "polygon", "0x", 1)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreReadPauseStateEmptyTable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_paused, pause_reason, paused_by, paused_at FROM pause_state")).
		WillReturnRows(sqlmock.NewRows([]string{"is_paused", "pause_reason", "paused_by", "paused_at"}))

	state, err := s.ReadPauseState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsPaused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreWritePauseStateUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pause_state")).
		WithArgs(true, "incident", "g1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.WritePauseState(context.Background(), contracts.PauseState{
		IsPaused:    true,
		PauseReason: "incident",
		PausedBy:    "g1",
		PausedAt:    &now,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
