package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/microai-dao/trustcore/pkg/contracts"
)

// SQLStore implements Store on database/sql. It supports both Postgres
// and SQLite via standard drivers; the schema and placeholders are kept
// portable between the two.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS trust_events (
	event_id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	event_date TEXT NOT NULL,
	epi_score REAL,
	risk_tier INTEGER,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_window ON trust_events (org_id, event_date, event_id);
CREATE INDEX IF NOT EXISTS idx_events_agent ON trust_events (org_id, agent_id);

CREATE TABLE IF NOT EXISTS merkle_anchors (
	org_id TEXT NOT NULL,
	anchor_date TEXT NOT NULL,
	root_hash TEXT NOT NULL,
	event_count INTEGER NOT NULL,
	anchored_at TIMESTAMP NOT NULL,
	blockchain TEXT,
	tx_hash TEXT,
	block_number BIGINT,
	confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (org_id, anchor_date)
);

CREATE TABLE IF NOT EXISTS guardian_actions (
	action_id TEXT PRIMARY KEY,
	guardian_id TEXT NOT NULL,
	class TEXT NOT NULL,
	action_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	reason TEXT,
	signature TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pause_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	is_paused BOOLEAN NOT NULL,
	pause_reason TEXT,
	paused_by TEXT,
	paused_at TIMESTAMP
);
`

// Init creates the schema if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: schema init: %v", contracts.ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, ev contracts.TrustEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", contracts.ErrPersistence, err)
	}
	query := `
		INSERT INTO trust_events (event_id, org_id, agent_id, action_type, event_date, epi_score, risk_tier, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var score sql.NullFloat64
	if ev.EPIScore != nil {
		score = sql.NullFloat64{Float64: *ev.EPIScore, Valid: true}
	}
	var tier sql.NullInt64
	if ev.RiskTier != nil {
		tier = sql.NullInt64{Int64: int64(*ev.RiskTier), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, query,
		ev.EventID, ev.OrgID, ev.AgentID, ev.ActionType, ev.WindowDate(),
		score, tier, string(payload), ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: append event %s: %v", contracts.ErrPersistence, ev.EventID, err)
	}
	return nil
}

func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (contracts.TrustEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM trust_events WHERE event_id = $1`, eventID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.TrustEvent{}, fmt.Errorf("%w: event %s", contracts.ErrNotFound, eventID)
		}
		return contracts.TrustEvent{}, fmt.Errorf("%w: get event: %v", contracts.ErrPersistence, err)
	}
	return decodeEvent(payload)
}

// ReadEventsInWindow reads inside a transaction so the anchoring snapshot
// cannot race with concurrent appends claiming the same window.
func (s *SQLStore) ReadEventsInWindow(ctx context.Context, orgID, date string) ([]contracts.TrustEvent, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: begin window read: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT payload FROM trust_events WHERE org_id = $1 AND event_date = $2 ORDER BY event_id ASC`,
		orgID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: window read: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit window read: %v", contracts.ErrPersistence, err)
	}
	return events, nil
}

func (s *SQLStore) ListEventsByAgent(ctx context.Context, orgID, agentID string, limit int) ([]contracts.TrustEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM trust_events WHERE org_id = $1 AND agent_id = $2 ORDER BY event_id DESC LIMIT $3`,
		orgID, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list by agent: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (s *SQLStore) AppendAnchor(ctx context.Context, anchor contracts.MerkleAnchor) error {
	query := `
		INSERT INTO merkle_anchors (org_id, anchor_date, root_hash, event_count, anchored_at, blockchain, tx_hash, block_number, confirmed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	// block_number validity follows Confirmed so a legitimate block 0 is
	// kept, not collapsed into NULL.
	var block sql.NullInt64
	if anchor.Confirmed {
		block = sql.NullInt64{Int64: anchor.BlockNumber, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		anchor.OrgID, anchor.Date, anchor.RootHash, anchor.EventCount, anchor.AnchoredAt.UTC(),
		nullStr(anchor.Blockchain), nullStr(anchor.TxHash), block, anchor.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", contracts.ErrAlreadyAnchored, anchor.OrgID, anchor.Date, err)
	}
	return nil
}

const anchorColumns = `org_id, anchor_date, root_hash, event_count, anchored_at, blockchain, tx_hash, block_number, confirmed`

func (s *SQLStore) GetAnchor(ctx context.Context, orgID, date string) (contracts.MerkleAnchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM merkle_anchors WHERE org_id = $1 AND anchor_date = $2`,
		orgID, date,
	)
	anchor, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: anchor %s/%s", contracts.ErrNotFound, orgID, date)
	}
	return anchor, err
}

func (s *SQLStore) LatestAnchor(ctx context.Context, orgID string) (contracts.MerkleAnchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anchorColumns+` FROM merkle_anchors WHERE org_id = $1 ORDER BY anchor_date DESC LIMIT 1`,
		orgID,
	)
	anchor, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: no anchors for org %s", contracts.ErrNotFound, orgID)
	}
	return anchor, err
}

func (s *SQLStore) ListAnchors(ctx context.Context, orgID string) ([]contracts.MerkleAnchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM merkle_anchors WHERE org_id = $1 ORDER BY anchor_date ASC`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list anchors: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.MerkleAnchor, 0)
	for rows.Next() {
		anchor, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, anchor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list anchors: %v", contracts.ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLStore) ListUnconfirmedAnchors(ctx context.Context) ([]contracts.MerkleAnchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+anchorColumns+` FROM merkle_anchors WHERE confirmed = FALSE ORDER BY org_id, anchor_date`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list unconfirmed: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.MerkleAnchor, 0)
	for rows.Next() {
		anchor, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, anchor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list unconfirmed: %v", contracts.ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLStore) UpdateAnchorConfirmation(ctx context.Context, orgID, date, chain, txHash string, blockNumber int64) error {
	query := `
		UPDATE merkle_anchors
		SET blockchain = $1, tx_hash = $2, block_number = $3, confirmed = TRUE
		WHERE org_id = $4 AND anchor_date = $5
	`
	res, err := s.db.ExecContext(ctx, query, chain, txHash, blockNumber, orgID, date)
	if err != nil {
		return fmt.Errorf("%w: confirm anchor: %v", contracts.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: confirm anchor: %v", contracts.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: anchor %s/%s", contracts.ErrNotFound, orgID, date)
	}
	return nil
}

func (s *SQLStore) AppendGuardianAction(ctx context.Context, action contracts.GuardianAction) error {
	query := `
		INSERT INTO guardian_actions (action_id, guardian_id, class, action_type, target_id, reason, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		action.ActionID, action.GuardianID, action.Class, string(action.ActionType),
		action.TargetID, action.Reason, action.Signature, action.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: append guardian action: %v", contracts.ErrPersistence, err)
	}
	return nil
}

func (s *SQLStore) ListGuardianActions(ctx context.Context, limit int) ([]contracts.GuardianAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, guardian_id, class, action_type, target_id, reason, signature, created_at
		 FROM guardian_actions ORDER BY created_at DESC, action_id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list guardian actions: %v", contracts.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.GuardianAction, 0)
	for rows.Next() {
		var a contracts.GuardianAction
		var actionType string
		var reason sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&a.ActionID, &a.GuardianID, &a.Class, &actionType, &a.TargetID, &reason, &a.Signature, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan guardian action: %v", contracts.ErrPersistence, err)
		}
		a.ActionType = contracts.GuardianActionType(actionType)
		a.Reason = reason.String
		a.Timestamp = createdAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list guardian actions: %v", contracts.ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLStore) ReadPauseState(ctx context.Context) (contracts.PauseState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT is_paused, pause_reason, paused_by, paused_at FROM pause_state WHERE id = 1`,
	)
	var state contracts.PauseState
	var reason, by sql.NullString
	var at sql.NullTime
	if err := row.Scan(&state.IsPaused, &reason, &by, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.PauseState{}, nil // never paused yet
		}
		return contracts.PauseState{}, fmt.Errorf("%w: read pause state: %v", contracts.ErrPersistence, err)
	}
	state.PauseReason = reason.String
	state.PausedBy = by.String
	if at.Valid {
		t := at.Time.UTC()
		state.PausedAt = &t
	}
	return state, nil
}

func (s *SQLStore) WritePauseState(ctx context.Context, state contracts.PauseState) error {
	var at sql.NullTime
	if state.PausedAt != nil {
		at = sql.NullTime{Time: state.PausedAt.UTC(), Valid: true}
	}
	// Portable upsert on the singleton row.
	query := `
		INSERT INTO pause_state (id, is_paused, pause_reason, paused_by, paused_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			is_paused = EXCLUDED.is_paused,
			pause_reason = EXCLUDED.pause_reason,
			paused_by = EXCLUDED.paused_by,
			paused_at = EXCLUDED.paused_at
	`
	_, err := s.db.ExecContext(ctx, query,
		state.IsPaused, nullStr(state.PauseReason), nullStr(state.PausedBy), at,
	)
	if err != nil {
		return fmt.Errorf("%w: write pause state: %v", contracts.ErrPersistence, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnchor(row scannable) (contracts.MerkleAnchor, error) {
	var a contracts.MerkleAnchor
	var chain, tx sql.NullString
	var block sql.NullInt64
	var anchoredAt time.Time
	err := row.Scan(&a.OrgID, &a.Date, &a.RootHash, &a.EventCount, &anchoredAt, &chain, &tx, &block, &a.Confirmed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.MerkleAnchor{}, err
		}
		return contracts.MerkleAnchor{}, fmt.Errorf("%w: scan anchor: %v", contracts.ErrPersistence, err)
	}
	a.AnchoredAt = anchoredAt.UTC()
	a.Blockchain = chain.String
	a.TxHash = tx.String
	a.BlockNumber = block.Int64
	return a, nil
}

func scanEvents(rows *sql.Rows) ([]contracts.TrustEvent, error) {
	out := make([]contracts.TrustEvent, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", contracts.ErrPersistence, err)
		}
		ev, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", contracts.ErrPersistence, err)
	}
	return out, nil
}

func decodeEvent(payload string) (contracts.TrustEvent, error) {
	var ev contracts.TrustEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return contracts.TrustEvent{}, fmt.Errorf("%w: decode event payload: %v", contracts.ErrPersistence, err)
	}
	return ev, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLStore)(nil)
