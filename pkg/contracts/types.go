// Package contracts defines the shared record types of the trust engine.
// Everything here is serialized as JSON, both for persistence and for the
// canonical byte form that signatures and Merkle leaves are computed over.
package contracts

import "time"

// ActionDescriptor describes one proposed agent action. It is ephemeral:
// the raw payloads are hashed at log time and never persisted.
type ActionDescriptor struct {
	OrgID      string `json:"org_id"`
	AgentID    string `json:"agent_id"`
	ActionType string `json:"action_type"`
	Model      string `json:"model,omitempty"`
	Input      []byte `json:"-"`
	Output     []byte `json:"-"`

	// EventID may be supplied by the caller for idempotent retries.
	// When empty, the logger assigns a fresh one.
	EventID string `json:"event_id,omitempty"`

	ToolsCalled []string     `json:"tools_called,omitempty"`
	Redactions  []string     `json:"redactions,omitempty"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
}

// Evaluation is a single policy evaluator result attached to an event.
type Evaluation struct {
	Evaluator  string  `json:"evaluator"`
	Category   string  `json:"category"` // PII, Safety, Bias, Copyright, Jailbreak
	Result     string  `json:"result"`   // pass, fail, redacted
	Confidence float64 `json:"confidence"`
}

// TrustEvent is a signed, immutable record of one agent action. Once
// persisted it is append-only: no update or delete path exists.
type TrustEvent struct {
	EventID       string       `json:"event_id"`
	Timestamp     time.Time    `json:"timestamp"`
	OrgID         string       `json:"org_id"`
	AgentID       string       `json:"agent_id"`
	ActionType    string       `json:"action_type"`
	Model         string       `json:"model,omitempty"`
	InputHash     string       `json:"input_hash"`
	OutputHash    string       `json:"output_hash"`
	PolicyVersion string       `json:"policy_version"`
	EPIScore      *float64     `json:"epi_score"`
	RiskTier      *int         `json:"risk_tier"`
	ToolsCalled   []string     `json:"tools_called"`
	Redactions    []string     `json:"redactions"`
	Evaluations   []Evaluation `json:"evaluations"`

	// Signature covers the JCS canonical form of all fields above.
	Signature     string `json:"signature"`
	SignatureType string `json:"signature_type,omitempty"`
}

// WindowDate returns the UTC calendar day the event belongs to, which is
// the batching key for Merkle anchoring.
func (e TrustEvent) WindowDate() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}

// MerkleAnchor is the root over one day's events for one org. At most one
// anchor exists per (org_id, date); the window is sealed at batch time and
// the root is never recomputed.
type MerkleAnchor struct {
	OrgID      string    `json:"org_id"`
	Date       string    `json:"date"` // YYYY-MM-DD, UTC
	RootHash   string    `json:"root_hash"`
	EventCount int       `json:"event_count"`
	AnchoredAt time.Time `json:"anchored_at"`

	// Confirmation fields stay empty until on-chain settlement.
	Blockchain  string `json:"blockchain,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber int64  `json:"block_number,omitempty"`
	Confirmed   bool   `json:"confirmed"`
}

// Attestation binds a release to an anchored log root and policy version.
type Attestation struct {
	AttestationID string     `json:"attestation_id"`
	ModelID       string     `json:"model_id,omitempty"`
	Version       string     `json:"version"`
	LogRoot       string     `json:"log_root"`
	PolicyVersion string     `json:"policy_version"`
	Issuer        string     `json:"issuer"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Signature     string     `json:"signature"`
}

// GuardianActionType enumerates the recorded guardian operations.
type GuardianActionType string

const (
	GuardianVeto    GuardianActionType = "veto"
	GuardianPause   GuardianActionType = "pause"
	GuardianResume  GuardianActionType = "resume"
	GuardianApprove GuardianActionType = "approve"
	GuardianUpgrade GuardianActionType = "upgrade"

	// GuardianBlocked records a log attempt rejected by an active pause,
	// so that silence during a pause is never mistaken for success.
	GuardianBlocked GuardianActionType = "blocked_attempt"
)

// GuardianAction is an immutable record of one guardian operation, signed
// with the same discipline as TrustEvent.
type GuardianAction struct {
	ActionID   string             `json:"action_id"`
	GuardianID string             `json:"guardian_id"`
	Class      string             `json:"class"`
	ActionType GuardianActionType `json:"action_type"`
	TargetID   string             `json:"target_id"`
	Reason     string             `json:"reason"`
	Timestamp  time.Time          `json:"timestamp"`
	Signature  string             `json:"signature"`
}

// PauseState is the singleton system-wide pause flag. It is mutated only
// through guardian actions and must be read fresh before every gate check.
type PauseState struct {
	IsPaused    bool       `json:"is_paused"`
	PauseReason string     `json:"pause_reason,omitempty"`
	PausedBy    string     `json:"paused_by,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
}
