package contracts

import "errors"

// Error taxonomy. Callers match with errors.Is; packages wrap these with
// operation context via fmt.Errorf("...: %w", err).
var (
	// ErrValidation marks malformed scoring/classification input. Local,
	// never retried, never reaches persisted state.
	ErrValidation = errors.New("validation failed")

	// ErrSystemPaused marks an action blocked by the guardian gate.
	// Retrying without a resume is meaningless.
	ErrSystemPaused = errors.New("system is paused")

	// ErrPersistence marks a log or anchor write failure. The record is
	// not considered durable; callers may retry with backoff.
	ErrPersistence = errors.New("persistence failure")

	// ErrChainSubmission marks an anchoring transport failure. The root
	// is already durable locally, so only anchoring is delayed.
	ErrChainSubmission = errors.New("chain submission failed")

	// ErrVerificationMismatch marks a recomputed root that differs from
	// the claimed root. Reported as a tamper/inconsistency finding.
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrUnauthorized marks a guardian operation attempted without the
	// required class or quorum.
	ErrUnauthorized = errors.New("guardian not authorized")

	ErrNotFound        = errors.New("not found")
	ErrEmptyWindow     = errors.New("window contains no events")
	ErrAlreadyAnchored = errors.New("window already anchored")
)
