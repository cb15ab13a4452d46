// Package attest issues signed statements binding a release or model
// version to an anchored log root and policy version, for external audit.
// Attestations require a settled anchor, one confirmed on at least one
// chain, because attestations face external auditors.
package attest

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/crypto"
)

// Clock is injected for deterministic tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Request describes one attestation to issue.
type Request struct {
	ModelID       string
	Version       string
	PolicyVersion string
	Anchor        contracts.MerkleAnchor
	ExpiresAt     *time.Time
}

// Generator assembles and signs attestations.
type Generator struct {
	signer *crypto.Ed25519Signer
	issuer string
	clock  Clock
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// NewGenerator builds a generator issuing under the given identity.
func NewGenerator(signer *crypto.Ed25519Signer, issuer string, opts ...Option) *Generator {
	g := &Generator{signer: signer, issuer: issuer, clock: wallClock{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Attest issues an attestation for a release against a settled anchor.
func (g *Generator) Attest(req Request) (contracts.Attestation, error) {
	if _, err := semver.NewVersion(req.Version); err != nil {
		return contracts.Attestation{}, fmt.Errorf("%w: version %q is not valid semver: %v", contracts.ErrValidation, req.Version, err)
	}
	if req.PolicyVersion == "" {
		return contracts.Attestation{}, fmt.Errorf("%w: policy_version is required", contracts.ErrValidation)
	}
	if !req.Anchor.Confirmed {
		return contracts.Attestation{}, fmt.Errorf("%w: anchor %s/%s is not settled on any chain", contracts.ErrValidation, req.Anchor.OrgID, req.Anchor.Date)
	}

	att := contracts.Attestation{
		AttestationID: uuid.New().String(),
		ModelID:       req.ModelID,
		Version:       req.Version,
		LogRoot:       req.Anchor.RootHash,
		PolicyVersion: req.PolicyVersion,
		Issuer:        g.issuer,
		IssuedAt:      g.clock.Now().UTC(),
		ExpiresAt:     req.ExpiresAt,
	}

	unsigned := att
	unsigned.Signature = ""
	payload, err := crypto.Canonical(unsigned)
	if err != nil {
		return contracts.Attestation{}, err
	}
	sig, err := g.signer.Sign(payload)
	if err != nil {
		return contracts.Attestation{}, fmt.Errorf("sign attestation: %w", err)
	}
	att.Signature = sig
	return att, nil
}

// JWT renders an attestation as an EdDSA-signed token that external
// auditors can verify against the issuer's public key.
func (g *Generator) JWT(att contracts.Attestation) (string, error) {
	claims := jwt.MapClaims{
		"jti":            att.AttestationID,
		"iss":            att.Issuer,
		"iat":            att.IssuedAt.Unix(),
		"version":        att.Version,
		"log_root":       att.LogRoot,
		"policy_version": att.PolicyVersion,
	}
	if att.ModelID != "" {
		claims["model_id"] = att.ModelID
	}
	if att.ExpiresAt != nil {
		claims["exp"] = att.ExpiresAt.Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(g.signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign attestation jwt: %w", err)
	}
	return signed, nil
}

// Verify checks an attestation's signature against a public key.
func Verify(att contracts.Attestation, pubKeyHex string) (bool, error) {
	unsigned := att
	unsigned.Signature = ""
	payload, err := crypto.Canonical(unsigned)
	if err != nil {
		return false, err
	}
	return crypto.Verify(pubKeyHex, att.Signature, payload)
}
