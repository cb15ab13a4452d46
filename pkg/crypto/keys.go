package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveOrgSigner derives a deterministic per-org Ed25519 signer from a
// master seed via HKDF-SHA256. Isolating keys per org keeps one tenant's
// signatures unverifiable against another tenant's public key.
func DeriveOrgSigner(masterSeed []byte, orgID string) (*Ed25519Signer, error) {
	if len(masterSeed) < 32 {
		return nil, fmt.Errorf("master seed must be at least 32 bytes, got %d", len(masterSeed))
	}
	r := hkdf.New(sha256.New, masterSeed, []byte("trustcore:org-signing:v1"), []byte(orgID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return NewEd25519SignerFromKey(priv, "org-"+orgID), nil
}
