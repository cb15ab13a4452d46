package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalOrdersKeys(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := Canonical(map[string]any{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(a))
}

func TestCanonicalHashStable(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	h1, err := CanonicalHash(record{Name: "x", Value: 1})
	require.NoError(t, err)
	h2, err := CanonicalHash(record{Name: "x", Value: 1})
	require.NoError(t, err)
	h3, err := CanonicalHash(record{Name: "x", Value: 2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestHashContentPrefix(t *testing.T) {
	sum := sha256.Sum256([]byte("payload"))
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), HashContent([]byte("payload")))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", signer.KeyID())
	assert.Equal(t, "ed25519:k1", signer.SignatureType())

	data := []byte("canonical bytes")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(signer.PublicKey(), sig, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.PublicKey(), sig, []byte("other bytes"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify("zzzz", sig, data)
	assert.Error(t, err)
	_, err = Verify(signer.PublicKey(), "zzzz", data)
	assert.Error(t, err)
	_, err = Verify("aabb", sig, data)
	assert.Error(t, err, "short key must be rejected")
}

func TestDeriveOrgSignerDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)

	s1, err := DeriveOrgSigner(seed, "org1")
	require.NoError(t, err)
	s2, err := DeriveOrgSigner(seed, "org1")
	require.NoError(t, err)
	other, err := DeriveOrgSigner(seed, "org2")
	require.NoError(t, err)

	assert.Equal(t, s1.PublicKey(), s2.PublicKey())
	assert.NotEqual(t, s1.PublicKey(), other.PublicKey())
	assert.Equal(t, "org-org1", s1.KeyID())

	// One org's signature never verifies under another org's key.
	sig, err := s1.Sign([]byte("data"))
	require.NoError(t, err)
	ok, err := Verify(other.PublicKey(), sig, []byte("data"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeriveOrgSignerRejectsShortSeed(t *testing.T) {
	_, err := DeriveOrgSigner([]byte("short"), "org1")
	assert.Error(t, err)
}
