package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProofStep is one sibling on the path from leaf to root. Side says which
// side the sibling sits on: "L" or "R".
type ProofStep struct {
	Side        string `json:"side"`
	SiblingHash string `json:"sibling_hash"`
}

// InclusionProof is the externally verifiable half of the design: given
// the ordered leaf hashes and a trusted root, a third party can re-derive
// everything here.
type InclusionProof struct {
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Steps    []ProofStep `json:"proof_path"`
}

// Proof generates the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (InclusionProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return InclusionProof{}, fmt.Errorf("leaf index %d out of range [0,%d)", index, len(t.Leaves))
	}

	proof := InclusionProof{LeafHash: t.Leaves[index], Root: t.Root}
	idx := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		var step ProofStep
		if idx%2 == 0 {
			sibling := idx // duplicate-last rule when no right sibling
			if idx+1 < len(level) {
				sibling = idx + 1
			}
			step = ProofStep{Side: "R", SiblingHash: level[sibling]}
		} else {
			step = ProofStep{Side: "L", SiblingHash: level[idx-1]}
		}
		proof.Steps = append(proof.Steps, step)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a leaf hash and proof path and
// compares it against the expected root.
func VerifyProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && proof.Root != expectedRoot {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.Steps {
		var buf bytes.Buffer
		buf.WriteString(nodePrefix)
		buf.WriteByte(0)
		if step.Side == "L" {
			buf.Write(hexToBytes(step.SiblingHash))
			buf.Write(hexToBytes(current))
		} else {
			buf.Write(hexToBytes(current))
			buf.Write(hexToBytes(step.SiblingHash))
		}
		sum := sha256.Sum256(buf.Bytes())
		current = hex.EncodeToString(sum[:])
	}
	return current == proof.Root
}
