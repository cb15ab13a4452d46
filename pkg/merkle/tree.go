// Package merkle builds the deterministic binary hash tree anchoring one
// window of trust events. Leaves are SHA-256 digests of the full signed
// event bytes with domain separation; any verifier holding the ordered
// leaf list can reproduce the root byte-for-byte.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain separation prefixes. Leaf and interior node hashes use distinct
// prefixes so a leaf can never be replayed as an interior node.
const (
	leafPrefix = "trust:event:leaf:v1"
	nodePrefix = "trust:event:node:v1"
)

// Tree holds the leaf hashes and every computed level, leaves first.
type Tree struct {
	Leaves []string
	Levels [][]string
	Root   string
}

// LeafHash computes the leaf digest over the canonical bytes of a signed
// trust event.
func LeafHash(eventBytes []byte) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.Write(eventBytes)
	return sha256Hex(buf.Bytes())
}

// Build constructs the tree from ordered leaf hashes. The caller supplies
// leaves already ordered by event_id ascending; tie-break rule for an odd
// level is duplicating the last node. Verifiers must replicate both rules.
func Build(leafHashes []string) (*Tree, error) {
	if len(leafHashes) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty leaf set")
	}

	t := &Tree{Leaves: append([]string(nil), leafHashes...)}
	level := t.Leaves
	for len(level) > 1 {
		t.Levels = append(t.Levels, level)
		level = nextLevel(level)
	}
	t.Levels = append(t.Levels, level)
	t.Root = level[0]
	return t, nil
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(append([]string(nil), hashes...), hashes[len(hashes)-1])
	}
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
