// Package merkle builds binary hash trees over audit evidence. The
// root anchors an exported pack in one value; inclusion proofs let a
// holder show a single event belongs to a pack without shipping the
// whole trail.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Domain separation tags. Leaf and interior hashes use different
// prefixes so a leaf can never be replayed as a node.
const (
	leafTag = "drp:audit:leaf:v1"
	nodeTag = "drp:audit:node:v1"
)

// Tree is an immutable binary hash tree over an ordered leaf sequence.
// Levels with an odd node count duplicate their last hash, so every
// leaf has a sibling at every level.
type Tree struct {
	levels [][]string
	root   string
}

// Build hashes the given leaf payloads in order and folds them into a
// tree. An empty input yields a tree with an empty root.
func Build(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{}
	}

	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = leafHash(leaf)
	}

	t := &Tree{levels: [][]string{level}}
	for len(level) > 1 {
		level = nextLevel(level)
		t.levels = append(t.levels, level)
	}
	t.root = level[0]
	return t
}

// Root returns the tree root, empty for an empty tree.
func (t *Tree) Root() string {
	return t.root
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// LeafHash returns the hash of the leaf at the given index.
func (t *Tree) LeafHash(index int) (string, error) {
	if index < 0 || index >= t.Len() {
		return "", fault.Invalidf(fault.CodeBadInput, "leaf index %d outside [0, %d)", index, t.Len())
	}
	return t.levels[0][index], nil
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1])
	}
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func leafHash(leaf []byte) string {
	buf := make([]byte, 0, len(leafTag)+1+len(leaf))
	buf = append(buf, leafTag...)
	buf = append(buf, 0)
	buf = append(buf, leaf...)
	return sha256Hex(buf)
}

func nodeHash(left, right string) string {
	buf := make([]byte, 0, len(nodeTag)+1+64)
	buf = append(buf, nodeTag...)
	buf = append(buf, 0)
	buf = append(buf, hexToBytes(left)...)
	buf = append(buf, hexToBytes(right)...)
	return sha256Hex(buf)
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
