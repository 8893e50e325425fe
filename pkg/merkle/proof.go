package merkle

import (
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// InclusionProof carries the sibling path from one leaf to the root.
// A verifier needs only the leaf payload's hash and a trusted root.
type InclusionProof struct {
	LeafIndex int         `json:"leaf_index"`
	LeafHash  string      `json:"leaf_hash"`
	Root      string      `json:"root"`
	Path      []ProofStep `json:"path"`
}

// ProofStep is one level of the path. Side says where the sibling
// stands relative to the running hash: "L" or "R".
type ProofStep struct {
	Side    string `json:"side"`
	Sibling string `json:"sibling"`
}

// Prove builds the inclusion proof for the leaf at index.
func (t *Tree) Prove(index int) (InclusionProof, error) {
	if index < 0 || index >= t.Len() {
		return InclusionProof{}, fault.Invalidf(fault.CodeBadInput, "leaf index %d outside [0, %d)", index, t.Len())
	}

	proof := InclusionProof{
		LeafIndex: index,
		LeafHash:  t.levels[0][index],
		Root:      t.root,
	}

	i := index
	for _, level := range t.levels {
		if len(level) == 1 {
			break
		}
		sibling := i ^ 1
		if sibling >= len(level) {
			// Odd level: the last hash was duplicated, so the node is
			// its own sibling.
			sibling = i
		}
		side := "R"
		if sibling < i {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, Sibling: level[sibling]})
		i /= 2
	}
	return proof, nil
}

// Verify recomputes the path bottom-up and reports whether it lands on
// expectedRoot. An empty expectedRoot trusts the root embedded in the
// proof, which only makes sense when the proof came over an
// authenticated channel.
func Verify(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot == "" {
		expectedRoot = proof.Root
	}
	if proof.Root != expectedRoot {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.Path {
		if step.Side == "L" {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == expectedRoot
}
