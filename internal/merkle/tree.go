// v2
// internal/merkle/tree.go
// Package merkle builds binary hash trees over batches of reading hashes and
// produces the inclusion proofs that make anchored batches independently
// auditable.
//
// Pairing rule (fixed; external verifiers depend on it): siblings are
// concatenated left||right and hashed with SHA-256; a level with an odd
// number of nodes duplicates its last node. The root of a single-leaf batch
// is the leaf itself.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNoLeaves = errors.New("merkle: empty leaf set")

// Positions of a proof sibling relative to the running hash.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// HashLeaf maps a reading's canonical bytes to its hex leaf hash.
func HashLeaf(canonical []byte) string {
	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:])
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// Proof lets a verifier recompute the anchored root from one leaf.
type Proof struct {
	LeafHash    string      `json:"leafHash"`
	Siblings    []ProofStep `json:"siblings"`
	Root        string      `json:"root"`
	AnchorTxRef string      `json:"anchorTxRef,omitempty"`
}

// ComputeRoot folds the ordered leaf hashes into the tree root.
func ComputeRoot(leaves []string) (string, error) {
	level, err := decodeLeaves(leaves)
	if err != nil {
		return "", err
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return hex.EncodeToString(level[0]), nil
}

// BuildProof returns the sibling path for leaves[index].
func BuildProof(leaves []string, index int) (Proof, error) {
	level, err := decodeLeaves(leaves)
	if err != nil {
		return Proof{}, err
	}
	if index < 0 || index >= len(level) {
		return Proof{}, fmt.Errorf("merkle: index %d out of range for %d leaves", index, len(level))
	}

	proof := Proof{LeafHash: leaves[index]}
	pos := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if pos%2 == 0 {
			proof.Siblings = append(proof.Siblings, ProofStep{
				Hash:     hex.EncodeToString(level[pos+1]),
				Position: PositionRight,
			})
		} else {
			proof.Siblings = append(proof.Siblings, ProofStep{
				Hash:     hex.EncodeToString(level[pos-1]),
				Position: PositionLeft,
			})
		}
		level = nextLevel(level)
		pos /= 2
	}
	proof.Root = hex.EncodeToString(level[0])
	return proof, nil
}

// VerifyProof recomputes the root from a leaf hash and a sibling path.
func VerifyProof(leafHash string, siblings []ProofStep, root string) bool {
	cur, err := hex.DecodeString(leafHash)
	if err != nil || len(cur) != sha256.Size {
		return false
	}
	for _, step := range siblings {
		sib, err := hex.DecodeString(step.Hash)
		if err != nil || len(sib) != sha256.Size {
			return false
		}
		switch step.Position {
		case PositionLeft:
			cur = hashPair(sib, cur)
		case PositionRight:
			cur = hashPair(cur, sib)
		default:
			return false
		}
	}
	return hex.EncodeToString(cur) == root
}

func decodeLeaves(leaves []string) ([][]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	out := make([][]byte, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("merkle: leaf %d is not a hex sha-256 hash", i)
		}
		out[i] = b
	}
	return out, nil
}

func nextLevel(level [][]byte) [][]byte {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	parents := make([][]byte, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		parents = append(parents, hashPair(level[i], level[i+1]))
	}
	return parents
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
