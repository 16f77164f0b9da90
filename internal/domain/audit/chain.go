package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainError reports the first entry whose hash linkage does not verify.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

// ComputeHash returns hex(sha256(PrevHash || canonical JSON of e without Hash)).
func ComputeHash(e Entry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain tracks the head of a hash chain. It is not safe for concurrent use;
// the owning log serializes access.
type Chain struct {
	seq  uint64
	head string
}

// NewChain starts an empty chain.
func NewChain() *Chain {
	return &Chain{head: GenesisHash}
}

// ResumeChain continues a chain whose last entry had seq and hash.
func ResumeChain(seq uint64, hash string) *Chain {
	if seq == 0 {
		return NewChain()
	}
	return &Chain{seq: seq, head: hash}
}

// Head returns the last sealed sequence number and hash.
func (c *Chain) Head() (uint64, string) {
	return c.seq, c.head
}

// Seal returns e linked after the current head. The chain itself does not
// move until Advance, so a failed write can be abandoned.
func (c *Chain) Seal(e Entry) (Entry, error) {
	e.Seq = c.seq + 1
	e.PrevHash = c.head
	hash, err := ComputeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash
	return e, nil
}

// Advance moves the head to a sealed entry that has been persisted.
func (c *Chain) Advance(e Entry) {
	c.seq = e.Seq
	c.head = e.Hash
}

// VerifyChain checks sequence numbering and hash linkage from genesis.
// It returns a *ChainError for the first bad entry.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		want := uint64(i + 1)
		if e.Seq != want {
			return &ChainError{Seq: want, Reason: fmt.Sprintf("found seq %d", e.Seq)}
		}
		if e.PrevHash != prev {
			return &ChainError{Seq: e.Seq, Reason: "prev_hash does not match predecessor"}
		}
		hash, err := ComputeHash(e)
		if err != nil {
			return &ChainError{Seq: e.Seq, Reason: err.Error()}
		}
		if hash != e.Hash {
			return &ChainError{Seq: e.Seq, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}
