package store

import (
	"errors"
	"fmt"

	"github.com/tome-gg/negotiation-protocols/pkg/canonicalize"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// ErrChainBroken is returned by VerifyChain when a receipt does not link
// to its predecessor or its hash does not match its contents.
var ErrChainBroken = errors.New("store: transition chain broken")

// RecordHash returns the canonical hash of a record.
func RecordHash(rec negotiation.Record) (string, error) {
	return canonicalize.CanonicalHash(rec)
}

// hashBody is the part of a transition covered by its hash. Timestamps are
// excluded so that database round trips cannot alter it.
type hashBody struct {
	NegotiationID string               `json:"negotiation_id"`
	Turn          uint64               `json:"turn"`
	Caller        negotiation.Identity `json:"caller"`
	Party         negotiation.Party    `json:"party"`
	Proposal      negotiation.Proposal `json:"proposal"`
	RecordHash    string               `json:"record_hash"`
}

// ComputeHash returns the chain hash of t given its PreviousHash.
func (t Transition) ComputeHash() (string, error) {
	payload, err := canonicalize.CanonicalHash(hashBody{
		NegotiationID: t.NegotiationID,
		Turn:          t.Turn,
		Caller:        t.Caller,
		Party:         t.Party,
		Proposal:      t.Proposal,
		RecordHash:    t.RecordHash,
	})
	if err != nil {
		return "", fmt.Errorf("hash transition: %w", err)
	}
	return canonicalize.ChainHash(t.PreviousHash, payload), nil
}

// Seal links t to prev and fills in its hash.
func Seal(t *Transition, prev string) error {
	t.PreviousHash = prev
	h, err := t.ComputeHash()
	if err != nil {
		return err
	}
	t.Hash = h
	return nil
}

// VerifyChain checks that ts forms an unbroken chain from GenesisHash in
// turn order ending at head. An empty head skips the final comparison.
func VerifyChain(ts []Transition, head string) error {
	prev := GenesisHash
	for i, t := range ts {
		if t.Turn != uint64(i+1) {
			return fmt.Errorf("%w: receipt %d has turn %d", ErrChainBroken, i, t.Turn)
		}
		if t.PreviousHash != prev {
			return fmt.Errorf("%w: turn %d does not link to its predecessor", ErrChainBroken, t.Turn)
		}
		want, err := t.ComputeHash()
		if err != nil {
			return err
		}
		if want != t.Hash {
			return fmt.Errorf("%w: turn %d hash mismatch", ErrChainBroken, t.Turn)
		}
		prev = t.Hash
	}
	if head != "" && head != prev {
		return fmt.Errorf("%w: head %s does not match last receipt", ErrChainBroken, head)
	}
	return nil
}
