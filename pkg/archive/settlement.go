package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/tome-gg/negotiation-protocols/pkg/canonicalize"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// ErrNotSettled is returned when building a settlement from an open record.
var ErrNotSettled = errors.New("archive: negotiation not complete")

// SettledElement is the agreed value of one element.
type SettledElement struct {
	Element    negotiation.Element `json:"element"`
	Value      negotiation.Value   `json:"value"`
	Display    string              `json:"display"`
	AcceptedBy negotiation.Party   `json:"accepted_by"`
}

// Settlement is the archived summary of a completed negotiation.
type Settlement struct {
	NegotiationID string                 `json:"negotiation_id"`
	Initiator     negotiation.Identity   `json:"initiator"`
	Counterparty  negotiation.Identity   `json:"counterparty"`
	Turns         uint64                 `json:"turns"`
	Elements      []SettledElement       `json:"elements"`
	RecordHash    string                 `json:"record_hash"`
	HeadHash      string                 `json:"head_hash"`
	AltProtocol   *negotiation.Alternate `json:"alt_protocol,omitempty"`
	AltTerm       *negotiation.Alternate `json:"alt_term,omitempty"`
}

// NewSettlement summarizes a completed record. headHash is the hash of the
// transition that completed it.
func NewSettlement(id string, rec negotiation.Record, recordHash, headHash string) (Settlement, error) {
	if !rec.Complete {
		return Settlement{}, fmt.Errorf("%w: %s", ErrNotSettled, id)
	}
	s := Settlement{
		NegotiationID: id,
		Initiator:     rec.Initiator(),
		Counterparty:  rec.Counterparty(),
		Turns:         rec.Turn - 1,
		RecordHash:    recordHash,
		HeadHash:      headHash,
		AltProtocol:   rec.AltProtocol,
		AltTerm:       rec.AltTerm,
	}
	for _, e := range negotiation.Elements {
		st := rec.Element(e)
		s.Elements = append(s.Elements, SettledElement{
			Element:    e,
			Value:      st.Value,
			Display:    st.Value.Display(e),
			AcceptedBy: st.By,
		})
	}
	return s, nil
}

// Publish writes the canonical JSON of s to a and returns its digest.
func Publish(ctx context.Context, a Archive, s Settlement) (string, error) {
	doc, err := canonicalize.JCS(s)
	if err != nil {
		return "", fmt.Errorf("encode settlement: %w", err)
	}
	return a.Put(ctx, doc)
}
