package api

import (
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
	"github.com/tome-gg/negotiation-protocols/pkg/store"
)

// SetupRequest opens a negotiation with the caller as initiator.
type SetupRequest struct {
	Counterparty negotiation.Identity `json:"counterparty"`
}

// ProposalRequest is a proposal plus an optional optimistic turn guard.
type ProposalRequest struct {
	negotiation.Proposal
	ExpectedTurn *uint64 `json:"expected_turn,omitempty"`
}

// ProposalResponse is returned for an applied proposal.
type ProposalResponse struct {
	Record     RecordView       `json:"record"`
	Transition store.Transition `json:"transition"`
	Settlement string           `json:"settlement,omitempty"`
}

// TransitionsResponse lists receipts in turn order.
type TransitionsResponse struct {
	ID          string             `json:"id"`
	Transitions []store.Transition `json:"transitions"`
}

// ListResponse lists the caller's negotiations.
type ListResponse struct {
	Negotiations []RecordView `json:"negotiations"`
}

// VerifyResponse reports a negotiation's integrity check.
type VerifyResponse struct {
	ID       string `json:"id"`
	Verified bool   `json:"verified"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ElementView is the public state of one element.
type ElementView struct {
	Element  negotiation.Element  `json:"element"`
	Value    negotiation.Value    `json:"value,omitempty"`
	Display  string               `json:"display,omitempty"`
	Maturity negotiation.Maturity `json:"maturity"`
	By       negotiation.Party    `json:"by,omitempty"`
	Author   negotiation.Party    `json:"author,omitempty"`
	Endorsed [2]bool              `json:"endorsed"`
}

// RecordView is the public state of a negotiation.
type RecordView struct {
	ID           string                 `json:"id"`
	Version      uint8                  `json:"version"`
	Initiator    negotiation.Identity   `json:"initiator"`
	Counterparty negotiation.Identity   `json:"counterparty"`
	Turn         uint64                 `json:"turn"`
	Owner        *negotiation.Identity  `json:"owner,omitempty"`
	State        negotiation.State      `json:"state"`
	IsComplete   bool                   `json:"is_complete"`
	Elements     []ElementView          `json:"elements"`
	AltProtocol  *negotiation.Alternate `json:"alt_protocol,omitempty"`
	AltTerm      *negotiation.Alternate `json:"alt_term,omitempty"`
	RecordHash   string                 `json:"record_hash"`
	HeadHash     string                 `json:"head_hash"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewRecordView renders a stored entry.
func NewRecordView(e store.Entry) RecordView {
	rec := e.Record
	v := RecordView{
		ID:           e.ID,
		Version:      rec.Version,
		Initiator:    rec.Initiator(),
		Counterparty: rec.Counterparty(),
		Turn:         rec.Turn,
		State:        rec.State(),
		IsComplete:   rec.Complete,
		AltProtocol:  rec.AltProtocol,
		AltTerm:      rec.AltTerm,
		RecordHash:   e.RecordHash,
		HeadHash:     e.HeadHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if !rec.Complete {
		owner := rec.Owner()
		v.Owner = &owner
	}
	for _, el := range negotiation.Elements {
		s := rec.Element(el)
		v.Elements = append(v.Elements, ElementView{
			Element:  el,
			Value:    s.Value,
			Display:  s.Value.Display(el),
			Maturity: s.Maturity,
			By:       s.By,
			Author:   s.Author,
			Endorsed: s.Endorsed,
		})
	}
	return v
}

func newVerifyResponse(id string, err error) VerifyResponse {
	if err == nil {
		return VerifyResponse{ID: id, Verified: true}
	}
	return VerifyResponse{ID: id, Code: ledger.ErrorCode(err), Error: err.Error()}
}
