// Package store persists negotiation records and their hash-chained
// transition receipts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

var (
	// ErrNotFound is returned when no negotiation exists under an id.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("store: negotiation exists")
	// ErrConflict is returned by Commit when the stored turn no longer
	// matches the turn the caller read.
	ErrConflict = errors.New("store: conflicting update")
)

// GenesisHash seeds every transition chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a stored negotiation.
type Entry struct {
	ID     string             `json:"id"`
	Record negotiation.Record `json:"record"`
	// RecordHash is the canonical hash of Record.
	RecordHash string `json:"record_hash"`
	// HeadHash is the hash of the latest transition, or GenesisHash.
	HeadHash  string    `json:"head_hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is the receipt of one accepted proposal.
type Transition struct {
	NegotiationID string               `json:"negotiation_id"`
	Turn          uint64               `json:"turn"`
	Caller        negotiation.Identity `json:"caller"`
	Party         negotiation.Party    `json:"party"`
	Proposal      negotiation.Proposal `json:"proposal"`
	RecordHash    string               `json:"record_hash"`
	PreviousHash  string               `json:"previous_hash"`
	Hash          string               `json:"hash"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Store is the durable interface for negotiation records.
type Store interface {
	// Create persists a new entry. The id must be unused.
	Create(ctx context.Context, e Entry) error

	// Get retrieves an entry by id.
	Get(ctx context.Context, id string) (Entry, error)

	// Commit replaces the record of id with rec and appends t to its
	// transition chain, provided the stored turn still equals expectedTurn.
	// The returned transition carries its chain hashes.
	Commit(ctx context.Context, id string, expectedTurn uint64, rec negotiation.Record, t Transition) (Transition, error)

	// Transitions returns the receipts of id in turn order.
	Transitions(ctx context.Context, id string) ([]Transition, error)

	// List returns every stored entry, oldest first.
	List(ctx context.Context) ([]Entry, error)
}

// Initializer is implemented by stores that need schema setup.
type Initializer interface {
	Init(ctx context.Context) error
}
