package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// SQLStore implements Store using database/sql.
// It runs on SQLite in lite mode; PostgresStore layers row locking on top.
type SQLStore struct {
	db        *sql.DB
	schema    string
	forUpdate string
	clock     func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, schema: schema, clock: time.Now}
}

const schema = `
CREATE TABLE IF NOT EXISTS negotiations (
	id TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	record_hash TEXT NOT NULL,
	head_hash TEXT NOT NULL,
	turn INTEGER NOT NULL,
	complete BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transitions (
	negotiation_id TEXT NOT NULL REFERENCES negotiations(id),
	turn INTEGER NOT NULL,
	caller TEXT NOT NULL,
	body TEXT NOT NULL,
	record_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	created_at TIMESTAMP,
	PRIMARY KEY (negotiation_id, turn)
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.schema)
	return err
}

func (s *SQLStore) Create(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if e.HeadHash == "" {
		e.HeadHash = GenesisHash
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	query := `
		INSERT INTO negotiations (id, record, record_hash, head_hash, turn, complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		e.ID, string(body), e.RecordHash, e.HeadHash, int64(e.Record.Turn), e.Record.Complete, e.CreatedAt, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Entry, error) {
	query := `SELECT id, record, record_hash, head_hash, created_at, updated_at FROM negotiations WHERE id = $1`
	return scanEntry(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e    Entry
		body string
	)
	if err := row.Scan(&e.ID, &body, &e.RecordHash, &e.HeadHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(body), &e.Record); err != nil {
		// Fail loud for integrity.
		return Entry{}, fmt.Errorf("corrupt record %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *SQLStore) Commit(ctx context.Context, id string, expectedTurn uint64, rec negotiation.Record, t Transition) (Transition, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Transition{}, fmt.Errorf("marshal record: %w", err)
	}
	proposal, err := json.Marshal(t.Proposal)
	if err != nil {
		return Transition{}, fmt.Errorf("marshal proposal: %w", err)
	}
	recordHash, err := RecordHash(rec)
	if err != nil {
		return Transition{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		turn int64
		head string
	)
	querySelect := `SELECT turn, head_hash FROM negotiations WHERE id = $1` + s.forUpdate
	if err := tx.QueryRowContext(ctx, querySelect, id).Scan(&turn, &head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transition{}, ErrNotFound
		}
		return Transition{}, err
	}
	if uint64(turn) != expectedTurn {
		return Transition{}, fmt.Errorf("%w: turn is %d, expected %d", ErrConflict, turn, expectedTurn)
	}

	t.NegotiationID = id
	t.Turn = expectedTurn
	t.RecordHash = recordHash
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}
	if err := Seal(&t, head); err != nil {
		return Transition{}, err
	}

	queryUpdate := `
		UPDATE negotiations
		SET record = $1, record_hash = $2, head_hash = $3, turn = $4, complete = $5, updated_at = $6
		WHERE id = $7 AND turn = $8
	`
	res, err := tx.ExecContext(ctx, queryUpdate,
		string(body), recordHash, t.Hash, int64(rec.Turn), rec.Complete, t.CreatedAt, id, turn,
	)
	if err != nil {
		return Transition{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Transition{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return Transition{}, ErrConflict
	}

	queryInsert := `
		INSERT INTO transitions (negotiation_id, turn, caller, body, record_hash, previous_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, queryInsert,
		id, int64(t.Turn), t.Caller.String(), string(proposal), t.RecordHash, t.PreviousHash, t.Hash, t.CreatedAt,
	); err != nil {
		return Transition{}, err
	}

	if err := tx.Commit(); err != nil {
		return Transition{}, err
	}
	return t, nil
}

func (s *SQLStore) Transitions(ctx context.Context, id string) ([]Transition, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	query := `
		SELECT turn, caller, body, record_hash, previous_hash, hash, created_at
		FROM transitions WHERE negotiation_id = $1 ORDER BY turn ASC
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Transition, 0)
	for rows.Next() {
		var (
			t            Transition
			turn         int64
			caller, body string
		)
		if err := rows.Scan(&turn, &caller, &body, &t.RecordHash, &t.PreviousHash, &t.Hash, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.NegotiationID = id
		t.Turn = uint64(turn)
		if t.Caller, err = negotiation.ParseIdentity(caller); err != nil {
			return nil, fmt.Errorf("corrupt transition %s/%d: %w", id, turn, err)
		}
		if err := json.Unmarshal([]byte(body), &t.Proposal); err != nil {
			return nil, fmt.Errorf("corrupt transition %s/%d: %w", id, turn, err)
		}
		t.Party = negotiation.TurnOwner(t.Turn)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Entry, error) {
	query := `SELECT id, record, record_hash, head_hash, created_at, updated_at FROM negotiations ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
