package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

func TestSQLStore_CreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	e := newEntry(t, "neg-1")

	mock.ExpectExec("INSERT INTO negotiations .* ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("neg-1", sqlmock.AnyArg(), e.RecordHash, GenesisHash, int64(1), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Create(context.Background(), e), ErrExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitLocksRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresStore(db)
	e := newEntry(t, "neg-1")
	rec, tr := step(t, e.Record, alice, negotiation.Proposal{Protocol: negotiation.WithIdentity(proto)})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT turn, head_hash FROM negotiations WHERE id = \$1 FOR UPDATE`).
		WithArgs("neg-1").
		WillReturnRows(sqlmock.NewRows([]string{"turn", "head_hash"}).AddRow(int64(1), GenesisHash))
	mock.ExpectExec("UPDATE negotiations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transitions").
		WithArgs("neg-1", int64(1), alice.String(), sqlmock.AnyArg(), sqlmock.AnyArg(), GenesisHash, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sealed, err := s.Commit(context.Background(), "neg-1", 1, rec, tr)
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, sealed.PreviousHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitStaleTurn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresStore(db)
	e := newEntry(t, "neg-1")
	rec, tr := step(t, e.Record, alice, negotiation.Proposal{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT turn, head_hash FROM negotiations .* FOR UPDATE`).
		WithArgs("neg-1").
		WillReturnRows(sqlmock.NewRows([]string{"turn", "head_hash"}).AddRow(int64(3), "abc"))
	mock.ExpectRollback()

	_, err = s.Commit(context.Background(), "neg-1", 1, rec, tr)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CommitLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db)
	e := newEntry(t, "neg-1")
	rec, tr := step(t, e.Record, alice, negotiation.Proposal{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT turn, head_hash FROM negotiations WHERE id = \$1`).
		WithArgs("neg-1").
		WillReturnRows(sqlmock.NewRows([]string{"turn", "head_hash"}).AddRow(int64(1), GenesisHash))
	mock.ExpectExec("UPDATE negotiations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = s.Commit(context.Background(), "neg-1", 1, rec, tr)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetCorruptRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM negotiations WHERE id").
		WithArgs("neg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "record", "record_hash", "head_hash", "created_at", "updated_at"}).
			AddRow("neg-1", "{broken", "h", GenesisHash, now, now))

	_, err = NewSQLStore(db).Get(context.Background(), "neg-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt record")
}

func TestSQLStore_PropagatesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT .* FROM negotiations ORDER BY created_at").WillReturnError(boom)

	_, err = NewSQLStore(db).List(context.Background())
	assert.ErrorIs(t, err, boom)
}
