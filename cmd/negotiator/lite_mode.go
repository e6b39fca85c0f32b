package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tome-gg/negotiation-protocols/pkg/store"

	_ "modernc.org/sqlite"
)

// setupLiteMode opens the embedded SQLite store under dataDir.
func setupLiteMode(ctx context.Context, dataDir string) (*sql.DB, store.Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "negotiator.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection keeps Commit transactions
	// from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	st := store.NewSQLStore(db)
	if err := st.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init sqlite store: %w", err)
	}
	return db, st, nil
}

// openFileStore opens the JSON snapshot store at path, creating its directory.
func openFileStore(path string) (*store.FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	st, err := store.NewFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}
	return st, nil
}
