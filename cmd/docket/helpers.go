package main

import (
	"github.com/spf13/cobra"

	"github.com/fenwick-systems/docket/internal/config"
	"github.com/fenwick-systems/docket/internal/engine"
	"github.com/fenwick-systems/docket/internal/storage"
)

// openStorage opens the configured database, creating it if needed.
func openStorage() (*storage.SQLiteStorage, error) {
	path, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	return storage.NewSQLiteStorage(path)
}

// newEngine wires storage into a validated reconcile engine.
func newEngine(store *storage.SQLiteStorage) (*engine.ReconcileEngine, error) {
	return engine.New(store, config.LoadEngineConfig())
}

// storeHandle keeps command bodies free of storage plumbing.
type storeHandle = *storage.SQLiteStorage

// withStore opens the store, runs fn and always closes it.
func withStore(_ *cobra.Command, fn func(storeHandle) error) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}
