package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// FileStore keeps the whole ledger in memory and persists it as one JSON
// document. Every mutation runs in a single critical section: the ledger is
// cloned, the clone is mutated and written out, and only a successful write
// replaces the in-memory ledger.
type FileStore struct {
	mu            sync.Mutex
	path          string
	ledger        *domain.Ledger
	adminPassword string
	logger        *slog.Logger

	writeFile func(path string, data []byte) error
}

// Open loads the ledger at path. A missing or empty file is an empty
// ledger; nothing is written until the first mutation.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		logger:    logger,
		writeFile: writeFileAtomic,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) || (err == nil && len(bytes.TrimSpace(data)) == 0):
		s.ledger = domain.NewLedger()
		logger.Info("Starting with an empty ledger", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	s.ledger, s.adminPassword, err = decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", path, err)
	}

	logger.Info("Ledger loaded", "path", path, "users", len(s.ledger.Users))
	return s, nil
}

func (s *FileStore) Account() domain.AccountRepository {
	return &accountRepository{ledger: s}
}

func (s *FileStore) Transaction() domain.TransactionRepository {
	return &transactionRepository{ledger: s}
}

// WithTransaction runs fn against a private copy of the ledger and persists
// the copy if fn succeeds. fn must use the Store it is given; calling back
// into s would deadlock.
func (s *FileStore) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrPersistence.WithCause(err)
	}
	return s.commit(func(l *domain.Ledger) error {
		return fn(&txStore{ledger: l})
	})
}

func (s *FileStore) commit(fn func(*domain.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.ledger.Clone()
	if err := fn(work); err != nil {
		return err
	}

	data, err := json.MarshalIndent(encode(work, s.adminPassword), "", "    ")
	if err != nil {
		return errors.ErrPersistence.WithCause(err)
	}
	if err := s.writeFile(s.path, data); err != nil {
		s.logger.Error("Failed to persist ledger, changes discarded", "path", s.path, "error", err)
		return errors.ErrPersistence.WithCause(err)
	}

	s.ledger = work
	return nil
}

func (s *FileStore) view(fn func(*domain.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ledger)
}

func (s *FileStore) mutate(fn func(*domain.Ledger) error) error {
	return s.commit(fn)
}

// txStore is the Store handed to WithTransaction callbacks. It reads and
// writes the working copy directly.
type txStore struct {
	ledger *domain.Ledger
}

func (t *txStore) Account() domain.AccountRepository {
	return &accountRepository{ledger: t}
}

func (t *txStore) Transaction() domain.TransactionRepository {
	return &transactionRepository{ledger: t}
}

// WithTransaction on a transaction joins it.
func (t *txStore) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if err := ctx.Err(); err != nil {
		return errors.ErrPersistence.WithCause(err)
	}
	return fn(t)
}

func (t *txStore) view(fn func(*domain.Ledger) error) error   { return fn(t.ledger) }
func (t *txStore) mutate(fn func(*domain.Ledger) error) error { return fn(t.ledger) }

// writeFileAtomic replaces path with data so that readers only ever see the
// old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	// Make the rename itself durable. Not every platform can sync a
	// directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
