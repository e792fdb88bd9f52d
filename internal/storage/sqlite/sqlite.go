// Package sqlite stores the limits and quotes records as JSON documents in
// a single key/value table. Writes made through a Store notify its
// subscribers directly; writes made by other processes are picked up by
// PollChanges.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/mindful/internal/storage"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store implements storage.Store on SQLite.
type Store struct {
	storage.Broadcaster

	db         *sqlx.DB
	limitStore *limitStore
	quoteStore *quoteStore

	mu   sync.Mutex
	seen map[string]int64 // key -> updated_at of the last write this process knows about
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db, seen: make(map[string]int64)}
	s.limitStore = &limitStore{s: s}
	s.quoteStore = &quoteStore{s: s}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Limits returns the LimitStore implementation
func (s *Store) Limits() storage.LimitStore {
	return s.limitStore
}

// Quotes returns the QuoteStore implementation
func (s *Store) Quotes() storage.QuoteStore {
	return s.quoteStore
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM records WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// updated_at strictly increases per key so pollers in other processes
	// never mistake a write for one they have already seen
	var updatedAt int64
	err := s.db.GetContext(ctx, &updatedAt, `
		INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = max(excluded.updated_at, records.updated_at + 1)
		RETURNING updated_at
	`, key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.seen[key] = updatedAt
	return nil
}

// putIf writes value only if the record's updated_at is still version,
// with 0 meaning the record must not exist yet. It reports whether the
// write happened.
func (s *Store) putIf(ctx context.Context, key string, value []byte, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	var updatedAt int64
	var err error
	if version == 0 {
		err = s.db.GetContext(ctx, &updatedAt, `
			INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING
			RETURNING updated_at
		`, key, string(value), now)
	} else {
		err = s.db.GetContext(ctx, &updatedAt, `
			UPDATE records SET value = ?, updated_at = max(?, updated_at + 1)
			WHERE key = ? AND updated_at = ?
			RETURNING updated_at
		`, string(value), now, key, version)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.seen[key] = updatedAt
	return true, nil
}

type record struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	UpdatedAt int64  `db:"updated_at"`
}

// PollChanges checks every interval for records written by another
// process and notifies subscribers, until ctx is done.
func (s *Store) PollChanges(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	logger = logger.With().Str("component", "sqlite-store").Logger()

	// Records already on disk are not changes
	if err := s.pollOnce(ctx, false); err != nil {
		logger.Warn().Err(err).Msg("Failed to read initial change marks")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.pollOnce(ctx, true); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Failed to poll for changes")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) pollOnce(ctx context.Context, publish bool) error {
	var rows []record
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM records`); err != nil {
		return err
	}

	var changes []storage.Change
	s.mu.Lock()
	for _, row := range rows {
		if row.UpdatedAt <= s.seen[row.Key] {
			continue
		}
		s.seen[row.Key] = row.UpdatedAt
		if !publish {
			continue
		}
		change, err := decodeChange(row.Key, []byte(row.Value))
		if err != nil {
			s.mu.Unlock()
			return err
		}
		changes = append(changes, change)
	}
	s.mu.Unlock()

	for _, change := range changes {
		s.Publish(change)
	}
	return nil
}

func decodeChange(key string, value []byte) (storage.Change, error) {
	change := storage.Change{Key: key}
	var err error
	switch key {
	case storage.KeyLimits:
		change.Limits, err = storage.UnmarshalLimits(value)
	case storage.KeyQuotes:
		change.Quotes, err = storage.UnmarshalQuotes(value)
	}
	return change, err
}

type limitStore struct {
	s *Store
}

func (ls *limitStore) Get(ctx context.Context) (storage.Limits, error) {
	raw, err := ls.s.get(ctx, storage.KeyLimits)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Limits{}, nil
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalLimits(raw)
}

func (ls *limitStore) Set(ctx context.Context, limits storage.Limits) error {
	raw, err := storage.MarshalLimits(limits)
	if err != nil {
		return err
	}
	if err := ls.s.put(ctx, storage.KeyLimits, raw); err != nil {
		return err
	}
	ls.s.Publish(storage.Change{Key: storage.KeyLimits, Limits: limits.Clone()})
	return nil
}

// Update is a compare-and-set on updated_at: the write only lands if the
// record is unchanged since it was read, otherwise fn runs again.
func (ls *limitStore) Update(ctx context.Context, fn storage.UpdateFunc) (storage.Limits, error) {
	for attempt := 0; attempt < storage.MaxUpdateAttempts; attempt++ {
		var row record
		current := storage.Limits{}
		err := ls.s.db.GetContext(ctx, &row, `SELECT key, value, updated_at FROM records WHERE key = ?`, storage.KeyLimits)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("failed to read %s: %w", storage.KeyLimits, err)
		default:
			if current, err = storage.UnmarshalLimits([]byte(row.Value)); err != nil {
				return nil, err
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		raw, err := storage.MarshalLimits(next)
		if err != nil {
			return nil, err
		}

		ok, err := ls.s.putIf(ctx, storage.KeyLimits, raw, row.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if ok {
			ls.s.Publish(storage.Change{Key: storage.KeyLimits, Limits: next.Clone()})
			return next.Clone(), nil
		}
	}
	return nil, storage.ErrConflict
}

type quoteStore struct {
	s *Store
}

func (qs *quoteStore) Get(ctx context.Context) ([]storage.Quote, error) {
	raw, err := qs.s.get(ctx, storage.KeyQuotes)
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalQuotes(raw)
}

func (qs *quoteStore) Set(ctx context.Context, quotes []storage.Quote) error {
	raw, err := storage.MarshalQuotes(quotes)
	if err != nil {
		return err
	}
	if err := qs.s.put(ctx, storage.KeyQuotes, raw); err != nil {
		return err
	}
	qs.s.Publish(storage.Change{Key: storage.KeyQuotes, Quotes: append([]storage.Quote(nil), quotes...)})
	return nil
}
