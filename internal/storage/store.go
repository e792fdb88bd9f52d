package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned by LimitStore.Update when other writers kept
// changing the record and every attempt lost the race.
var ErrConflict = errors.New("storage: concurrent update conflict")

// MaxUpdateAttempts bounds how often an optimistic Update is retried.
const MaxUpdateAttempts = 10

// Record keys. They match the keys the browser extension persisted so a
// migrated profile keeps its data.
const (
	KeyLimits = "limits"
	KeyQuotes = "quotes"
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Limits() LimitStore
	Quotes() QuoteStore

	// Subscribe registers fn for change notifications. fn is called after
	// a record has been committed, with the committed value. The returned
	// function removes the subscription.
	Subscribe(fn ChangeFunc) (unsubscribe func())
}

// UpdateFunc computes the next limits record from the committed one. It
// may be called more than once and must not call back into the store.
// Returning an error abandons the update without writing.
type UpdateFunc func(Limits) (Limits, error)

// LimitStore holds the limits record. Get returns an empty map, not an
// error, when no record exists.
//
// Update is an atomic read-modify-write: fn's result is committed only if
// nobody else wrote the record in between, otherwise fn runs again on the
// fresh record. Writers in other processes (the CLI and the daemon) must
// use Update so neither overwrites the other's change.
type LimitStore interface {
	Get(ctx context.Context) (Limits, error)
	Set(ctx context.Context, limits Limits) error
	Update(ctx context.Context, fn UpdateFunc) (Limits, error)
}

// QuoteStore holds the ordered quotes record. Get returns ErrNotFound when
// the record has never been written, so callers can tell "never
// configured" from "configured empty".
type QuoteStore interface {
	Get(ctx context.Context) ([]Quote, error)
	Set(ctx context.Context, quotes []Quote) error
}

// ChangeFunc receives committed changes.
type ChangeFunc func(Change)

// Change describes a committed write to one record. Exactly one of Limits
// or Quotes is set, depending on Key.
type Change struct {
	Key    string
	Limits Limits
	Quotes []Quote
}
