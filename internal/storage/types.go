package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Well-known keys.
const (
	KeySubscriptions   = "subscriptions"
	KeyLastUpdated     = "lastUpdated"
	KeyConferenceCache = "conference_data_cache"
	KeyStoragePath     = "storagePath"
	KeyInstalledAt     = "installedAt"

	// PrefixDedup namespaces persisted notifier dedup windows.
	PrefixDedup = "notifier.dedup."
)

var (
	ErrStorage = errors.New("storage error")
	ErrClosed  = errors.New("store closed")
)

// Error wraps a backend failure with the operation and key involved.
// errors.Is(err, ErrStorage) reports true for every *Error.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// KV is the key/value contract every component persists through.
// Get reports ok=false for a missing key; that is not an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": snapshot + journal under Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal records before compaction
	CompactBytes int64         // file only; journal size floor before compaction

	// Fs overrides the filesystem used by the file driver. Nil means the OS.
	Fs afero.Fs
}
