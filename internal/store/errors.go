package store

import (
	"context"
	"errors"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate reports a deduplication collision: a live message with the
	// same (queue, deduplication id) already exists inside the dedup window.
	ErrDuplicate = errors.New("store: duplicate message")

	// ErrNotFound reports a missing queue or message.
	ErrNotFound = errors.New("store: not found")
)

// IsBusy reports whether err is transient SQLite contention (the busy
// timeout elapsed while another writer held the lock). Busy errors are
// retryable; everything else from the store is fatal.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsCancelled reports whether err stems from the caller's context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
