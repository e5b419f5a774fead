package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrStoreBusy signals that the store stayed locked through every retry
// attempt. Callers present it as a transient "try again shortly" condition.
var ErrStoreBusy = errors.New("database: store busy")

// RetryPolicy bounds how often a locked transaction is retried and how long
// to back off between attempts. The delay grows linearly with the attempt
// number.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

var (
	// WritePolicy covers ordinary single-record writes.
	WritePolicy = RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond}
	// RegisterPolicy covers the registration path, which sees the most
	// contention and gets extra headroom.
	RegisterPolicy = RetryPolicy{Attempts: 5, BaseDelay: 30 * time.Millisecond}
)

// RunInTransaction executes fn inside a transaction, retrying the whole
// transaction when SQLite reports the database as locked. Any other error
// rolls back and propagates unchanged. After the policy is exhausted the
// failure surfaces as ErrStoreBusy. Read-only queries should not be routed
// through here; a stale read is acceptable and callers re-check.
func RunInTransaction(ctx context.Context, db *gorm.DB, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, policy.BaseDelay*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", ErrStoreBusy, attempts, lastErr)
}

// isBusy reports whether err is one of the lock conditions the glebarez
// driver surfaces for SQLITE_BUSY / SQLITE_LOCKED.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked") ||
		strings.Contains(message, "SQLITE_BUSY")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
