// Package repository implements the reservation ledger, the room catalog
// and staff accounts on top of MySQL (or SQLite in tests) through sqlx.
//
// Driver errors never leave this package raw when they carry meaning for
// the layers above: duplicate keys become ErrDuplicateReference,
// ErrDuplicateName or ErrEmailExists, and lock contention (deadlock, lock
// wait timeout, a busy SQLite file) becomes ErrConflict so admission can
// retry.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/room-reservation/internal/ledger"
)

// Sentinels shared with the in-memory ledger so callers can test with
// errors.Is regardless of the backing store.
var (
	ErrNotFound           = ledger.ErrNotFound
	ErrDuplicateReference = ledger.ErrDuplicateReference
	ErrConflict           = ledger.ErrConflict
	ErrCapacityLocked     = ledger.ErrCapacityLocked
	ErrDuplicateName      = ledger.ErrDuplicateName
)

// ErrEmailExists is returned by UserRepo.Create for a taken email.
var ErrEmailExists = errors.New("email already exists")

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// isDuplicate reports whether err is a unique-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	// sqlite carries no typed error worth importing its driver for
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isContention reports whether err is a lock conflict worth retrying.
func isContention(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDeadlockDetected || me.Number == mysqlLockWaitTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// classify wraps contention errors in ErrConflict and leaves the rest alone.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isContention(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
