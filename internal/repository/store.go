package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/room-reservation/internal/model"
)

// timestampLayout is how DATETIME values are written.  Writing strings
// instead of time.Time keeps comparisons identical on MySQL and SQLite.
const timestampLayout = "2006-01-02 15:04:05"

// locking captures the per-driver differences of the category lock.
type locking struct {
	clause string
	txOpts *sql.TxOptions
}

// lockingFor returns row-lock settings for the driver behind db.  SQLite
// has no FOR UPDATE; its single writer already serializes transactions.
func lockingFor(db *sqlx.DB) locking {
	if db.DriverName() == "sqlite3" {
		return locking{}
	}
	return locking{
		clause: " FOR UPDATE",
		txOpts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatDate(t time.Time) string {
	return model.Day(t).Format(model.DateLayout)
}

// nullable returns nil for an empty string so the column stays NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
