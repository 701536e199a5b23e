package services

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/models"

	_ "modernc.org/sqlite"
)

var alertLogMigrations = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		resource TEXT NOT NULL,
		kind TEXT NOT NULL,
		tag TEXT NOT NULL DEFAULT '',
		observed REAL NOT NULL,
		threshold REAL NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);`,
}

// AlertLog is the append-only record of dispatched alerts. Rows are only
// ever inserted.
type AlertLog struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// OpenAlertLog opens (or creates) the SQLite alert log and runs migrations
func OpenAlertLog(dbPath string) (*AlertLog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrateAlertLog(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("alert log migrations: %w", err)
	}
	return &AlertLog{db: db, dbPath: dbPath}, nil
}

func migrateAlertLog(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(alertLogMigrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(alertLogMigrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts alerts in one transaction
func (l *AlertLog) Append(alerts ...models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO alerts (timestamp, resource, kind, tag, observed, threshold, severity, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		_, err := stmt.Exec(a.Timestamp.UnixNano(), a.Resource, string(a.Kind), a.Tag,
			a.ObservedValue, a.Threshold, string(a.Severity), a.Message)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert alert: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit alerts, newest first
func (l *AlertLog) Recent(limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.query(`SELECT timestamp, resource, kind, tag, observed, threshold, severity, message
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
}

// Since returns alerts at or after t, oldest first
func (l *AlertLog) Since(t time.Time) ([]models.Alert, error) {
	return l.query(`SELECT timestamp, resource, kind, tag, observed, threshold, severity, message
		FROM alerts WHERE timestamp >= ? ORDER BY id ASC`, t.UnixNano())
}

// Count returns the number of logged alerts
func (l *AlertLog) Count() (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&n)
	return n, err
}

func (l *AlertLog) query(q string, args ...any) ([]models.Alert, error) {
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Alert{}
	for rows.Next() {
		var (
			a        models.Alert
			ts       int64
			kind     string
			severity string
		)
		if err := rows.Scan(&ts, &a.Resource, &kind, &a.Tag, &a.ObservedValue, &a.Threshold, &severity, &a.Message); err != nil {
			return nil, err
		}
		a.Timestamp = time.Unix(0, ts)
		a.Kind = models.AlertKind(kind)
		a.Severity = models.AlertSeverity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database
func (l *AlertLog) Close() error {
	return l.db.Close()
}
