// Package store keeps privacy-conscious site analytics in sqlite: visits
// with hashed client IPs and the instruments copied from the treemap.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Retention is how long visitor rows are kept.
const Retention = 365 * 24 * time.Hour

type VisitorMetric struct {
	ID        int       `json:"id"`
	HashedIP  string    `json:"hashed_ip"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

type CopyStat struct {
	SECID    string    `json:"secid"`
	Copies   int64     `json:"copies"`
	Failures int64     `json:"failures"`
	LastSeen time.Time `json:"last_seen"`
}

type AdminStats struct {
	TotalVisitors    int64           `json:"total_visitors"`
	UniqueVisitors   int64           `json:"unique_visitors"`
	VisitorsToday    int64           `json:"visitors_today"`
	VisitorsThisWeek int64           `json:"visitors_this_week"`
	TotalCopies      int64           `json:"total_copies"`
	FailedCopies     int64           `json:"failed_copies"`
	TopCopied        []CopyStat      `json:"top_copied"`
	RecentVisitors   []VisitorMetric `json:"recent_visitors"`
}

type DB struct {
	*sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return initDB(sqlDB)
}

// OpenMemory returns an in-memory database for tests.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Each new connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)
	return initDB(sqlDB)
}

func initDB(sqlDB *sql.DB) (*DB, error) {
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &DB{DB: sqlDB}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS visitors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hashed_ip TEXT NOT NULL,
	user_agent TEXT,
	path TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_visitors_timestamp ON visitors(timestamp);

CREATE TABLE IF NOT EXISTS copy_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	secid TEXT NOT NULL,
	hashed_ip TEXT NOT NULL,
	ok INTEGER NOT NULL DEFAULT 1,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_copy_events_secid ON copy_events(secid);
`

func (d *DB) RecordVisit(hashedIP, userAgent, path string, at time.Time) error {
	_, err := d.Exec(`
		INSERT INTO visitors (hashed_ip, user_agent, path, timestamp)
		VALUES (?, ?, ?, ?)
	`, hashedIP, userAgent, path, at.UTC())
	return err
}

func (d *DB) RecordCopy(secid, hashedIP string, ok bool, at time.Time) error {
	_, err := d.Exec(`
		INSERT INTO copy_events (secid, hashed_ip, ok, timestamp)
		VALUES (?, ?, ?, ?)
	`, secid, hashedIP, ok, at.UTC())
	return err
}

// CleanupBefore deletes visitor rows older than cutoff and reports how
// many went.
func (d *DB) CleanupBefore(cutoff time.Time) (int64, error) {
	res, err := d.Exec(`DELETE FROM visitors WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCopies removes every copy event for secid.
func (d *DB) DeleteCopies(secid string) (int64, error) {
	res, err := d.Exec(`DELETE FROM copy_events WHERE secid = ?`, secid)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) RecentVisitors(limit int) ([]VisitorMetric, error) {
	rows, err := d.Query(`
		SELECT id, hashed_ip, COALESCE(user_agent, ''), COALESCE(path, ''), timestamp
		FROM visitors
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VisitorMetric
	for rows.Next() {
		var v VisitorMetric
		if err := rows.Scan(&v.ID, &v.HashedIP, &v.UserAgent, &v.Path, &v.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (d *DB) CopyStats(limit int) ([]CopyStat, error) {
	rows, err := d.Query(`
		SELECT secid,
			SUM(CASE WHEN ok THEN 1 ELSE 0 END) AS copies,
			SUM(CASE WHEN ok THEN 0 ELSE 1 END) AS failures,
			MAX(timestamp) AS last_seen
		FROM copy_events
		GROUP BY secid
		ORDER BY copies DESC, secid ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CopyStat
	for rows.Next() {
		var c CopyStat
		var last string
		if err := rows.Scan(&c.SECID, &c.Copies, &c.Failures, &last); err != nil {
			return nil, err
		}
		c.LastSeen = parseSQLiteTime(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats gathers the dashboard numbers relative to now.
func (d *DB) Stats(now time.Time) (*AdminStats, error) {
	stats := &AdminStats{}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
	weekAgo := now.Add(-7 * 24 * time.Hour).UTC()

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.TotalVisitors, `SELECT COUNT(*) FROM visitors`, nil},
		{&stats.UniqueVisitors, `SELECT COUNT(DISTINCT hashed_ip) FROM visitors`, nil},
		{&stats.VisitorsToday, `SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`, []any{startOfDay}},
		{&stats.VisitorsThisWeek, `SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`, []any{weekAgo}},
		{&stats.TotalCopies, `SELECT COUNT(*) FROM copy_events WHERE ok`, nil},
		{&stats.FailedCopies, `SELECT COUNT(*) FROM copy_events WHERE NOT ok`, nil},
	}
	for _, c := range counts {
		if err := d.QueryRow(c.query, c.args...).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	var err error
	if stats.TopCopied, err = d.CopyStats(10); err != nil {
		return nil, err
	}
	if stats.RecentVisitors, err = d.RecentVisitors(50); err != nil {
		return nil, err
	}
	return stats, nil
}

// parseSQLiteTime reads a timestamp that came back through an aggregate,
// where the driver no longer knows the column type.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		// Driver default before _time_format was set.
		"2006-01-02 15:04:05.999999999 -0700 MST",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
