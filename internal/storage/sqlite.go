package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "bgrefresh/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, task_id, started, duration_ms, success, expired, notification_id, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.RunID, r.TaskID, r.Started.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
		r.Success, r.Expired, nullStr(r.NotificationID), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) AppendNotification(ctx context.Context, n NotificationRecord) error {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(note_id, status, title, body, trigger_ms, detail, at)
		 VALUES(?,?,?,?,?,?,?)`,
		n.ID, n.Status, nullStr(n.Title), nullStr(n.Body), n.Trigger.Milliseconds(),
		nullStr(n.Detail), n.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task_id, started, duration_ms, success, expired, notification_id, err
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r           RunRecord
			started     string
			durMS       int64
			noteID, msg sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.TaskID, &started, &durMS, &r.Success, &r.Expired, &noteID, &msg); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.NotificationID, r.Error = noteID.String, msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *sqliteStore) RecentNotifications(ctx context.Context, n int) ([]NotificationRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, status, title, body, trigger_ms, detail, at
		 FROM notifications ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		var (
			rec                 NotificationRecord
			title, body, detail sql.NullString
			triggerMS           int64
			at                  string
		)
		if err := rows.Scan(&rec.ID, &rec.Status, &title, &body, &triggerMS, &detail, &at); err != nil {
			return nil, err
		}
		rec.Title, rec.Body, rec.Detail = title.String, body.String, detail.String
		rec.Trigger = time.Duration(triggerMS) * time.Millisecond
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
