// Package jobstore persists broadcast job records in SQLite.
//
// Every state transition is a full-row write: one insert when the job is
// created and one terminal update. There are no partial patches, so a crash
// between writes can only leave a record in "running", never half-updated.
package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tgblast/internal/broadcast"
	logx "tgblast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotFound reports a lookup for an unknown job id.
var ErrNotFound = errors.New("job not found")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("jobstore path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert writes a new job record and returns its assigned id.
func (s *Store) Insert(ctx context.Context, rec *broadcast.Record) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	sum, err := marshalSummary(rec.Summary)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(job_id, initiator_id, message, media, target_count, status, started_at, finished_at, summary)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		id, rec.InitiatorID, nullStr(rec.Message), nullStr(rec.Media), rec.TargetCount,
		rec.Status, rec.StartedAt.UTC().Format(time.RFC3339Nano), nullTime(rec.FinishedAt), sum,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update rewrites the full record for rec.ID.
func (s *Store) Update(ctx context.Context, rec *broadcast.Record) error {
	if rec.ID == "" {
		return errors.New("job id is empty")
	}
	sum, err := marshalSummary(rec.Summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts
		 SET initiator_id=?, message=?, media=?, target_count=?, status=?, started_at=?, finished_at=?, summary=?
		 WHERE job_id=?`,
		rec.InitiatorID, nullStr(rec.Message), nullStr(rec.Media), rec.TargetCount,
		rec.Status, rec.StartedAt.UTC().Format(time.RFC3339Nano), nullTime(rec.FinishedAt), sum,
		rec.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	return nil
}

// Get loads one record by id. Used by tests and one-off inspection.
func (s *Store) Get(ctx context.Context, id string) (*broadcast.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, initiator_id, message, media, target_count, status, started_at, finished_at, summary
		 FROM broadcasts WHERE job_id=?`, id)

	var (
		rec      broadcast.Record
		msg      sql.NullString
		media    sql.NullString
		started  string
		finished sql.NullString
		sum      sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.InitiatorID, &msg, &media, &rec.TargetCount, &rec.Status, &started, &finished, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rec.Message = msg.String
	rec.Media = media.String
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, err
	}
	if finished.Valid {
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return nil, err
		}
	}
	if sum.Valid {
		var v broadcast.Summary
		if err := json.Unmarshal([]byte(sum.String), &v); err != nil {
			return nil, err
		}
		rec.Summary = &v
	}
	return &rec, nil
}

func marshalSummary(sum *broadcast.Summary) (any, error) {
	if sum == nil {
		return nil, nil
	}
	b, err := json.Marshal(sum)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
