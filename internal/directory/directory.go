// Package directory resolves broadcast recipients from the bot's user store.
//
// The directory is a read-only consumer of the users table; it never writes.
// Resolution is all-or-nothing: if the store cannot be reached the whole
// lookup fails with ErrUnavailable, because a job must know its true target
// count before anything is persisted or sent.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tgblast/internal/transport"
	logx "tgblast/pkg/logx"
)

// ErrUnavailable reports that the backing store could not be reached.
var ErrUnavailable = errors.New("directory unavailable")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Filter selects recipients by attribute. Zero value matches all users.
type Filter struct {
	// Plan restricts to a plan tier: "", "free" or "premium".
	Plan string
	// ActiveOnly restricts to users not marked inactive.
	ActiveOnly bool
}

type Directory struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Directory, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: path is required", ErrUnavailable)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// SQLite prefers a small number of concurrent connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	return &Directory{db: db, log: log}, nil
}

func (d *Directory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Resolve returns the chat targets matching the filter, ordered by user id.
// limit caps the result when > 0. The output is duplicate-free (user_id is
// the table's primary key).
//
// Premium matching is deliberate: a premium plan with a missing expiry counts
// as premium, matching how eligibility is decided elsewhere in the system.
func (d *Directory) Resolve(ctx context.Context, f Filter, limit int) ([]transport.ChatTarget, error) {
	if d == nil || d.db == nil {
		return nil, ErrUnavailable
	}

	q := `SELECT user_id FROM users`
	var (
		conds []string
		args  []any
	)
	switch strings.ToLower(strings.TrimSpace(f.Plan)) {
	case "":
	case "premium":
		conds = append(conds, `plan = 'premium' AND (expiry_date IS NULL OR datetime(expiry_date) > datetime(?))`)
		args = append(args, time.Now().UTC().Format("2006-01-02 15:04:05"))
	default:
		conds = append(conds, `plan = ?`)
		args = append(args, strings.ToLower(strings.TrimSpace(f.Plan)))
	}
	if f.ActiveOnly {
		conds = append(conds, `active = 1`)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY user_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []transport.ChatTarget
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d.log.Debug("recipients resolved", logx.Int("count", len(out)), logx.String("plan", f.Plan), logx.Bool("active_only", f.ActiveOnly))
	return out, nil
}
