package directory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	logx "tgblast/pkg/logx"
)

func seedUsers(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE users (
		user_id     INTEGER PRIMARY KEY,
		plan        TEXT NOT NULL DEFAULT 'free',
		expiry_date TEXT,
		active      INTEGER NOT NULL DEFAULT 1
	)`); err != nil {
		t.Fatalf("create users table: %v", err)
	}

	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	rows := []struct {
		id     int64
		plan   string
		expiry any
		active int
	}{
		{1, "free", nil, 1},
		{2, "premium", future, 1},
		{3, "premium", nil, 1}, // premium with missing expiry still counts
		{4, "premium", past, 1},
		{5, "free", nil, 0},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO users(user_id, plan, expiry_date, active) VALUES(?,?,?,?)`,
			r.id, r.plan, r.expiry, r.active); err != nil {
			t.Fatalf("insert user %d: %v", r.id, err)
		}
	}
	return path
}

func ids(t *testing.T, d *Directory, f Filter, limit int) []int64 {
	t.Helper()
	targets, err := d.Resolve(context.Background(), f, limit)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	out := make([]int64, 0, len(targets))
	for _, tg := range targets {
		out = append(out, tg.ChatID)
	}
	return out
}

func TestResolveFilters(t *testing.T) {
	t.Parallel()
	d, err := Open(Config{Path: seedUsers(t)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer d.Close()

	tests := []struct {
		name   string
		filter Filter
		limit  int
		want   []int64
	}{
		{name: "all users ordered", want: []int64{1, 2, 3, 4, 5}},
		{name: "premium includes missing expiry", filter: Filter{Plan: "premium"}, want: []int64{2, 3}},
		{name: "free tier", filter: Filter{Plan: "free"}, want: []int64{1, 5}},
		{name: "active only", filter: Filter{ActiveOnly: true}, want: []int64{1, 2, 3, 4}},
		{name: "limit caps", limit: 2, want: []int64{1, 2}},
		{name: "combined", filter: Filter{Plan: "free", ActiveOnly: true}, want: []int64{1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ids(t, d, tt.filter, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestResolveNoDuplicates(t *testing.T) {
	t.Parallel()
	d, err := Open(Config{Path: seedUsers(t)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer d.Close()

	got := ids(t, d, Filter{}, 0)
	seen := map[int64]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate recipient %d", id)
		}
		seen[id] = true
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestResolveUnavailableStore(t *testing.T) {
	t.Parallel()
	// A directory pointing at a non-database path must fail resolution,
	// not return a partial recipient set.
	path := filepath.Join(t.TempDir(), "missing", "users.db")
	d, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		// Open may already fail; that is equally acceptable.
		return
	}
	defer d.Close()
	if _, err := d.Resolve(context.Background(), Filter{}, 0); err == nil {
		t.Fatal("expected resolution failure for unreachable store")
	}
}
