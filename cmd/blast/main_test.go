package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"tgblast/internal/broadcast"
)

func writeTestConfig(t *testing.T, dir string) (cfgPath, storePath string) {
	t.Helper()
	cfgPath = filepath.Join(dir, "blast.yaml")
	storePath = filepath.Join(dir, "broadcasts.db")
	body := fmt.Sprintf(`
telegram:
  token: "123:abc"
  owner_id: 42
directory:
  path: %s
job_store:
  path: %s
`, filepath.Join(dir, "users.db"), storePath)
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, storePath
}

// An unconfirmed full send must refuse before the stores are opened or the
// Telegram client is dialed; the job store file staying absent proves it.
func TestRunRefusesUnconfirmedSendUpFront(t *testing.T) {
	cfgPath, storePath := writeTestConfig(t, t.TempDir())

	err := run(context.Background(), cliArgs{
		cfgPath:   cfgPath,
		message:   "hi",
		batchSize: broadcast.DefaultBatchSize,
	})
	if !errors.Is(err, broadcast.ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if _, err := os.Stat(storePath); !os.IsNotExist(err) {
		t.Fatal("job store was opened before the confirm gate")
	}
}

func TestRunRefusesUnconfirmedCronDaemon(t *testing.T) {
	cfgPath, storePath := writeTestConfig(t, t.TempDir())

	err := run(context.Background(), cliArgs{
		cfgPath:   cfgPath,
		message:   "hi",
		batchSize: broadcast.DefaultBatchSize,
		cronSpec:  "0 9 * * *",
	})
	if !errors.Is(err, broadcast.ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if _, err := os.Stat(storePath); !os.IsNotExist(err) {
		t.Fatal("job store was opened before the confirm gate")
	}
}
