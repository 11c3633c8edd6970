package verify

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/mediback/mediback/internal/logger"
)

func newSQLite(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE media (id INTEGER PRIMARY KEY, title TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO media (title) VALUES ('pilot'), ('finale')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestRun_HealthyDatabasesPass(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "Plug-in Support", "Databases")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	newSQLite(t, filepath.Join(sub, "library.db"))
	newSQLite(t, filepath.Join(sub, "blobs.db"))

	report, err := Run(context.Background(), root, logger.Global())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Passed {
		t.Errorf("report failed; summary: %s", report.Summary())
	}
	if len(report.Checks) != 2 {
		t.Errorf("checked %d files, want 2", len(report.Checks))
	}
	for _, c := range report.Checks {
		if c.Verdict != VerdictOK {
			t.Errorf("%s verdict = %s, want ok", c.Path, c.Verdict)
		}
	}
}

func TestRun_CorruptDatabaseFailsAggregate(t *testing.T) {
	root := t.TempDir()
	newSQLite(t, filepath.Join(root, "good.db"))

	// A torn file with a valid header prefix but garbage pages.
	corrupt := filepath.Join(root, "bad.db")
	payload := append([]byte("SQLite format 3\x00"), make([]byte, 4096)...)
	for i := 16; i < len(payload); i++ {
		payload[i] = byte(i * 7)
	}
	if err := os.WriteFile(corrupt, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Run(context.Background(), root, logger.Global())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Passed {
		t.Errorf("aggregate passed despite corrupt database; summary: %s", report.Summary())
	}
}

func TestRun_NoDatabasesIsPassWithWarning(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "poster.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Run(context.Background(), root, logger.Global())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Passed {
		t.Error("expected pass when no databases exist")
	}
	if report.Warning == "" {
		t.Error("expected a warning when no databases exist")
	}
}

func TestSummary(t *testing.T) {
	r := &Report{
		Checks: []Check{
			{Verdict: VerdictOK},
			{Verdict: VerdictCorrupt},
			{Verdict: VerdictUnknown},
		},
	}
	want := "fail (1 ok, 1 corrupt, 1 unknown)"
	if got := r.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
