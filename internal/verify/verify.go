// Package verify runs structural integrity checks over the embedded SQLite
// databases inside a unit's data root before any destructive action is taken.
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mediback/mediback/internal/logger"
)

// ErrIntegrity indicates at least one database reported structural damage.
var ErrIntegrity = errors.New("integrity check failed")

// Verdict is the result of checking one database file.
type Verdict string

const (
	VerdictOK      Verdict = "ok"
	VerdictCorrupt Verdict = "corrupt"
	// VerdictUnknown means the check could not be performed; it degrades
	// the report with a warning instead of failing the run.
	VerdictUnknown Verdict = "unknown"
)

// Check records the verdict for a single database file.
type Check struct {
	Path    string  `json:"path"`
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// Report is the outcome of verifying one data root. Immutable once produced.
type Report struct {
	Checks  []Check `json:"checks"`
	Passed  bool    `json:"passed"`
	Warning string  `json:"warning,omitempty"`
}

// Summary renders a one-line pass/fail summary for the ledger.
func (r *Report) Summary() string {
	ok, corrupt, unknown := 0, 0, 0
	for _, c := range r.Checks {
		switch c.Verdict {
		case VerdictOK:
			ok++
		case VerdictCorrupt:
			corrupt++
		default:
			unknown++
		}
	}
	status := "pass"
	if !r.Passed {
		status = "fail"
	}
	return fmt.Sprintf("%s (%d ok, %d corrupt, %d unknown)", status, ok, corrupt, unknown)
}

// Run enumerates the SQLite database files under dataRoot and checks each
// one with PRAGMA integrity_check. Pure read; nothing is modified.
//
// Degradation rules: no databases found is a pass with a warning, and a
// data root where every check fails to run (driver or file access trouble)
// yields unknown verdicts with a warning rather than a failed run. Any
// single corrupt database fails the whole report.
func Run(ctx context.Context, dataRoot string, log logger.Logger) (*Report, error) {
	files, err := findDatabases(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("enumerate databases under %q: %w", dataRoot, err)
	}

	report := &Report{Passed: true}
	if len(files) == 0 {
		report.Warning = "no database files found under data root"
		log.Warn("integrity check found no databases", "data_root", dataRoot)
		return report, nil
	}

	unchecked := 0
	for _, path := range files {
		check := checkOne(ctx, path)
		report.Checks = append(report.Checks, check)
		switch check.Verdict {
		case VerdictCorrupt:
			report.Passed = false
			log.Error("database integrity check failed", "path", path, "detail", check.Detail)
		case VerdictUnknown:
			unchecked++
			log.Warn("database could not be checked", "path", path, "detail", check.Detail)
		default:
			log.Info("database integrity ok", "path", path)
		}
	}

	if unchecked == len(report.Checks) {
		report.Warning = "integrity checker unavailable, all verdicts unknown"
		log.Warn("integrity checker unavailable", "data_root", dataRoot)
	}
	return report, nil
}

func checkOne(ctx context.Context, path string) Check {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return Check{Path: path, Verdict: VerdictUnknown, Detail: err.Error()}
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check;").Scan(&result); err != nil {
		if isCorruptionError(err) {
			return Check{Path: path, Verdict: VerdictCorrupt, Detail: err.Error()}
		}
		return Check{Path: path, Verdict: VerdictUnknown, Detail: err.Error()}
	}
	if result != "ok" {
		return Check{Path: path, Verdict: VerdictCorrupt, Detail: result}
	}
	return Check{Path: path, Verdict: VerdictOK}
}

// isCorruptionError reports whether the SQLite error itself is evidence of
// structural damage, as opposed to the checker being unable to run.
func isCorruptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "corrupt")
}

func findDatabases(dataRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".db") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
