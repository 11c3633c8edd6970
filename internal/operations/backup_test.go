package operations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/ledger"
	"github.com/mediback/mediback/internal/logger"
	"github.com/mediback/mediback/internal/remote"
	"github.com/mediback/mediback/internal/retention"
	"github.com/mediback/mediback/internal/runtime"
)

type fakeRuntime struct {
	mu        sync.Mutex
	states    map[string]runtime.State
	dataRoots map[string]string
	stops     []string
	starts    []string
	stopErr   error
}

func (f *fakeRuntime) State(_ context.Context, name string) (runtime.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	if !ok {
		return runtime.StateNotFound, nil
	}
	return s, nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, name)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.states[name] = runtime.StateExited
	return nil
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, name)
	f.states[name] = runtime.StateRunning
	return nil
}

func (f *fakeRuntime) DataRoot(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if root, ok := f.dataRoots[name]; ok {
		return root, nil
	}
	return "", runtime.ErrNotFound
}

type fakeProvider struct {
	uploads   []string
	verdict   remote.VerifyResult
	verifyErr error
	uploadErr error
	cleanups  int
	testErr   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Upload(_ context.Context, localPath string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, localPath)
	return nil
}

func (f *fakeProvider) Verify(_ context.Context, _ string) (remote.VerifyResult, error) {
	return f.verdict, f.verifyErr
}

func (f *fakeProvider) Cleanup(_ context.Context, _ string, _ int) error {
	f.cleanups++
	return nil
}

func (f *fakeProvider) Test(_ context.Context) error { return f.testErr }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Backup: config.BackupConfig{
			Root:            t.TempDir(),
			StopForBackup:   true,
			VerifyIntegrity: false,
			TimestampFormat: "2006-01-02_15-04-05",
			StopTimeout:     time.Second,
			SettleDelay:     0,
		},
		Compression: config.CompressionConfig{
			Enabled: true,
			Format:  "gzip",
			Level:   1,
			Workers: 1,
		},
		Retention: config.RetentionConfig{LocalKeep: 0, RemoteKeep: 0},
	}
}

func dataRootFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Preferences.xml"), []byte("<xml/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestOperator(t *testing.T, cfg config.Config, opts ...Option) *Operator {
	t.Helper()
	op, err := NewOperator(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewOperator: %v", err)
	}
	return op
}

func approveAll(string) bool { return true }

func loadOnlyEntry(t *testing.T, root, unit string) (*ledger.Entry, retention.Artifact) {
	t.Helper()
	arts, err := retention.List(root, unit, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(arts))
	}
	var entry ledger.Entry
	if err := entry.Load(ledger.SidecarFor(arts[0].Path)); err != nil {
		t.Fatalf("load sidecar: %v", err)
	}
	return &entry, arts[0]
}

func TestBackupUnitStopsAndRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if len(rt.stops) != 1 || len(rt.starts) != 1 {
		t.Fatalf("stops=%v starts=%v, want one of each", rt.stops, rt.starts)
	}

	entry, art := loadOnlyEntry(t, cfg.Backup.Root, "plex")
	if !entry.WasRunning || !entry.Stopped || !entry.Restarted {
		t.Errorf("entry = was_running=%v stopped=%v restarted=%v, want all true",
			entry.WasRunning, entry.Stopped, entry.Restarted)
	}
	if entry.PreRunState != "running" || entry.PostRunState != "running" {
		t.Errorf("states pre=%q post=%q", entry.PreRunState, entry.PostRunState)
	}
	if entry.Status != "success" {
		t.Errorf("status = %q", entry.Status)
	}
	if !strings.HasSuffix(art.Path, ".tar.gz") {
		t.Errorf("artifact %q lacks gzip extension", art.Path)
	}
}

func TestBackupUnitStoppedUnitLeftAlone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if len(rt.stops) != 0 || len(rt.starts) != 0 {
		t.Fatalf("lifecycle calls on an already-stopped unit: stops=%v starts=%v", rt.stops, rt.starts)
	}
	entry, _ := loadOnlyEntry(t, cfg.Backup.Root, "plex")
	if entry.WasRunning || entry.Stopped {
		t.Errorf("was_running=%v stopped=%v, want both false", entry.WasRunning, entry.Stopped)
	}
}

func TestBackupUnitIntegrityFailureAbortsBeforeStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.VerifyIntegrity = true
	dataRoot := dataRootFixture(t)
	// A plausible-looking database file with a broken header.
	if err := os.WriteFile(filepath.Join(dataRoot, "library.db"), []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRoot}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	err := op.BackupUnit("plex")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}

	if len(rt.stops) != 0 {
		t.Errorf("unit was stopped despite failed integrity check: %v", rt.stops)
	}
	arts, _ := retention.List(cfg.Backup.Root, "plex", "")
	if len(arts) != 0 {
		t.Errorf("artifacts created despite aborted run: %v", arts)
	}
}

func TestBackupUnitRestartsAfterCompressionFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: filepath.Join(t.TempDir(), "missing")}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	err := op.BackupUnit("plex")
	if !errors.Is(err, ErrCompression) {
		t.Fatalf("err = %v, want ErrCompression", err)
	}

	if len(rt.starts) != 1 {
		t.Fatalf("starts = %v, want the stopped unit restarted after the failure", rt.starts)
	}
}

func TestBackupUnitStopDeclined(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(func(string) bool { return false }))
	err := op.BackupUnit("plex")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if len(rt.stops) != 0 {
		t.Errorf("stop issued despite declined prompt: %v", rt.stops)
	}
}

func TestBackupUnitUnsafeRunRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.StopForBackup = false
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if len(rt.stops) != 0 {
		t.Errorf("unit stopped despite stop_for_backup=false: %v", rt.stops)
	}
	entry, _ := loadOnlyEntry(t, cfg.Backup.Root, "plex")
	if !entry.Unsafe {
		t.Error("unsafe run not recorded in ledger entry")
	}
}

func TestBackupUnitStillRunningAfterStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{
		states:  map[string]runtime.State{"plex": runtime.StateRunning},
		stopErr: runtime.ErrStopFailed,
	}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	err := op.BackupUnit("plex")
	if !errors.Is(err, ErrLifecycleTimeout) {
		t.Fatalf("err = %v, want ErrLifecycleTimeout", err)
	}
}

func TestBackupUnitNotFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "ghost", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	if err := op.BackupUnit("ghost"); !errors.Is(err, runtime.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplicateDeleteLocalAfterVerifiedUpload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = config.RemoteConfig{
		Enabled:                true,
		Provider:               "sftp",
		AutoUpload:             true,
		VerifyUpload:           true,
		DeleteLocalAfterUpload: true,
	}
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	fp := &fakeProvider{verdict: remote.VerifyMatch}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithProvider(fp), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if len(fp.uploads) != 1 {
		t.Fatalf("uploads = %v, want 1", fp.uploads)
	}
	if fp.cleanups != 1 {
		t.Errorf("remote cleanup calls = %d, want 1", fp.cleanups)
	}
	if _, err := os.Stat(fp.uploads[0]); !os.IsNotExist(err) {
		t.Errorf("local artifact %q survived a verified upload with delete-local on", fp.uploads[0])
	}
}

func TestReplicateMismatchKeepsLocal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = config.RemoteConfig{
		Enabled:                true,
		Provider:               "sftp",
		AutoUpload:             true,
		VerifyUpload:           true,
		DeleteLocalAfterUpload: true,
	}
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	fp := &fakeProvider{verdict: remote.VerifyMismatch}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithProvider(fp), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if _, err := os.Stat(fp.uploads[0]); err != nil {
		t.Errorf("local artifact removed despite verification mismatch: %v", err)
	}
}

func TestReplicateDeleteLocalWithoutVerification(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = config.RemoteConfig{
		Enabled:                true,
		Provider:               "sftp",
		AutoUpload:             true,
		VerifyUpload:           false,
		DeleteLocalAfterUpload: true,
	}
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	fp := &fakeProvider{}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithProvider(fp), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if _, err := os.Stat(fp.uploads[0]); !os.IsNotExist(err) {
		t.Errorf("local artifact kept; with verification off a completed upload permits deletion")
	}
}

func TestReplicateUploadFailureIsNonFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote = config.RemoteConfig{
		Enabled:    true,
		Provider:   "sftp",
		AutoUpload: true,
	}
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	fp := &fakeProvider{uploadErr: errors.New("connection refused")}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithProvider(fp), WithConfirmer(approveAll))
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("upload failure escalated to a run failure: %v", err)
	}

	arts, _ := retention.List(cfg.Backup.Root, "plex", "")
	if len(arts) != 1 {
		t.Fatalf("local artifact missing after failed upload")
	}
}

func TestBackupAllContinuesPastFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{
		{Name: "plex", DataRoot: dataRootFixture(t)},
		{Name: "jellyfin", DataRoot: filepath.Join(t.TempDir(), "missing")},
		{Name: "sonarr", DataRoot: dataRootFixture(t)},
	}
	rt := &fakeRuntime{states: map[string]runtime.State{
		"plex":     runtime.StateExited,
		"jellyfin": runtime.StateExited,
		"sonarr":   runtime.StateExited,
	}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	err := op.BackupAll()
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("err = %v, want a 1-of-3 summary", err)
	}

	for _, unit := range []string{"plex", "sonarr"} {
		arts, _ := retention.List(cfg.Backup.Root, unit, "")
		if len(arts) != 1 {
			t.Errorf("unit %s: got %d artifacts, want 1", unit, len(arts))
		}
	}
}

func TestBackupAllNoUnits(t *testing.T) {
	cfg := testConfig(t)
	rt := &fakeRuntime{states: map[string]runtime.State{}}
	op := newTestOperator(t, cfg, WithRuntime(rt))
	if err := op.BackupAll(); !errors.Is(err, ErrNoUnits) {
		t.Fatalf("err = %v, want ErrNoUnits", err)
	}
}

func TestBackupUnitRetentionKeepsNewest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.LocalKeep = 1
	dataRoot := dataRootFixture(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRoot}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))

	// Seed an old artifact that retention should displace.
	oldDir := filepath.Join(cfg.Backup.Root, "2020-01-01_00-00-00")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldArt := filepath.Join(oldDir, "plex_2020-01-01_00-00-00.tar.gz")
	if err := os.WriteFile(oldArt, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	arts, err := retention.List(cfg.Backup.Root, "plex", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 1 {
		t.Fatalf("got %d artifacts after retention, want 1", len(arts))
	}
	if arts[0].Path == oldArt {
		t.Error("retention kept the old artifact instead of the new one")
	}
}

func TestBackupUnitDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateRunning}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll), WithDryRun())
	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	if len(rt.stops) != 0 {
		t.Errorf("dry run stopped a unit: %v", rt.stops)
	}
	arts, _ := retention.List(cfg.Backup.Root, "plex", "")
	if len(arts) != 0 {
		t.Errorf("dry run wrote artifacts: %v", arts)
	}
}

func TestBackupUnitCompressionFailureRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Units = []config.UnitConfig{{Name: "archtrail", DataRoot: filepath.Join(t.TempDir(), "missing")}}
	rt := &fakeRuntime{states: map[string]runtime.State{"archtrail": runtime.StateExited}}

	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))
	if err := op.BackupUnit("archtrail"); !errors.Is(err, ErrCompression) {
		t.Fatalf("err = %v, want ErrCompression", err)
	}

	found := false
	for _, line := range logger.Tail() {
		if strings.Contains(line, "run record") && strings.Contains(line, "archtrail") {
			found = true
			break
		}
	}
	if !found {
		t.Error("compression failure left no run record in the session log")
	}
}

func TestBackupUnitCustomStampFormat(t *testing.T) {
	const format = "20060102-150405"
	cfg := testConfig(t)
	cfg.Backup.TimestampFormat = format
	cfg.Retention.LocalKeep = 1
	cfg.Units = []config.UnitConfig{{Name: "plex", DataRoot: dataRootFixture(t)}}
	rt := &fakeRuntime{states: map[string]runtime.State{"plex": runtime.StateExited}}
	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))

	oldDir := filepath.Join(cfg.Backup.Root, "20200101-000000")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldArt := filepath.Join(oldDir, "plex_20200101-000000.tar.gz")
	if err := os.WriteFile(oldArt, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := op.BackupUnit("plex"); err != nil {
		t.Fatalf("BackupUnit: %v", err)
	}

	arts, err := op.ListArtifacts("plex")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("got %d artifacts with custom stamp format, want 1", len(arts))
	}
	if arts[0].Path == oldArt {
		t.Error("retention kept the old artifact instead of the new one")
	}
}

func TestEnforceLocalRetentionFailureWrapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.LocalKeep = 1
	// A backup root that is a regular file makes enumeration fail.
	root := filepath.Join(t.TempDir(), "root")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Backup.Root = root
	op := newTestOperator(t, cfg, WithRuntime(&fakeRuntime{states: map[string]runtime.State{}}))

	if err := op.enforceLocalRetention("plex"); !errors.Is(err, ErrRetention) {
		t.Fatalf("err = %v, want ErrRetention", err)
	}
}

func TestBulkCleanupRequiresConfirmation(t *testing.T) {
	cfg := testConfig(t)
	rt := &fakeRuntime{states: map[string]runtime.State{}}
	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(func(string) bool { return false }))

	if _, err := op.BulkCleanup("plex"); !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
}

func TestBulkCleanupRemovesEverything(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.Backup.Root, "2024-06-01_12-00-00")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"plex_2024-06-01_12-00-00.tar.gz", "sonarr_2024-06-01_12-00-00.tar.gz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rt := &fakeRuntime{states: map[string]runtime.State{}}
	op := newTestOperator(t, cfg, WithRuntime(rt), WithConfirmer(approveAll))

	removed, err := op.BulkCleanup("")
	if err != nil {
		t.Fatalf("BulkCleanup: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if arts, _ := retention.List(cfg.Backup.Root, "", ""); len(arts) != 0 {
		t.Errorf("artifacts remain after bulk cleanup: %v", arts)
	}
}

func TestRemoteTestWithoutProvider(t *testing.T) {
	cfg := testConfig(t)
	rt := &fakeRuntime{states: map[string]runtime.State{}}
	op := newTestOperator(t, cfg, WithRuntime(rt))

	if err := op.RemoteTest(); err == nil {
		t.Fatal("expected an error with no provider configured")
	}
}

func TestRemoteTestPassesThrough(t *testing.T) {
	cfg := testConfig(t)
	rt := &fakeRuntime{states: map[string]runtime.State{}}
	connErr := errors.New("auth failed")
	op := newTestOperator(t, cfg, WithRuntime(rt), WithProvider(&fakeProvider{testErr: connErr}))

	if err := op.RemoteTest(); !errors.Is(err, connErr) {
		t.Fatalf("err = %v, want the provider's connection error", err)
	}
}
