package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mediback/mediback/internal/archive"
	"github.com/mediback/mediback/internal/ledger"
	"github.com/mediback/mediback/internal/logger"
	"github.com/mediback/mediback/internal/remote"
	"github.com/mediback/mediback/internal/retention"
	"github.com/mediback/mediback/internal/runtime"
	"github.com/mediback/mediback/internal/verify"
)

// BackupUnit runs the full state machine for one unit. Ordering within the
// run: verify, stop, compress, restart, ledger, replicate, retention. The
// restart of a unit this run stopped is mandatory cleanup and happens even
// when compression fails or the run context is cancelled.
func (o *Operator) BackupUnit(name string) error {
	dataRoot, err := o.resolveDataRoot(name)
	if err != nil {
		return err
	}

	entry := ledger.Entry{
		Unit:            name,
		StartedAt:       time.Now(),
		StopForBackup:   o.cfg.Backup.StopForBackup && !o.skipStop,
		VerifyIntegrity: o.cfg.Backup.VerifyIntegrity && !o.skipVerify,
		Compression:     o.compressionOptions().Format,
		AutoUpload:      o.cfg.Remote.AutoUpload,
		DeleteLocal:     o.cfg.Remote.DeleteLocalAfterUpload,
		AutoApproved:    o.autoApprove,
		DryRun:          o.dryRun,
	}

	state, err := o.rt.State(o.ctx, name)
	if err != nil {
		return err
	}
	if state == runtime.StateNotFound {
		return fmt.Errorf("%w: %q", runtime.ErrNotFound, name)
	}
	entry.PreRunState = string(state)
	entry.WasRunning = state == runtime.StateRunning

	o.log.Info("backup run started",
		"unit", name,
		"state", string(state),
		"data_root", dataRoot,
	)

	// Integrity gate: fatal before any lifecycle transition.
	if entry.VerifyIntegrity {
		report, err := verify.Run(o.ctx, dataRoot, o.log)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		entry.IntegritySummary = report.Summary()
		if !report.Passed {
			o.log.Error("aborting before lifecycle transition",
				"unit", name,
				"integrity", report.Summary(),
			)
			o.finishEntry(&entry, "", fmt.Sprintf("%v", ErrIntegrity))
			return fmt.Errorf("%w: %s", ErrIntegrity, report.Summary())
		}
	}

	stopped, err := o.stopIfNeeded(name, &entry)
	if err != nil {
		o.finishEntry(&entry, "", err.Error())
		return err
	}
	entry.Stopped = stopped

	stamp := time.Now().Format(o.cfg.Backup.TimestampFormat)
	runDir := filepath.Join(o.cfg.Backup.Root, stamp)

	// Compression brackets: the deferred restart fires whether the
	// pipeline succeeds, fails or is interrupted.
	var art *archive.Artifact
	cerr := func() error {
		if stopped {
			defer o.restart(name, &entry)
		}
		if o.dryRun {
			o.log.Info("dry run: would archive", "unit", name, "data_root", dataRoot, "dest", runDir)
			return nil
		}
		var err error
		art, err = archive.Compress(o.ctx, dataRoot, runDir, name, stamp, o.compressionOptions(), o.log)
		return err
	}()

	if cerr != nil {
		o.log.Error("backup failed", "unit", name, "error", cerr.Error())
		o.finishEntry(&entry, "", cerr.Error())
		return fmt.Errorf("%w: %v", ErrCompression, cerr)
	}

	entry.CompletedAt = time.Now()
	entry.Status = "success"
	if art != nil {
		entry.ArtifactPath = art.Path
		entry.ArtifactBytes = art.SizeBytes
		entry.RawBytes = art.RawBytes
	}
	entry.LogTail = logger.Tail()
	if art != nil {
		if err := entry.Write(ledger.SidecarFor(art.Path)); err != nil {
			o.log.Warn("ledger write failed", "unit", name, "error", err.Error())
		}
	} else {
		o.log.Info("no artifact this run, ledger not persisted", "unit", name)
	}

	// Non-fatal tail of the run: the local backup already stands.
	if art != nil {
		if err := o.replicate(art); err != nil {
			o.log.Error("replication failed, local backup stands",
				"unit", name,
				"error", err.Error(),
			)
		}
		if !o.dryRun {
			if err := o.enforceLocalRetention(name); err != nil {
				o.log.Error("local retention failed", "unit", name, "error", err.Error())
			}
		}
	}

	o.log.Info("backup run complete",
		"unit", name,
		"artifact", entry.ArtifactPath,
		"bytes", entry.ArtifactBytes,
	)
	return nil
}

// BackupAll processes every configured unit strictly sequentially. A unit
// failure never aborts the batch; the summary decides the exit status.
func (o *Operator) BackupAll() error {
	if len(o.cfg.Units) == 0 {
		return ErrNoUnits
	}

	failed := 0
	for _, u := range o.cfg.Units {
		if err := o.BackupUnit(u.Name); err != nil {
			failed++
			o.log.Error("unit backup failed", "unit", u.Name, "error", err.Error())
		}
	}

	o.log.Info("batch complete",
		"succeeded", len(o.cfg.Units)-failed,
		"total", len(o.cfg.Units),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d unit backups failed", failed, len(o.cfg.Units))
	}
	return nil
}

// enforceLocalRetention applies the local keep policy for unit. Failures
// are wrapped in ErrRetention; the caller decides they are non-fatal.
func (o *Operator) enforceLocalRetention(unit string) error {
	_, err := retention.Enforce(
		o.cfg.Backup.Root, unit,
		o.cfg.Retention.LocalKeep, o.cfg.Backup.TimestampFormat,
		o.log,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetention, err)
	}
	return nil
}

func (o *Operator) resolveDataRoot(name string) (string, error) {
	for _, u := range o.cfg.Units {
		if u.Name == name && u.DataRoot != "" {
			return u.DataRoot, nil
		}
	}
	return o.rt.DataRoot(o.ctx, name)
}

func (o *Operator) compressionOptions() archive.Options {
	opts := archive.Options{
		Format:   o.cfg.Compression.Format,
		Level:    o.cfg.Compression.Level,
		Workers:  o.cfg.Compression.Workers,
		Progress: o.progress,
	}
	if !o.cfg.Compression.Enabled {
		opts.Format = "none"
	}
	return opts
}

// stopIfNeeded applies the stop policy with its confirmation gate. Returns
// whether this run stopped the unit.
func (o *Operator) stopIfNeeded(name string, entry *ledger.Entry) (bool, error) {
	if !entry.WasRunning {
		return false, nil
	}

	if !entry.StopForBackup {
		if !o.approve(fmt.Sprintf("Back up %q while it is running? Databases may be in flight.", name)) {
			return false, fmt.Errorf("%w: unsafe backup of %q declined", ErrAborted, name)
		}
		entry.Unsafe = true
		o.log.Warn("backing up a running unit", "unit", name)
		return false, nil
	}

	if !o.approve(fmt.Sprintf("Stop unit %q for the duration of the backup?", name)) {
		return false, fmt.Errorf("%w: stop of %q declined", ErrAborted, name)
	}
	if o.dryRun {
		o.log.Info("dry run: would stop unit", "unit", name)
		return false, nil
	}

	stopCtx, cancel := context.WithTimeout(o.ctx, o.cfg.Backup.StopTimeout+5*time.Second)
	defer cancel()
	if err := o.rt.Stop(stopCtx, name, o.cfg.Backup.StopTimeout); err != nil {
		return false, fmt.Errorf("%w: %v", ErrLifecycleTimeout, err)
	}

	// Never assume a command succeeded without observation.
	state, err := o.rt.State(o.ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: state re-check: %v", ErrLifecycleTimeout, err)
	}
	if state == runtime.StateRunning {
		return false, fmt.Errorf("%w: %q still running after stop", ErrLifecycleTimeout, name)
	}
	o.log.Info("unit stopped", "unit", name, "state", string(state))
	return true, nil
}

// restart brings a unit this run stopped back up. It runs detached from
// the run context: an interrupt mid-compression must not skip it. Failure
// to reach running is a warning; the backup result stands on its own.
func (o *Operator) restart(name string, entry *ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Backup.StopTimeout+5*time.Second)
	defer cancel()

	if err := o.rt.Start(ctx, name); err != nil {
		o.log.Warn("restart command failed", "unit", name, "error", err.Error())
	}
	time.Sleep(o.cfg.Backup.SettleDelay)

	state, err := o.rt.State(ctx, name)
	if err != nil {
		o.log.Warn("post-restart state check failed", "unit", name, "error", err.Error())
		state = runtime.StateUnknown
	}
	entry.PostRunState = string(state)
	entry.Restarted = state == runtime.StateRunning
	if entry.Restarted {
		o.log.Info("unit restarted", "unit", name)
	} else {
		o.log.Warn("unit did not return to running", "unit", name, "state", string(state))
	}
}

// replicate uploads the artifact, optionally verifies it, runs remote
// retention, and applies the delete-local policy. Local deletion requires
// an upload that was not contradicted by verification, and happens only
// after remote cleanup.
func (o *Operator) replicate(art *archive.Artifact) error {
	if o.provider == nil || !o.cfg.Remote.Enabled || o.localOnly {
		o.log.Info("replication skipped", "unit", art.Unit)
		return nil
	}
	if !o.cfg.Remote.AutoUpload {
		o.log.Info("auto-upload disabled, artifact kept local", "unit", art.Unit)
		return nil
	}
	if o.dryRun {
		o.log.Info("dry run: would upload", "unit", art.Unit, "provider", o.provider.Name())
		return nil
	}

	if err := o.provider.Upload(o.ctx, art.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrReplication, err)
	}

	verdict := remote.VerifyUnknown
	if o.cfg.Remote.VerifyUpload {
		v, err := o.provider.Verify(o.ctx, art.Path)
		if err != nil {
			o.log.Warn("upload verification unavailable", "unit", art.Unit, "error", err.Error())
		}
		verdict = v
		o.log.Info("upload verified", "unit", art.Unit, "verdict", verdict.String())
		if verdict == remote.VerifyMismatch {
			o.log.Error("remote size mismatch, keeping local artifact", "unit", art.Unit)
		}
	}

	if err := o.provider.Cleanup(o.ctx, art.Unit, o.cfg.Retention.RemoteKeep); err != nil {
		o.log.Error("remote retention failed", "unit", art.Unit, "error", err.Error())
	}

	if o.cfg.Remote.DeleteLocalAfterUpload {
		allowed := !o.cfg.Remote.VerifyUpload || verdict == remote.VerifyMatch
		if !allowed {
			o.log.Warn("delete-local suppressed, upload not verified", "unit", art.Unit)
			return nil
		}
		if err := os.Remove(art.Path); err != nil {
			o.log.Warn("delete-local failed", "unit", art.Unit, "error", err.Error())
			return nil
		}
		o.log.Info("local artifact removed after upload", "unit", art.Unit, "path", art.Path)
	}
	return nil
}

// finishEntry records a run that produced no artifact. The entry goes to
// the session log only; there is nothing to put a sidecar next to.
func (o *Operator) finishEntry(entry *ledger.Entry, status, errMsg string) {
	entry.CompletedAt = time.Now()
	if status == "" {
		status = "failed"
	}
	entry.Status = status
	entry.Error = errMsg
	entry.LogTail = logger.Tail()
	o.log.Info("run record",
		"unit", entry.Unit,
		"status", entry.Status,
		"pre_run_state", entry.PreRunState,
		"stopped", entry.Stopped,
	)
}
