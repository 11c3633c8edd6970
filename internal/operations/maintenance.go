package operations

import (
	"fmt"

	"github.com/mediback/mediback/internal/retention"
)

// ListArtifacts enumerates local artifacts, newest first. An empty unit
// lists every unit.
func (o *Operator) ListArtifacts(unit string) ([]retention.Artifact, error) {
	return retention.List(o.cfg.Backup.Root, unit, o.cfg.Backup.TimestampFormat)
}

// BulkCleanup deletes every local artifact for unit (all units when unit
// is empty). This is the explicit destructive operation, distinct from
// retention; it demands confirmation every time.
func (o *Operator) BulkCleanup(unit string) (int, error) {
	scope := unit
	if scope == "" {
		scope = "ALL units"
	}
	if !o.approve(fmt.Sprintf("Delete every local backup artifact for %s? This cannot be undone.", scope)) {
		return 0, fmt.Errorf("%w: bulk cleanup declined", ErrAborted)
	}
	if o.dryRun {
		arts, err := o.ListArtifacts(unit)
		if err != nil {
			return 0, err
		}
		o.log.Info("dry run: would delete artifacts", "count", len(arts))
		return 0, nil
	}
	return retention.Purge(o.cfg.Backup.Root, unit, o.cfg.Backup.TimestampFormat, o.log)
}

// RemoteTest performs the provider's lightweight connection check. Usable
// as a pre-flight gate and as an operator diagnostic.
func (o *Operator) RemoteTest() error {
	if o.provider == nil {
		return fmt.Errorf("remote storage is not enabled")
	}
	if err := o.provider.Test(o.ctx); err != nil {
		return err
	}
	o.log.Info("remote connection ok", "provider", o.provider.Name())
	return nil
}
