package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("unit not found")
	ErrStopFailed  = errors.New("unit stop failed")
	ErrStartFailed = errors.New("unit start failed")
)

// State is a unit's lifecycle state as reported by the container runtime.
// It is read fresh for every check, never cached across checks.
type State string

const (
	StateRunning    State = "running"
	StateExited     State = "exited"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateNotFound   State = "not_found"
	StateUnknown    State = "unknown"
)

// Runtime is the container runtime capability the engine drives units
// through. It is an opaque boundary: implementations observe and command,
// the engine decides.
type Runtime interface {
	// State reports the unit's current lifecycle state.
	State(ctx context.Context, name string) (State, error)
	// Stop requests a bounded-timeout stop. The caller re-checks state
	// afterwards; Stop returning nil is not proof the unit stopped.
	Stop(ctx context.Context, name string, timeout time.Duration) error
	// Start requests a start. Same observation rule as Stop.
	Start(ctx context.Context, name string) error
	// DataRoot resolves the unit's persistent data directory from its
	// mounts, for units with no data_root configured.
	DataRoot(ctx context.Context, name string) (string, error)
}
