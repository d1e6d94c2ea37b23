package manager

import (
	"time"

	"llamad/internal/proc"
	"llamad/pkg/types"
)

// Status is the lifecycle state of a backend instance.
type Status string

const (
	StatusStopped    Status = "stopped"
	StatusStarting   Status = "starting"
	StatusHealthy    Status = "healthy"
	StatusDegraded   Status = "degraded"
	StatusCrashed    Status = "crashed"
	StatusRestarting Status = "restarting"
)

// routable reports whether requests may be dispatched to this state.
func (s Status) routable() bool { return s == StatusHealthy }

// Instance is one backend llama-server process plus its metadata.
// All fields are guarded by the Manager mutex; the proc handle is owned by
// the supervisor and never terminated through the registry directly.
type Instance struct {
	ID     string
	Config types.LaunchConfig
	Port   int
	PID    int
	Status Status

	LastHealthAt time.Time
	LastHealthOK bool

	Metrics types.InstanceMetrics

	handle proc.Handle
	// generation counter distinguishes a replaced process from its
	// predecessor so stale crash watchers and health loops retire cleanly.
	gen uint64
}

// Launcher starts child processes. proc.Runner is the production
// implementation; tests substitute fakes.
type Launcher interface {
	Launch(spec proc.Spec) (proc.Handle, error)
}

// ConfigStore is the persisted-configuration collaborator. The manager never
// assumes a storage medium beyond these operations.
type ConfigStore interface {
	Get(modelID string) (types.LaunchConfig, bool, error)
	Put(modelID string, cfg types.LaunchConfig) error
}
