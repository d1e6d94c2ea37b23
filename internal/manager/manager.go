// Package manager supervises llama-server child processes: launching,
// health gating, port allocation, restart coordination, and request routing.
package manager

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamad/internal/catalog"
	"llamad/internal/config"
	"llamad/internal/proc"
	"llamad/pkg/types"
)

// Manager owns the instance registry. One instance per model ID; ports are
// unique across all non-stopped instances.
type Manager struct {
	mu            sync.RWMutex
	instances     map[string]*Instance
	busy          map[string]bool
	restarting    map[string]bool
	starting      map[string]bool
	inflightPorts map[int]bool
	reserved      map[int]bool
	genSeq        uint64

	models []types.Model

	cfg       config.Config
	launcher  Launcher
	store     ConfigStore
	publisher EventPublisher
	events    *Bus

	httpClient *http.Client
	log        zerolog.Logger

	startedAt time.Time
}

// Options bundles the collaborators New needs.
type Options struct {
	Config    config.Config
	Models    []types.Model
	Launcher  Launcher
	Store     ConfigStore
	Publisher EventPublisher
	Logger    zerolog.Logger
}

func New(opts Options) *Manager {
	pub := opts.Publisher
	if pub == nil {
		pub = NoopPublisher()
	}
	reserved := make(map[int]bool, len(opts.Config.ReservedPorts))
	for _, p := range opts.Config.ReservedPorts {
		reserved[p] = true
	}
	return &Manager{
		instances:     make(map[string]*Instance),
		busy:          make(map[string]bool),
		restarting:    make(map[string]bool),
		starting:      make(map[string]bool),
		inflightPorts: make(map[int]bool),
		reserved:      reserved,
		models:        opts.Models,
		cfg:           opts.Config,
		launcher:      opts.Launcher,
		store:         opts.Store,
		publisher:     pub,
		events:        NewBus(),
		httpClient:    &http.Client{},
		log:           opts.Logger,
		startedAt:     time.Now(),
	}
}

// Events returns the bus lifecycle listeners subscribe to.
func (m *Manager) Events() *Bus { return m.events }

func (m *Manager) publish(ev Event) {
	m.publisher.Publish(ev)
	m.events.Publish(ev)
}

// Models returns the scanned model catalog.
func (m *Manager) Models() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.models))
	copy(out, m.models)
	return out
}

// RefreshModels rescans the models directory.
func (m *Manager) RefreshModels() error {
	models, err := catalog.LoadDir(m.cfg.ModelsDir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.models = models
	m.mu.Unlock()
	return nil
}

// ReadyModelIDs lists the model IDs that can take traffic right now.
func (m *Manager) ReadyModelIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.Status.routable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Ready reports whether the daemon can serve inference. With a default
// model configured it means that model is routable; without one the catalog
// scan alone is enough.
func (m *Manager) Ready() bool {
	if m.cfg.DefaultModel == "" {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[m.cfg.DefaultModel]
	return ok && inst.Status.routable()
}

// acquire marks id busy so starts and restarts serialize per instance.
func (m *Manager) acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[id] {
		return &operationInProgressError{id: id}
	}
	m.busy[id] = true
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

func (m *Manager) baseURL(port int) string {
	return fmt.Sprintf("http://%s:%d", m.cfg.BackendHost, port)
}

// resolveConfig builds the launch config for a model: the persisted config
// when one exists, otherwise defaults derived from the catalog entry.
func (m *Manager) resolveConfig(id string) (types.LaunchConfig, error) {
	if m.store != nil {
		cfg, ok, err := m.store.Get(id)
		if err != nil {
			return types.LaunchConfig{}, fmt.Errorf("load config for %s: %w", id, err)
		}
		if ok {
			return cfg, nil
		}
	}
	m.mu.RLock()
	mdl, ok := catalog.Find(m.models, id)
	m.mu.RUnlock()
	if !ok {
		return types.LaunchConfig{}, &modelNotFoundError{id: id}
	}
	return types.LaunchConfig{ModelPath: mdl.Path, CtxSize: m.cfg.CtxSize}, nil
}

// Logs returns captured output for an instance starting at offset.
func (m *Manager) Logs(id string, offset int) (types.ProcessLogs, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	var handle proc.Handle
	if ok {
		handle = inst.handle
	}
	m.mu.RUnlock()
	if !ok {
		return types.ProcessLogs{}, &modelNotFoundError{id: id}
	}
	if handle == nil {
		return types.ProcessLogs{NextOffset: offset}, nil
	}
	lines, next := handle.Logs(offset)
	return types.ProcessLogs{Lines: lines, NextOffset: next, Running: handle.Running()}, nil
}

// StopModel gracefully terminates an instance and drops it from routing.
func (m *Manager) StopModel(id string) error {
	if err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)

	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return &modelNotFoundError{id: id}
	}
	handle := inst.handle
	inst.Status = StatusStopped
	inst.gen = m.nextGenLocked()
	delete(m.instances, id)
	m.mu.Unlock()

	if handle != nil {
		handle.Stop(time.Duration(m.cfg.StopTimeoutSec) * time.Second)
	}
	m.log.Info().Str("instance", id).Msg("instance stopped")
	m.publish(Event{Name: EventInstanceStopped, InstanceID: id, Time: time.Now()})
	return nil
}

// Shutdown stops every running instance. Called on daemon exit so no child
// outlives the supervisor.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make(map[string]interface{ Stop(time.Duration) error }, len(m.instances))
	for id, inst := range m.instances {
		if inst.handle != nil {
			handles[id] = inst.handle
		}
		inst.Status = StatusStopped
		inst.gen = m.nextGenLocked()
	}
	m.instances = make(map[string]*Instance)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, h := range handles {
		wg.Add(1)
		go func(id string, h interface{ Stop(time.Duration) error }) {
			defer wg.Done()
			h.Stop(time.Duration(m.cfg.StopTimeoutSec) * time.Second)
			m.log.Info().Str("instance", id).Msg("instance stopped")
		}(id, h)
	}
	wg.Wait()
}

func (m *Manager) nextGenLocked() uint64 {
	m.genSeq++
	return m.genSeq
}

// snapshotLocked renders one instance for status reporting. An in-flight
// restart is reported as restarting even though the serving process stays
// healthy and routable until the candidate is promoted.
func (m *Manager) snapshotLocked(inst *Instance) types.InstanceStatus {
	state := inst.Status
	if m.restarting[inst.ID] {
		state = StatusRestarting
	}
	st := types.InstanceStatus{
		ID:             inst.ID,
		State:          string(state),
		ModelPath:      inst.Config.ModelPath,
		DraftModelPath: inst.Config.DraftModelPath,
		Port:           inst.Port,
		PID:            inst.PID,
		Metrics:        inst.Metrics,
	}
	if !inst.LastHealthAt.IsZero() {
		st.LastHealthCheck = inst.LastHealthAt.Unix()
		st.LastHealthOK = inst.LastHealthOK
	}
	return st
}

// Status reports every known instance plus in-flight operations.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		Instances: make([]types.InstanceStatus, 0, len(m.instances)),
	}
	for _, inst := range m.instances {
		resp.Instances = append(resp.Instances, m.snapshotLocked(inst))
	}
	resp.Restarting = len(m.restarting)
	resp.Starting = len(m.starting)
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].ID < resp.Instances[j].ID })
	return resp
}

// Instance returns the status snapshot for one instance.
func (m *Manager) Instance(id string) (types.InstanceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return types.InstanceStatus{}, &modelNotFoundError{id: id}
	}
	return m.snapshotLocked(inst), nil
}
