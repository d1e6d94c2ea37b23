package manager

import (
	"context"
	"path/filepath"
	"time"

	"llamad/internal/catalog"
	"llamad/internal/proc"
	"llamad/pkg/types"
)

// launched holds the result of a successful spawn-and-health-gate cycle.
type launched struct {
	handle proc.Handle
	port   int
}

// launchBackend spawns a llama-server for cfg and waits for it to pass the
// health gate. name is the supervisor-side process name (the model ID, or a
// transient candidate name during restarts). A port conflict detected at
// bind-check time is retried once with a fresh allocation. On error the
// child, if any, is already killed and the port released.
func (m *Manager) launchBackend(ctx context.Context, name string, cfg types.LaunchConfig, timeout time.Duration) (launched, error) {
	var lastErr error
	var busy []int
	defer func() {
		// Externally held ports stay marked in flight only for the span of
		// the retry loop; the holder may release them at any time.
		for _, p := range busy {
			m.releasePort(p)
		}
	}()
	requested := cfg.Port
	for attempt := 0; attempt < 2; attempt++ {
		port, err := m.claimPort(requested)
		if err != nil {
			return launched{}, err
		}
		if !portFree(m.cfg.BackendHost, port) {
			// Someone outside the registry holds the port. Keep it marked
			// in flight so the retry skips past it.
			m.log.Warn().Str("instance", name).Int("port", port).Msg("allocated port is busy, re-allocating")
			busy = append(busy, port)
			requested = 0
			lastErr = &portExhaustedError{base: m.cfg.BasePort, window: m.cfg.PortWindow}
			continue
		}

		// The port stays marked in flight until the caller registers the
		// instance (or gives up), so a concurrent launch cannot claim it.
		l, err := m.spawnAndGate(ctx, name, cfg, port, timeout)
		if err != nil {
			m.releasePort(port)
			return launched{}, err
		}
		return l, nil
	}
	return launched{}, lastErr
}

func (m *Manager) spawnAndGate(ctx context.Context, name string, cfg types.LaunchConfig, port int, timeout time.Duration) (launched, error) {
	spec := proc.Spec{
		Name:    name,
		Command: m.cfg.LlamaBin,
		Args:    buildArgs(cfg, m.cfg.BackendHost, port, m.cfg.ModelsDir),
		Env:     cfg.Env,
		WorkDir: filepath.Dir(cfg.ModelPath),
	}
	handle, err := m.launcher.Launch(spec)
	if err != nil {
		metricSpawns.WithLabelValues(name, "error").Inc()
		return launched{}, err
	}
	m.log.Info().Str("instance", name).Int("port", port).Int("pid", handle.PID()).
		Str("model", cfg.ModelPath).Msg("backend spawned")

	if err := m.awaitReady(ctx, name, m.baseURL(port), timeout, handle.Done(), handle.ExitErr); err != nil {
		handle.Kill()
		metricSpawns.WithLabelValues(name, "unhealthy").Inc()
		return launched{}, err
	}
	metricSpawns.WithLabelValues(name, "ok").Inc()
	return launched{handle: handle, port: port}, nil
}

// StartModel launches an instance for the model and blocks until it is
// healthy or the startup deadline expires.
func (m *Manager) StartModel(ctx context.Context, id string) error {
	if err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)

	m.mu.Lock()
	if inst, ok := m.instances[id]; ok && inst.Status != StatusCrashed && inst.Status != StatusStopped {
		m.mu.Unlock()
		return &alreadyRunningError{id: id}
	}
	m.starting[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.starting, id)
		m.mu.Unlock()
	}()

	cfg, err := m.resolveConfig(id)
	if err != nil {
		return err
	}
	m.publish(Event{Name: EventInstanceStarting, InstanceID: id, Time: time.Now()})

	timeout := time.Duration(m.cfg.HealthTimeoutSec) * time.Second
	l, err := m.launchBackend(ctx, id, cfg, timeout)
	if err != nil {
		m.log.Error().Str("instance", id).Err(err).Msg("start failed")
		return err
	}
	m.adopt(id, cfg, l)
	m.log.Info().Str("instance", id).Int("port", l.port).Msg("instance healthy")
	m.publish(Event{Name: EventInstanceHealthy, InstanceID: id, Time: time.Now(),
		Fields: map[string]any{"port": l.port}})
	return nil
}

// adopt registers a gated process as the serving instance for id and wires
// up its crash watcher and background health loop.
func (m *Manager) adopt(id string, cfg types.LaunchConfig, l launched) {
	m.mu.Lock()
	gen := m.nextGenLocked()
	inst := &Instance{
		ID:           id,
		Config:       cfg,
		Port:         l.port,
		PID:          l.handle.PID(),
		Status:       StatusHealthy,
		LastHealthAt: time.Now(),
		LastHealthOK: true,
		handle:       l.handle,
		gen:          gen,
	}
	m.instances[id] = inst
	delete(m.inflightPorts, l.port)
	m.mu.Unlock()

	go m.watchExit(id, gen, l.handle)
	go m.healthLoop(id, gen, m.baseURL(l.port), l.handle.Done())
}

// watchExit marks the instance crashed if its process exits while still
// registered under the same generation.
func (m *Manager) watchExit(id string, gen uint64, h proc.Handle) {
	<-h.Done()

	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok || inst.gen != gen {
		m.mu.Unlock()
		return
	}
	inst.Status = StatusCrashed
	inst.PID = 0
	m.mu.Unlock()

	metricCrashes.WithLabelValues(id).Inc()
	m.log.Error().Str("instance", id).Err(h.ExitErr()).Msg("instance crashed")
	m.publish(Event{Name: EventInstanceCrashed, InstanceID: id, Time: time.Now()})
}

// StartDefault launches the configured default model, if any and present in
// the catalog. Called at daemon startup when autostart is enabled.
func (m *Manager) StartDefault(ctx context.Context) error {
	if m.cfg.DefaultModel == "" {
		return nil
	}
	if _, ok := catalog.Find(m.Models(), m.cfg.DefaultModel); !ok {
		m.log.Warn().Str("model", m.cfg.DefaultModel).Msg("default model not found, skipping autostart")
		return nil
	}
	return m.StartModel(ctx, m.cfg.DefaultModel)
}
