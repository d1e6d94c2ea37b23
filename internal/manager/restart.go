package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llamad/pkg/types"
)

// Restart replaces an instance's process with one launched from newCfg,
// committing only after the candidate passes the health gate. The serving
// process keeps taking requests until the moment of promotion; on any
// candidate failure it is left untouched.
//
// When the candidate fails and newCfg carries a draft model, the draft
// configuration is assumed to be the culprit (the common failure mode for
// speculative decoding setups) and is stripped from the persisted config so
// the next launch attempt works.
func (m *Manager) Restart(ctx context.Context, id string, newCfg types.LaunchConfig) (types.RestartResult, error) {
	if err := m.acquire(id); err != nil {
		return types.RestartResult{}, err
	}
	defer m.release(id)

	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return types.RestartResult{}, &modelNotFoundError{id: id}
	}
	if inst.Config.ModelPath != "" && newCfg.ModelPath == "" {
		newCfg.ModelPath = inst.Config.ModelPath
	}
	m.restarting[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.restarting, id)
		m.mu.Unlock()
	}()

	m.log.Info().Str("instance", id).Str("model", newCfg.ModelPath).
		Str("draft", newCfg.DraftModelPath).Msg("restart started")
	m.publish(Event{Name: EventRestartStarted, InstanceID: id, Time: time.Now()})

	// Candidates get twice the startup deadline: a restart often reloads a
	// bigger context or adds a draft model, both slower than a cold start.
	timeout := 2 * time.Duration(m.cfg.HealthTimeoutSec) * time.Second
	candName := fmt.Sprintf("%s-candidate-%s", id, uuid.NewString()[:8])
	l, err := m.launchBackend(ctx, candName, newCfg, timeout)
	if err != nil {
		return m.rollback(id, newCfg, err), nil
	}

	// Promote: swap the registry entry to the candidate, then retire the
	// old process. In-flight requests against the old port run to
	// completion; new requests route to the candidate.
	m.mu.Lock()
	inst, ok = m.instances[id]
	if !ok {
		// Stopped out from under us between gate and promote.
		m.mu.Unlock()
		l.handle.Stop(time.Duration(m.cfg.StopTimeoutSec) * time.Second)
		m.releasePort(l.port)
		return types.RestartResult{}, &modelNotFoundError{id: id}
	}
	oldHandle := inst.handle
	inst.Config = newCfg
	inst.Port = l.port
	inst.PID = l.handle.PID()
	inst.Status = StatusHealthy
	inst.LastHealthAt = time.Now()
	inst.LastHealthOK = true
	inst.Metrics = types.InstanceMetrics{}
	inst.handle = l.handle
	gen := m.nextGenLocked()
	inst.gen = gen
	delete(m.inflightPorts, l.port)
	m.mu.Unlock()

	go m.watchExit(id, gen, l.handle)
	go m.healthLoop(id, gen, m.baseURL(l.port), l.handle.Done())

	if oldHandle != nil {
		oldHandle.Stop(time.Duration(m.cfg.StopTimeoutSec) * time.Second)
	}
	if m.store != nil {
		if err := m.store.Put(id, newCfg); err != nil {
			m.log.Error().Str("instance", id).Err(err).Msg("persisting restarted config failed")
		}
	}

	metricRestarts.WithLabelValues(id, "committed").Inc()
	m.log.Info().Str("instance", id).Int("port", l.port).Msg("restart committed")
	m.publish(Event{Name: EventRestartCommitted, InstanceID: id, Time: time.Now(),
		Fields: map[string]any{"port": l.port}})
	return types.RestartResult{ID: id, Committed: true, Port: l.port}, nil
}

// rollback reports a failed candidate. The serving instance was never
// touched; only the persisted config may change (draft auto-recovery).
func (m *Manager) rollback(id string, newCfg types.LaunchConfig, cause error) types.RestartResult {
	res := types.RestartResult{ID: id, Error: cause.Error()}

	m.mu.RLock()
	if inst, ok := m.instances[id]; ok {
		res.Port = inst.Port
	}
	m.mu.RUnlock()

	if hasDraft(newCfg) {
		cleared := clearDraft(newCfg)
		if m.store != nil {
			if err := m.store.Put(id, cleared); err != nil {
				m.log.Error().Str("instance", id).Err(err).Msg("saving draft-cleared config failed")
			} else {
				res.DraftModelCleared = true
			}
		}
		m.log.Warn().Str("instance", id).Str("draft", newCfg.DraftModelPath).
			Msg("candidate failed with draft model, draft disabled in saved config")
		m.publish(Event{Name: EventDraftDisabled, InstanceID: id, Time: time.Now(),
			Fields: map[string]any{"draft_model_path": newCfg.DraftModelPath}})
	}

	metricRestarts.WithLabelValues(id, "rolled_back").Inc()
	m.log.Warn().Str("instance", id).Err(cause).Msg("restart rolled back")
	m.publish(Event{Name: EventRestartRolledBack, InstanceID: id, Time: time.Now(),
		Fields: map[string]any{"error": cause.Error()}})
	return res
}

func hasDraft(cfg types.LaunchConfig) bool {
	if cfg.DraftModelPath != "" {
		return true
	}
	for _, a := range parseArgs(cfg.CustomArgs) {
		if draftFlags[a] {
			return true
		}
	}
	return false
}
