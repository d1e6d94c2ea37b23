package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// healthPollInterval is the spacing between startup readiness probes.
const healthPollInterval = 250 * time.Millisecond

// runtimeHealthInterval is the spacing between background probes of an
// instance that already passed startup.
const runtimeHealthInterval = 15 * time.Second

type healthResponse struct {
	Status string `json:"status"`
}

// probeHealth performs one GET /health against a backend. It returns nil
// only when the server answers 200 with status "ok"; "loading model" and
// 503 both count as not ready.
func (m *Manager) probeHealth(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return err
	}
	if hr.Status != "ok" {
		return fmt.Errorf("backend not ready: %s", hr.Status)
	}
	return nil
}

// awaitReady polls /health until the backend reports ok, the deadline
// passes, or the process exits. done is the process handle's exit channel.
func (m *Manager) awaitReady(ctx context.Context, id, baseURL string, timeout time.Duration, done <-chan struct{}, exitErr func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		if err := m.probeHealth(ctx, baseURL); err == nil {
			return nil
		}
		select {
		case <-done:
			return &processExitedError{id: id, err: exitErr()}
		case <-ctx.Done():
			return &healthTimeoutError{id: id, timeout: timeout.String()}
		case <-ticker.C:
		}
	}
}

// healthLoop probes a promoted instance in the background, flipping it
// between healthy and degraded. It retires when the process exits or the
// instance generation moves on (stop, restart promotion).
func (m *Manager) healthLoop(id string, gen uint64, baseURL string, done <-chan struct{}) {
	ticker := time.NewTicker(runtimeHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		err := m.probeHealth(context.Background(), baseURL)

		m.mu.Lock()
		inst, ok := m.instances[id]
		if !ok || inst.gen != gen {
			m.mu.Unlock()
			return
		}
		inst.LastHealthAt = time.Now()
		inst.LastHealthOK = err == nil
		var ev string
		switch {
		case err != nil && inst.Status == StatusHealthy:
			inst.Status = StatusDegraded
			ev = EventInstanceDegraded
		case err == nil && inst.Status == StatusDegraded:
			inst.Status = StatusHealthy
			ev = EventInstanceHealthy
		}
		m.mu.Unlock()

		if ev != "" {
			m.log.Warn().Str("instance", id).Err(err).Msg("instance health changed")
			m.publish(Event{Name: ev, InstanceID: id, Time: time.Now()})
		}
	}
}
