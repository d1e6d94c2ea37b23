package manager

import (
	"context"
	"io"

	"llamad/internal/catalog"
	"llamad/internal/translate"
	"llamad/pkg/types"
)

// resolveInstance picks the serving instance for a model ID, autostarting it
// when permitted. Returns the backend base URL and the instance generation
// used to attribute metrics after the request finishes.
func (m *Manager) resolveInstance(ctx context.Context, id string) (string, uint64, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	if ok && inst.Status.routable() {
		url, gen := m.baseURL(inst.Port), inst.gen
		m.mu.RUnlock()
		return url, gen, nil
	}
	var status Status
	if ok {
		status = inst.Status
	}
	m.mu.RUnlock()

	if ok && status != StatusCrashed && status != StatusStopped {
		return "", 0, &modelUnavailableError{id: id, status: status}
	}
	if !m.cfg.AutostartEnabled() {
		if ok {
			return "", 0, &modelUnavailableError{id: id, status: status}
		}
		return "", 0, &modelNotFoundError{id: id}
	}

	if err := m.StartModel(ctx, id); err != nil {
		if IsAlreadyRunning(err) || IsOperationInProgress(err) {
			return "", 0, &modelUnavailableError{id: id, status: StatusStarting}
		}
		return "", 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok = m.instances[id]
	if !ok || !inst.Status.routable() {
		return "", 0, &modelUnavailableError{id: id, status: StatusStarting}
	}
	return m.baseURL(inst.Port), inst.gen, nil
}

// resolveModelID maps the request's model field to a catalog ID, falling
// back to the configured default when the field is empty.
func (m *Manager) resolveModelID(requested string) (string, error) {
	id := requested
	if id == "" {
		id = m.cfg.DefaultModel
	}
	if id == "" {
		return "", &modelNotFoundError{id: "(none requested)"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.instances[id]; ok {
		return id, nil
	}
	if _, ok := catalog.Find(m.models, id); ok {
		return id, nil
	}
	return "", &modelNotFoundError{id: id}
}

// ChatCompletion serves one streaming chat request against the instance for
// req.Model, writing OpenAI SSE frames to w.
func (m *Manager) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) error {
	id, err := m.resolveModelID(req.Model)
	if err != nil {
		return err
	}
	req.Model = id
	url, gen, err := m.resolveInstance(ctx, id)
	if err != nil {
		return err
	}
	backend := &translate.Backend{BaseURL: url, Client: m.httpClient}
	res, err := backend.ChatStream(ctx, req, w, flush)
	m.recordUsage(id, gen, res)
	return err
}

// Chat serves one non-streaming chat request.
func (m *Manager) Chat(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	id, err := m.resolveModelID(req.Model)
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}
	req.Model = id
	url, gen, err := m.resolveInstance(ctx, id)
	if err != nil {
		return types.ChatCompletionResponse{}, err
	}
	backend := &translate.Backend{BaseURL: url, Client: m.httpClient}
	resp, res, err := backend.Chat(ctx, req)
	m.recordUsage(id, gen, res)
	return resp, err
}

// recordUsage folds a finished request's accounting into the instance
// metrics and the exported counters. Stale generations (the process was
// replaced mid-request) still count tokens but skip instance state.
func (m *Manager) recordUsage(id string, gen uint64, res translate.Result) {
	u := res.Usage
	if u.TotalTokens == 0 && res.TTFT == 0 {
		return
	}
	metricTokens.WithLabelValues(id, "prompt").Add(float64(u.PromptTokens))
	metricTokens.WithLabelValues(id, "completion").Add(float64(u.CompletionTokens))
	if u.DraftTokens > 0 {
		metricTokens.WithLabelValues(id, "draft").Add(float64(u.DraftTokens))
	}
	if res.TTFT > 0 {
		metricTTFT.WithLabelValues(id).Observe(res.TTFT.Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.gen != gen {
		return
	}
	inst.Metrics.PromptTokens += int64(u.PromptTokens)
	inst.Metrics.CompletionTokens += int64(u.CompletionTokens)
	inst.Metrics.DraftTokens += int64(u.DraftTokens)
	inst.Metrics.Requests++
	if res.TTFT > 0 {
		inst.Metrics.LastTTFTMS = res.TTFT.Milliseconds()
	}
}
