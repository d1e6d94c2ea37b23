package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llamad/internal/manager"
	"llamad/pkg/types"
)

type mockService struct {
	models     []types.Model
	readyIDs   []string
	status     types.StatusResponse
	instance   types.InstanceStatus
	logs       types.ProcessLogs
	restartRes types.RestartResult
	ready      bool
	chatErr    error
	svcErr     error
	bus        *manager.Bus

	started   []string
	stopped   []string
	restarted []string
	lastCfg   types.LaunchConfig
	refreshed bool
}

func (m *mockService) Models() []types.Model        { return append([]types.Model(nil), m.models...) }
func (m *mockService) ReadyModelIDs() []string      { return append([]string(nil), m.readyIDs...) }
func (m *mockService) RefreshModels() error         { m.refreshed = true; return m.svcErr }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) Instance(id string) (types.InstanceStatus, error) {
	if m.svcErr != nil {
		return types.InstanceStatus{}, m.svcErr
	}
	return m.instance, nil
}

func (m *mockService) StartModel(_ context.Context, id string) error {
	m.started = append(m.started, id)
	return m.svcErr
}

func (m *mockService) StopModel(id string) error {
	m.stopped = append(m.stopped, id)
	return m.svcErr
}

func (m *mockService) Restart(_ context.Context, id string, cfg types.LaunchConfig) (types.RestartResult, error) {
	m.restarted = append(m.restarted, id)
	m.lastCfg = cfg
	return m.restartRes, m.svcErr
}

func (m *mockService) Logs(id string, offset int) (types.ProcessLogs, error) {
	if m.svcErr != nil {
		return types.ProcessLogs{}, m.svcErr
	}
	return m.logs, nil
}

func (m *mockService) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) error {
	if m.chatErr != nil {
		return m.chatErr
	}
	fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
	if flush != nil {
		flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flush != nil {
		flush()
	}
	return nil
}

func (m *mockService) Chat(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	if m.chatErr != nil {
		return types.ChatCompletionResponse{}, m.chatErr
	}
	return types.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []types.ChatCompletionChoice{{
			Message:      types.ChatMessage{Role: "assistant", Content: "hi"},
			FinishReason: "stop",
		}},
		Usage: types.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}, nil
}

func (m *mockService) Events() *manager.Bus {
	if m.bus == nil {
		m.bus = manager.NewBus()
	}
	return m.bus
}

func chatBody(stream bool) string {
	return fmt.Sprintf(`{"model":"m1","messages":[{"role":"user","content":"hi"}],"stream":%v}`, stream)
}

func TestOpenAIModelsHandler(t *testing.T) {
	svc := &mockService{
		models:   []types.Model{{ID: "m1"}, {ID: "m2"}},
		readyIDs: []string{"m1"},
	}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var list types.OpenAIModelList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("list=%+v", list)
	}
	if list.Data[0].Object != "model" || list.Data[0].ID != "m1" {
		t.Fatalf("entry=%+v", list.Data[0])
	}
}

func TestOpenAIModelsHandlerNoInstances(t *testing.T) {
	// Catalog entries alone do not make a model advertisable.
	svc := &mockService{models: []types.Model{{ID: "m1"}, {ID: "m2"}}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var list types.OpenAIModelList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(list.Data) != 0 {
		t.Fatalf("expected empty list, got %+v", list.Data)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(true)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type=%s", ct)
	}
	if !strings.Contains(w.Body.String(), "data: [DONE]") {
		t.Fatalf("missing DONE: %s", w.Body.String())
	}
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(false)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi" || resp.Usage.TotalTokens != 4 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestChatCompletionsValidation(t *testing.T) {
	svc := &mockService{}
	r := NewMux(svc)

	// Wrong content type
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(false)))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}

	// Broken JSON
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}

	// No messages
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m1"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var oe types.OpenAIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &oe); err != nil {
		t.Fatalf("json: %v", err)
	}
	if oe.Error.Type != "invalid_request_error" {
		t.Fatalf("error=%+v", oe.Error)
	}
}

func TestChatCompletionsErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{manager.ErrModelNotFound("m-missing"), http.StatusNotFound, "model_not_found"},
		{manager.ErrModelUnavailable("m1", manager.StatusStarting), http.StatusServiceUnavailable, "model_not_ready"},
	}
	for _, tc := range cases {
		svc := &mockService{chatErr: tc.err}
		r := NewMux(svc)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(false)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("err %v: status=%d want %d", tc.err, w.Code, tc.status)
		}
		var oe types.OpenAIErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &oe); err != nil {
			t.Fatalf("json: %v", err)
		}
		if oe.Error.Code != tc.code {
			t.Errorf("err %v: code=%s want %s", tc.err, oe.Error.Code, tc.code)
		}
	}
}

func TestInstancesHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{
		Instances: []types.InstanceStatus{{ID: "m1", State: "healthy", Port: 8600}},
	}}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/instances", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(st.Instances) != 1 || st.Instances[0].ID != "m1" {
		t.Fatalf("status=%+v", st)
	}
}

func TestInstanceStartStop(t *testing.T) {
	svc := &mockService{instance: types.InstanceStatus{ID: "m1", State: "healthy"}}
	r := NewMux(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/instances/m1/start", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", w.Code, w.Body.String())
	}
	if len(svc.started) != 1 || svc.started[0] != "m1" {
		t.Fatalf("started=%v", svc.started)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/instances/m1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stop status=%d", w.Code)
	}
	if len(svc.stopped) != 1 || svc.stopped[0] != "m1" {
		t.Fatalf("stopped=%v", svc.stopped)
	}
}

func TestInstanceStartNotFound(t *testing.T) {
	svc := &mockService{svcErr: manager.ErrModelNotFound("nope")}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/instances/nope/start", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != http.StatusNotFound {
		t.Fatalf("error=%+v", er)
	}
}

func TestInstanceRestart(t *testing.T) {
	svc := &mockService{restartRes: types.RestartResult{ID: "m1", Committed: true, Port: 8601}}
	r := NewMux(svc)
	body := `{"model_path":"/models/m1.gguf","ctx_size":8192}`
	req := httptest.NewRequest(http.MethodPost, "/api/instances/m1/restart", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.lastCfg.CtxSize != 8192 {
		t.Fatalf("cfg=%+v", svc.lastCfg)
	}
	var res types.RestartResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !res.Committed || res.Port != 8601 {
		t.Fatalf("res=%+v", res)
	}
}

func TestInstanceLogsOffset(t *testing.T) {
	svc := &mockService{logs: types.ProcessLogs{Lines: []string{"[out] a"}, NextOffset: 3, Running: true}}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/instances/m1/logs?offset=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var logs types.ProcessLogs
	if err := json.Unmarshal(w.Body.Bytes(), &logs); err != nil {
		t.Fatalf("json: %v", err)
	}
	if logs.NextOffset != 3 || !logs.Running {
		t.Fatalf("logs=%+v", logs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/instances/m1/logs?offset=bogus", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad offset status=%d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	svc := &mockService{ready: false}
	r := NewMux(svc)

	for _, path := range []string{"/health", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", w.Code)
	}

	svc.ready = true
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewMux(&mockService{})
	// Prime the request counter so the family is present in the output.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "llamad_http_requests_total") {
		t.Error("missing llamad_http_requests_total in metrics output")
	}
}

func TestSystemHandler(t *testing.T) {
	r := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodGet, "/api/system", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var info types.SystemInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("json: %v", err)
	}
}

func TestModelsRefresh(t *testing.T) {
	svc := &mockService{models: []types.Model{{ID: "m1"}}}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/models/refresh", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !svc.refreshed {
		t.Error("refresh not invoked")
	}
}
