package types

// Model represents a launchable GGUF model found in the models directory.
type Model struct {
	// Stable identifier derived from the model file name (without extension).
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: tinyllama-q4
	Name string `json:"name" example:"tinyllama-q4"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/tinyllama-q4.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-q4.gguf"`
	// File size in bytes.
	// example: 668788096
	SizeBytes int64 `json:"size_bytes,omitempty" example:"668788096"`
}

// LaunchConfig is the persisted per-model launch configuration.
// A parameter change never mutates a running process; it produces a new one.
type LaunchConfig struct {
	// Absolute path of the GGUF model to serve.
	ModelPath string `json:"model_path"`
	// Optional draft model for speculative decoding. May be relative to the
	// models directory; resolved at launch time.
	DraftModelPath string `json:"draft_model_path,omitempty"`
	// Extra llama-server arguments as a single shell-like string. Quoted
	// segments are honored; any --port inside is ignored (the allocator owns
	// port assignment).
	CustomArgs string `json:"custom_args,omitempty"`
	// Environment variables applied to the child process.
	Env map[string]string `json:"env,omitempty"`
	// Context window size (-c). 0 means server default.
	CtxSize int `json:"ctx_size,omitempty"`
	// Preferred listening port. 0 lets the allocator choose.
	Port int `json:"port,omitempty"`
}

// InstanceMetrics holds rolling per-instance usage counters. Written by the
// translator on response completion, read by status/dashboard callers.
type InstanceMetrics struct {
	// Total prompt tokens across completed requests.
	PromptTokens int64 `json:"prompt_tokens"`
	// Total completion tokens across completed requests.
	CompletionTokens int64 `json:"completion_tokens"`
	// Completion tokens authored by the draft model (speculative decoding).
	DraftTokens int64 `json:"draft_tokens"`
	// Completed request count.
	Requests int64 `json:"requests"`
	// Time-to-first-token of the most recent request, in milliseconds.
	LastTTFTMS int64 `json:"last_ttft_ms"`
}

// InstanceStatus summarizes one backend instance for /api/instances.
type InstanceStatus struct {
	// ID of the model this instance serves.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Current lifecycle state: stopped, starting, healthy, degraded, crashed, restarting.
	// example: healthy
	State string `json:"state" example:"healthy"`
	// Model file backing the instance.
	ModelPath string `json:"model_path"`
	// Draft model file, when speculative decoding is configured.
	DraftModelPath string `json:"draft_model_path,omitempty"`
	// TCP port the llama-server listens on.
	// example: 8600
	Port int `json:"port,omitempty" example:"8600"`
	// Process ID of the llama-server child.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Unix seconds of the last health probe.
	LastHealthCheck int64 `json:"last_health_check_unix,omitempty"`
	// Outcome of the last health probe.
	LastHealthOK bool `json:"last_health_ok"`
	// Rolling usage counters.
	Metrics InstanceMetrics `json:"metrics"`
}

// StatusResponse is the payload for GET /api/instances.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// Number of instances currently restarting.
	Restarting int `json:"restarting"`
	// Number of instances currently starting up.
	Starting int `json:"starting"`
}

// RestartResult reports the outcome of a health-gated restart.
type RestartResult struct {
	// ID of the restarted instance.
	ID string `json:"id"`
	// True when the candidate was promoted; false when rolled back.
	Committed bool `json:"committed"`
	// True when a failing draft-model configuration was cleared and saved.
	DraftModelCleared bool `json:"draft_model_cleared,omitempty"`
	// Port of the serving instance after the operation.
	Port int `json:"port,omitempty"`
	// Failure detail when the restart rolled back.
	Error string `json:"error,omitempty"`
}

// ProcessLogs carries an incremental slice of child process output.
type ProcessLogs struct {
	// Output lines starting at the requested offset.
	Lines []string `json:"lines"`
	// Offset to pass on the next call.
	NextOffset int `json:"next_offset"`
	// Whether the process is still running.
	Running bool `json:"running"`
}

// ErrorResponse is the JSON error payload used by non-OpenAI routes.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SystemInfo is a point-in-time host resource snapshot for the dashboard.
type SystemInfo struct {
	TotalMemoryBytes uint64  `json:"total_memory_bytes"`
	UsedMemoryBytes  uint64  `json:"used_memory_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
	CPUCount         int     `json:"cpu_count"`
	CPUPercent       float64 `json:"cpu_percent"`
}
