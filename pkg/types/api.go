package types

// InferRequest is the body of POST /infer.
type InferRequest struct {
	// Optional model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
	// Prompt text to generate a completion for.
	Prompt string `json:"prompt"`
	// Maximum number of new tokens; zero lets the engine decide.
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int64    `json:"seed,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	// TimeoutMs bounds the whole generation. Zero uses the server default.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

// TokenLine is one NDJSON line of a streamed /infer response.
type TokenLine struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// Usage counts tokens for a finished generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// CountSource is "engine" or "bridge".
	CountSource string `json:"count_source,omitempty"`
}

// Timings reports generation speed.
type Timings struct {
	TotalTimeMs        int64   `json:"total_time_ms"`
	TimeToFirstTokenMs int64   `json:"time_to_first_token_ms"`
	TokensPerSecond    float64 `json:"tokens_per_second"`
}

// DoneLine is the final NDJSON line of a streamed /infer response.
// FinishReason is "stop", "cancelled" or "error".
type DoneLine struct {
	Done         bool     `json:"done"`
	Content      string   `json:"content"`
	FinishReason string   `json:"finish_reason"`
	Usage        *Usage   `json:"usage,omitempty"`
	Timings      *Timings `json:"timings,omitempty"`
	Error        string   `json:"error,omitempty"`
	// Code is the native engine result code when FinishReason is "error".
	Code int `json:"code,omitempty"`
}

// CancelRequest is the body of POST /cancel.
type CancelRequest struct {
	Model string `json:"model,omitempty"`
}

// CancelResponse reports whether a generation was in flight.
type CancelResponse struct {
	Model     string `json:"model"`
	Cancelled bool   `json:"cancelled"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// InstanceStatus summarizes a loaded model for /status.
type InstanceStatus struct {
	ModelID string `json:"model_id"`
	// Lifecycle state: loading, ready, draining or error.
	State     string `json:"state"`
	LastUsed  int64  `json:"last_used_unix"`
	EstVRAMMB int    `json:"est_vram_mb"`
	// Engine handle backing the instance.
	Handle        uint64 `json:"handle"`
	Streaming     bool   `json:"streaming"`
	QueueLen      int    `json:"queue_len"`
	Inflight      int    `json:"inflight"`
	MaxQueueDepth int    `json:"max_queue_depth"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances         []InstanceStatus `json:"instances"`
	BudgetMB          int              `json:"budget_mb"`
	UsedMB            int              `json:"used_est_mb"`
	MarginMB          int              `json:"margin_mb"`
	Error             string           `json:"error,omitempty"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
	ServerTimeUnix    int64            `json:"server_time_unix"`
	EvictionsTotal    uint64           `json:"evictions_total"`
	LoadsTotal        uint64           `json:"loads_total"`
	State             string           `json:"state"`
	WarmupsInProgress int              `json:"warmups_in_progress"`
	DrainingCount     int              `json:"draining_count"`
}
