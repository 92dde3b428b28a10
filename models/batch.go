package models

// ParallelRequest is the payload for POST /api/v1/parallel.
type ParallelRequest struct {
	// Tasks are the independent task requests to fan out, one isolated
	// session per slot.
	Tasks []TaskRequest `json:"tasks" binding:"required,min=1,dive"`

	// Headless controls browser visibility for every slot.
	Headless *bool `json:"headless,omitempty"`

	// Accelerated selects the fast timing profile for every slot.
	Accelerated bool `json:"accelerated,omitempty"`

	// WebhookURL, when set, receives a batch.completed event.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`
}

// ParallelJob tracks one in-flight or completed parallel batch.
type ParallelJob struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"` // "processing", "completed", "partial", "failed"
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Results   []*TaskResult `json:"results"`
	CreatedAt int64         `json:"created_at"`
}

// ParallelResponse is the immediate response for POST /api/v1/parallel.
type ParallelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// ChainRequest is the payload for POST /api/v1/chains.
type ChainRequest struct {
	// Tasks run strictly in order against one retained session.
	Tasks []TaskRequest `json:"tasks" binding:"required,min=1,dive"`

	Headless    *bool `json:"headless,omitempty"`
	Accelerated bool  `json:"accelerated,omitempty"`
}

// ChainResponse is the response for POST /api/v1/chains. Results hold one
// entry per attempted task; the list is a prefix of the request on failure.
type ChainResponse struct {
	Results   []*TaskResult `json:"results"`
	Attempted int           `json:"attempted"`
	Requested int           `json:"requested"`
}

// TaskRunRequest is the payload for POST /api/v1/tasks.
type TaskRunRequest struct {
	TaskRequest
	Headless    *bool `json:"headless,omitempty"`
	Accelerated bool  `json:"accelerated,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"` // "healthy" or "degraded"
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
	Version        string `json:"version"`
}
