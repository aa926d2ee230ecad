package types

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall serving state (uninitialized, loading, ready, swapping).
	// example: ready
	State string `json:"state" example:"ready"`
	// Path the active model was loaded from.
	// example: /srv/models/smolvla
	ModelPath string `json:"model_path,omitempty" example:"/srv/models/smolvla"`
	// Execution device descriptor of the active model.
	// example: cuda:0
	Device string `json:"device,omitempty" example:"cuda:0"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of successful model loads (startup included).
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// Total number of completed hot swaps.
	// example: 2
	SwapsTotal uint64 `json:"swaps_total" example:"2"`
	// Total number of swap attempts that failed to load.
	// example: 1
	SwapFailuresTotal uint64 `json:"swap_failures_total" example:"1"`
	// Replaced handles still referenced by in-flight calls.
	// example: 0
	RetiringHandles int64 `json:"retiring_handles" example:"0"`
	// Last load or swap error observed (if any).
	LastError string `json:"last_error,omitempty"`
}

// UpdateResponse is returned by POST /update_model on success.
type UpdateResponse struct {
	// Human-readable confirmation.
	// example: model updated successfully
	Message string `json:"message" example:"model updated successfully"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: archive entry escapes extraction root
	Error string `json:"error" example:"archive entry escapes extraction root"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
