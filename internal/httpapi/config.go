package httpapi

// maxBodyBytes controls the maximum allowed /infer request body size.
// The default leaves room for a few camera frames per envelope.
var maxBodyBytes int64 = 64 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 64 << 20
		return
	}
	maxBodyBytes = n
}

// maxArchiveBytes bounds the /update_model upload before it reaches the
// archive loader (which applies its own extraction limit).
var maxArchiveBytes int64 = 1 << 30

// SetMaxArchiveBytes allows configuring the maximum upload size.
func SetMaxArchiveBytes(n int64) {
	if n <= 0 {
		maxArchiveBytes = 1 << 30
		return
	}
	maxArchiveBytes = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
