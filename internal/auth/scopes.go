package auth

// Known OAuth scopes used by the ingestion service.
const (
	ScopeLogsWrite = "logs:write"
	ScopeLogsRead  = "logs:read"
	// ScopeLogsDelegate permits submitting a record whose patient differs
	// from the token subject (a supervising therapist logging on a
	// patient's behalf). Never assumed implicitly.
	ScopeLogsDelegate = "logs:delegate"
)
