package constants

// SessionState is a step of the per-account polling state machine.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateAuthenticating  SessionState = "authenticating"
	StateAuthenticated   SessionState = "authenticated"
	StateFetching        SessionState = "fetching"
)
