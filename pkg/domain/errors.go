package domain

import "errors"

// Error taxonomy. Every error here is recoverable and reported to the
// caller as a structured result; only an unrecoverable collaborator crash
// force-closes the session.
var (
	ErrNoActiveSession       = errors.New("no active session")
	ErrAlreadyRunning        = errors.New("session already running")
	ErrElementNotFound       = errors.New("element not found")
	ErrTimeout               = errors.New("timed out")
	ErrUnknownRequestID      = errors.New("unknown request id")
	ErrBodyUnavailable       = errors.New("response body unavailable")
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrAlreadyResolved       = errors.New("intervention already resolved")
	ErrInterventionTimeout   = errors.New("intervention wait timed out")
	ErrInterventionCancelled = errors.New("intervention cancelled")
	ErrNetwork               = errors.New("network error")
	ErrCookieFormat          = errors.New("malformed cookie payload")
)

// ErrorKind returns the taxonomy tag for a known error, or "internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return "NoActiveSession"
	case errors.Is(err, ErrAlreadyRunning):
		return "AlreadyRunning"
	case errors.Is(err, ErrElementNotFound):
		return "ElementNotFound"
	case errors.Is(err, ErrTimeout):
		return "TimeoutError"
	case errors.Is(err, ErrUnknownRequestID):
		return "UnknownRequestId"
	case errors.Is(err, ErrBodyUnavailable):
		return "BodyUnavailable"
	case errors.Is(err, ErrAlreadyResolved):
		return "AlreadyResolved"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInterventionTimeout):
		return "InterventionTimeout"
	case errors.Is(err, ErrInterventionCancelled):
		return "InterventionCancelled"
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrCookieFormat):
		return "CookieFormatError"
	default:
		return "internal"
	}
}
