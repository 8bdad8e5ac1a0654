package utils

type ErrorType int

const (
	ErrInternal ErrorType = iota
	ErrBadInput
	ErrNotAllowed
	ErrNotFound
)

// Failure is the user-facing shape of a policy rejection or operational
// error. Routing misses never become Failures; they exit silently.
type Failure struct {
	Type    ErrorType
	Message string
	Data    map[string]any
}

func (f Failure) Error() string {
	return f.Message
}
