package orientation

import "fmt"

// ErrorKind classifies failures surfaced by the orientation subsystem.
type ErrorKind int

const (
	// PermissionDenied: the sensor permission handshake resolved negatively.
	PermissionDenied ErrorKind = iota + 1
	// UnsupportedDevice: the platform has no orientation sensing at all.
	UnsupportedDevice
	// InvalidSample: an event matched no heading derivation rule.
	InvalidSample
	// CollaboratorUnavailable: the camera or renderer is not ready yet.
	CollaboratorUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case UnsupportedDevice:
		return "unsupported_device"
	case InvalidSample:
		return "invalid_sample"
	case CollaboratorUnavailable:
		return "collaborator_unavailable"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Error is a classified subsystem error. Message is user-facing text where
// the kind is surfaced to the UI.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrPermissionDenied        = &Error{Kind: PermissionDenied}
	ErrUnsupportedDevice       = &Error{Kind: UnsupportedDevice}
	ErrInvalidSample           = &Error{Kind: InvalidSample}
	ErrCollaboratorUnavailable = &Error{Kind: CollaboratorUnavailable}
)

// NewError builds a classified error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
