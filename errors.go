package lens

import "fmt"

// ErrorKind classifies the errors the core distinguishes (spec §7).
type ErrorKind string

const (
	// KindValidation means the operation's arguments failed the schema
	// bound to it. No state is mutated.
	KindValidation ErrorKind = "validation"
	// KindTransport means the transport failed to deliver, or returned a
	// protocol-level failure. Optimistic entries for the affected
	// mutation are rolled back.
	KindTransport ErrorKind = "transport"
	// KindApplication means the remote handler returned a structured
	// failure. Optimistic entries are rolled back.
	KindApplication ErrorKind = "application"
	// KindInternal means a bug in the core itself. Never crashes the
	// executor; surfaces as a generic error with a stable identifier.
	KindInternal ErrorKind = "internal"
)

// OpError is the error shape carried on an OperationResult.
type OpError struct {
	Kind ErrorKind
	ID   string // stable identifier, set for KindInternal
	Err  error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s error [%s]: %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// ValidationError wraps cause as a validation-kind OpError.
func ValidationError(cause error) *OpError {
	return &OpError{Kind: KindValidation, Err: cause}
}

// TransportError wraps cause as a transport-kind OpError.
func TransportError(cause error) *OpError {
	return &OpError{Kind: KindTransport, Err: cause}
}

// ApplicationError wraps cause as an application-kind OpError.
func ApplicationError(cause error) *OpError {
	return &OpError{Kind: KindApplication, Err: cause}
}

// InternalError wraps cause as an internal-invariant-violation OpError,
// tagged with a stable identifier for log correlation. It must never be
// allowed to panic across the executor's public boundary.
func InternalError(id string, cause error) *OpError {
	return &OpError{Kind: KindInternal, ID: id, Err: cause}
}

// CyclicDependencyError is raised (as a panic) when a computed cell is
// re-entrantly read during its own recomputation.
type CyclicDependencyError struct {
	Detail string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("lens: cyclic computed dependency detected: %s", e.Detail)
}
