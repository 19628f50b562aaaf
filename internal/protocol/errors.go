package protocol

import "fmt"

// InvalidPayloadError signals a malformed message or start payload.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// invalidTokenPrefix is matched against an error's message to pick the 401
// HTTP status override described in §4.5/§6. It must prefix the message
// exactly; prefix matching elsewhere in this package is deliberate, mirroring
// the original's own comment that better alternatives aren't available here.
const invalidTokenPrefix = "Token error: "

// InvalidTokenError signals a bearer token that failed signature
// verification, was malformed, or carried unusable claims.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return invalidTokenPrefix + e.Reason
}

// NotAuthenticatedError is raised when a resolver calls Validate without an
// attached permission set (auth required but missing credentials).
type NotAuthenticatedError struct{}

func (e *NotAuthenticatedError) Error() string {
	return "not authenticated"
}

// PermissionDeniedError is raised when the client's permission set is
// missing a key required by the resolver.
type PermissionDeniedError struct {
	Key uint16
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: missing key %d", e.Key)
}

// ResolverFailureError wraps any schema-side exception, including a wrapped
// SingletonConstructionError.
type ResolverFailureError struct {
	Cause error
}

func (e *ResolverFailureError) Error() string {
	return fmt.Sprintf("resolver failure: %v", e.Cause)
}

func (e *ResolverFailureError) Unwrap() error { return e.Cause }

// SingletonConstructionError signals that a backend resource failed to
// initialize. It propagates to the awaiting resolver, which should wrap it
// in a ResolverFailureError.
type SingletonConstructionError struct {
	TypeKey string
	Cause   error
}

func (e *SingletonConstructionError) Error() string {
	return fmt.Sprintf("singleton construction failed for %s: %v", e.TypeKey, e.Cause)
}

func (e *SingletonConstructionError) Unwrap() error { return e.Cause }

// StatusCode maps an error to the HTTP/connection_error status code it
// should carry, per §4.5/§6. ERROR payloads default to 400 unless the
// message begins with the token-error prefix.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	msg := err.Error()
	if len(msg) >= len(invalidTokenPrefix) && msg[:len(invalidTokenPrefix)] == invalidTokenPrefix {
		return 401
	}
	return 400
}
