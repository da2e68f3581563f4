package core

import "errors"

// Failure codes used in logs and metric labels.
const (
	CodeAuthentication   = "authentication_failure"
	CodeAuthorization    = "authorization_failure"
	CodeMalformedInput   = "malformed_input"
	CodeEmptyMessage     = "empty_message"
	CodeRateLimited      = "rate_limited"
	CodeDelivery         = "delivery_failure"
	CodeStoreUnavailable = "store_unavailable"
	CodeShutdown         = "shutdown"
	CodeUnknown          = "unknown"
)

var (
	// ErrAuthentication: missing, invalid or expired credential.
	ErrAuthentication = errors.New("authentication failure")
	// ErrAuthorization: valid identity that is not a participant of the chat.
	ErrAuthorization = errors.New("authorization failure")
	// ErrMalformedInput: inbound frame that cannot be parsed or lacks a message.
	ErrMalformedInput = errors.New("malformed input")
	// ErrDelivery: an outbound frame could not reach its session.
	ErrDelivery = errors.New("delivery failure")
	// ErrStoreUnavailable: persistence failed while appending.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrShutdown: the registry was closed by the server.
	ErrShutdown = errors.New("server shutting down")
	// ErrSessionClosed: the session no longer accepts deliveries.
	ErrSessionClosed = errors.New("session closed")
)

// Code maps an error to its failure code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrAuthorization):
		return CodeAuthorization
	case errors.Is(err, ErrMalformedInput):
		return CodeMalformedInput
	case errors.Is(err, ErrDelivery), errors.Is(err, ErrSessionClosed):
		return CodeDelivery
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrShutdown):
		return CodeShutdown
	default:
		return CodeUnknown
	}
}
