package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// FailureKind tags the variants of Failure.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"
	FailureHTTP       FailureKind = "http"
	FailureValidation FailureKind = "validation"
	FailureGeneric    FailureKind = "generic"
)

// Failure is the single error shape every fallible operation in the client
// core returns. Exactly one variant applies per failure.
type Failure struct {
	Kind FailureKind

	// StatusCode and Code are set for FailureHTTP only. Code is the
	// server's machine-readable error code when the response carried one.
	StatusCode int
	Code       string

	Message string

	// FieldErrors is set for FailureValidation when individual fields
	// failed a precondition.
	FieldErrors map[string]string
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureHTTP:
		return fmt.Sprintf("http %d: %s", f.StatusCode, f.Message)
	case FailureNetwork:
		return fmt.Sprintf("network: %s", f.Message)
	case FailureValidation:
		return fmt.Sprintf("validation: %s", f.Message)
	default:
		return f.Message
	}
}

// IsConflict reports whether the failure is an HTTP 409 from the server.
func (f *Failure) IsConflict() bool {
	return f != nil && f.Kind == FailureHTTP && f.StatusCode == http.StatusConflict
}

// NetworkFailure builds a network failure keeping the underlying error
// message for diagnostics.
func NetworkFailure(err error) *Failure {
	return &Failure{Kind: FailureNetwork, Message: fmt.Sprintf("connection failed: %v", err)}
}

// ValidationFailure builds a client-side precondition failure.
func ValidationFailure(message string) *Failure {
	return &Failure{Kind: FailureValidation, Message: message}
}

// GenericFailure covers everything that is neither transport, HTTP, nor
// validation, most commonly response-body decode errors.
func GenericFailure(message string) *Failure {
	return &Failure{Kind: FailureGeneric, Message: message}
}

// Classify maps a raw transport error to a Failure. Connection-level
// errors (DNS, refused connections, timeouts, cancelled contexts) become
// network failures; anything else is generic. Pure: performs no I/O.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NetworkFailure(err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NetworkFailure(urlErr.Err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkFailure(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NetworkFailure(err)
	}

	return GenericFailure(err.Error())
}

// errorBody matches the shapes of error payloads the server is known to
// emit. The "error" member is either a bare string or an object carrying a
// code and a message.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type structuredError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClassifyResponse maps a non-2xx HTTP response to an http Failure,
// extracting the server's message from any of the supported body shapes and
// falling back to status-specific copy when the body is empty or
// unparseable. Pure: performs no I/O.
func ClassifyResponse(statusCode int, body []byte) *Failure {
	f := &Failure{Kind: FailureHTTP, StatusCode: statusCode}

	if msg, code, ok := parseErrorBody(body); ok {
		f.Message = msg
		f.Code = code
		return f
	}

	f.Message = defaultStatusMessage(statusCode)
	return f
}

func parseErrorBody(body []byte) (message, code string, ok bool) {
	if len(body) == 0 {
		return "", "", false
	}

	// Bare JSON string body.
	var bare string
	if err := json.Unmarshal(body, &bare); err == nil && bare != "" {
		return bare, "", true
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", "", false
	}

	if len(eb.Error) > 0 {
		var s string
		if err := json.Unmarshal(eb.Error, &s); err == nil && s != "" {
			return s, "", true
		}
		var se structuredError
		if err := json.Unmarshal(eb.Error, &se); err == nil && se.Message != "" {
			return se.Message, se.Code, true
		}
	}

	if eb.Message != "" {
		return eb.Message, "", true
	}

	return "", "", false
}

func defaultStatusMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Bad request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "Server error, please try again later"
	default:
		return fmt.Sprintf("HTTP error %d", statusCode)
	}
}
