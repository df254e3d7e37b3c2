package domain

import (
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
)

// -----------------------------
// AccessError
// -----------------------------

// NewAccessError reports that the repository is unreachable or the
// credential was rejected.
func NewAccessError(message string, cause error) error {
	return build(platformerrors.CodeUnauthorized, message, cause)
}

func IsAccessError(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeUnauthorized
}

// -----------------------------
// FetchError
// -----------------------------

// NewFetchError reports a clone or pull failure after access was confirmed
func NewFetchError(message string, cause error) error {
	return build(platformerrors.CodeNetwork, message, cause)
}

func IsFetchError(err error) bool {
	code := platformerrors.GetCode(err)
	return code == platformerrors.CodeNetwork || code == platformerrors.CodeUnavailable
}

// -----------------------------
// LoadError
// -----------------------------

// Load failure reasons
const (
	ReasonTooLarge      = "too_large"
	ReasonMalformed     = "malformed"
	ReasonInvalidSchema = "invalid_schema"
	ReasonReadError     = "read_error"
)

// NewLoadError reports why one service config was excluded from the cache
func NewLoadError(service, reason string, cause error) error {
	code := platformerrors.CodeInvalidInput
	if reason == ReasonInvalidSchema {
		code = platformerrors.CodeSchemaFailed
	}

	err := build(code, "failed to load config for service", cause)
	return platformerrors.WithContextMap(err, map[string]interface{}{
		"service": service,
		"reason":  reason,
	})
}

// NewSchemaError reports a config document that does not match the settings schema
func NewSchemaError(message string) error {
	return platformerrors.New(platformerrors.CodeSchemaFailed, message)
}

func IsSchemaError(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeSchemaFailed
}

// -----------------------------
// ValidationError
// -----------------------------

func NewValidationError(message string) error {
	return platformerrors.New(platformerrors.CodeInvalidInput, message)
}

func IsValidationError(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeInvalidInput
}

// -----------------------------
// NotFoundError
// -----------------------------

func NewNotFoundError(resource, key string) error {
	err := platformerrors.Newf(platformerrors.CodeNotFound, "%s not found: %s", resource, key)
	return platformerrors.WithContext(err, resource, key)
}

func IsNotFound(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeNotFound
}

// HTTPStatus maps an error to the status code reported by the REST edge
func HTTPStatus(err error) int {
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeInvalidInput, platformerrors.CodeSchemaFailed:
		return http.StatusBadRequest
	case platformerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case platformerrors.CodeForbidden:
		return http.StatusForbidden
	case platformerrors.CodeNotFound:
		return http.StatusNotFound
	case platformerrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func build(code platformerrors.ErrorCode, message string, cause error) platformerrors.PlatformError {
	if cause == nil {
		return platformerrors.New(code, message)
	}
	return platformerrors.Wrap(cause, code, message)
}
