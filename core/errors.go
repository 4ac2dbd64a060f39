package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthFailed       = "SYNC_AUTH_FAILED"
	ErrorTransientFailure = "SYNC_TRANSIENT_FAILURE"
	ErrorPermanentFailure = "SYNC_PERMANENT_FAILURE"
	ErrorMappingFailed    = "SYNC_MAPPING_FAILED"
	ErrorBadInput         = "SYNC_BAD_INPUT"
	ErrorNotFound         = "SYNC_NOT_FOUND"
	ErrorInternal         = "SYNC_INTERNAL_ERROR"
)

// NewAuthError reports a token issuance or refresh failure.
func NewAuthError(message string, source error, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, source, goerrors.CategoryAuth, http.StatusUnauthorized, ErrorAuthFailed, metadata)
}

// NewTransientError reports a retryable network or server fault.
func NewTransientError(message string, source error, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, source, goerrors.CategoryExternal, http.StatusServiceUnavailable, ErrorTransientFailure, metadata)
}

// NewPermanentError reports a request the broker will never accept as sent.
func NewPermanentError(message string, source error, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, source, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorPermanentFailure, metadata)
}

// NewMappingError reports a source record that cannot be mapped to an entity.
func NewMappingError(message string, source error, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, source, goerrors.CategoryValidation, http.StatusUnprocessableEntity, ErrorMappingFailed, metadata)
}

func NewInternalError(message string, source error, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, source, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

func NewNotFoundError(message string, metadata ...map[string]any) *goerrors.Error {
	return newSyncError(message, nil, goerrors.CategoryNotFound, http.StatusNotFound, ErrorNotFound, metadata)
}

func newSyncError(
	message string,
	source error,
	category goerrors.Category,
	code int,
	textCode string,
	metadata []map[string]any,
) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		// Wrap keeps the category of a rich source, so reset it explicitly.
		err = goerrors.Wrap(source, category, message)
		err.Category = category
	}
	err = err.WithCode(code).WithTextCode(textCode)
	for _, meta := range metadata {
		if len(meta) > 0 {
			err = err.WithMetadata(meta)
		}
	}
	if status, ok := statusFromMetadata(metadata); ok {
		err.Code = status
	}
	return err
}

func statusFromMetadata(metadata []map[string]any) (int, bool) {
	for _, meta := range metadata {
		if status, ok := meta["status_code"].(int); ok && status > 0 {
			return status, true
		}
	}
	return 0, false
}

func IsAuthError(err error) bool {
	return hasTextCode(err, ErrorAuthFailed)
}

func IsTransientError(err error) bool {
	return hasTextCode(err, ErrorTransientFailure)
}

func IsPermanentError(err error) bool {
	return hasTextCode(err, ErrorPermanentFailure)
}

func IsMappingError(err error) bool {
	return hasTextCode(err, ErrorMappingFailed)
}

func IsNotFoundError(err error) bool {
	return hasTextCode(err, ErrorNotFound)
}

// ErrorKind maps an error onto the failure kinds recorded in cycle reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return FailureKindAuth
	case IsTransientError(err):
		return FailureKindTransient
	case IsPermanentError(err):
		return FailureKindPermanent
	case IsMappingError(err):
		return FailureKindMapping
	default:
		return FailureKindInternal
	}
}

// StatusCode returns the HTTP-like code carried by a rich error, or 0.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Code
	}
	return 0
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}
