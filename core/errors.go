package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput           = "NOTIFY_BAD_INPUT"
	ServiceErrorNotFound           = "NOTIFY_NOT_FOUND"
	ServiceErrorConflict           = "NOTIFY_CONFLICT"
	ServiceErrorUnauthorized       = "NOTIFY_UNAUTHORIZED"
	ServiceErrorForbidden          = "NOTIFY_FORBIDDEN"
	ServiceErrorRateLimited        = "NOTIFY_RATE_LIMITED"
	ServiceErrorOperationFailed    = "NOTIFY_OPERATION_FAILED"
	ServiceErrorExternalFailure    = "NOTIFY_EXTERNAL_FAILURE"
	ServiceErrorInternal           = "NOTIFY_INTERNAL_ERROR"
	ServiceErrorChannelUnavailable = "NOTIFY_CHANNEL_UNAVAILABLE"
	ServiceErrorFormat             = "NOTIFY_FORMAT_ERROR"
	ServiceErrorProvider           = "NOTIFY_PROVIDER_ERROR"
	ServiceErrorAuthFailure        = "NOTIFY_AUTH_FAILURE"
	ServiceErrorMaxRetries         = "NOTIFY_MAX_RETRIES_EXCEEDED"
	ServiceErrorTimeout            = "NOTIFY_TIMEOUT"
	ServiceErrorSignatureInvalid   = "WEBHOOK_SIGNATURE_INVALID"
	ServiceErrorExpired            = "WEBHOOK_EXPIRED"
	ServiceErrorDuplicate          = "WEBHOOK_DUPLICATE"
	ServiceErrorDispatchFailed     = "WEBHOOK_DISPATCH_FAILED"
)

const errorKindMetadataKey = "error_kind"

// NewKindError builds a rich error carrying kind in its metadata.
func NewKindError(kind ErrorKind, message string, metadata ...map[string]any) *goerrors.Error {
	category, code, textCode := kindEnvelope(kind)
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	return err.WithMetadata(kindMetadata(kind, metadata...))
}

// WrapKind wraps source so KindOf reports kind for the result.
func WrapKind(source error, kind ErrorKind, message string, metadata ...map[string]any) *goerrors.Error {
	if source == nil {
		return NewKindError(kind, message, metadata...)
	}
	category, code, textCode := kindEnvelope(kind)
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	return err.WithMetadata(kindMetadata(kind, metadata...))
}

// KindOf classifies err. Context expiry maps to ErrorKindTimeout and errors
// that carry no classification are treated as provider failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if raw, ok := rich.Metadata[errorKindMetadataKey]; ok {
			if kind, ok := raw.(ErrorKind); ok && kind != ErrorKindNone {
				return kind
			}
			if value, ok := raw.(string); ok && strings.TrimSpace(value) != "" {
				return ErrorKind(value)
			}
		}
		if kind := kindFromTextCode(rich.TextCode); kind != ErrorKindNone {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTimeout
	}
	return ErrorKindProvider
}

// IsRetryable reports whether a failed attempt may be repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case ErrorKindProvider, ErrorKindRateLimited:
		return true
	default:
		return false
	}
}

func kindMetadata(kind ErrorKind, extra ...map[string]any) map[string]any {
	metadata := map[string]any{errorKindMetadataKey: string(kind)}
	for _, values := range extra {
		for key, value := range values {
			if strings.TrimSpace(key) == "" {
				continue
			}
			metadata[key] = value
		}
	}
	return metadata
}

func kindEnvelope(kind ErrorKind) (goerrors.Category, int, string) {
	switch kind {
	case ErrorKindChannelUnavailable:
		return goerrors.CategoryNotFound, http.StatusServiceUnavailable, ServiceErrorChannelUnavailable
	case ErrorKindFormat:
		return goerrors.CategoryBadInput, http.StatusUnprocessableEntity, ServiceErrorFormat
	case ErrorKindProvider:
		return goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorProvider
	case ErrorKindAuthFailure:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ServiceErrorAuthFailure
	case ErrorKindRateLimited:
		return goerrors.CategoryRateLimit, http.StatusTooManyRequests, ServiceErrorRateLimited
	case ErrorKindMaxRetriesExceeded:
		return goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorMaxRetries
	case ErrorKindTimeout:
		return goerrors.CategoryOperation, http.StatusGatewayTimeout, ServiceErrorTimeout
	case ErrorKindSignatureInvalid:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ServiceErrorSignatureInvalid
	case ErrorKindExpired:
		return goerrors.CategoryAuth, http.StatusUnauthorized, ServiceErrorExpired
	case ErrorKindDuplicate:
		return goerrors.CategoryConflict, http.StatusOK, ServiceErrorDuplicate
	case ErrorKindDispatchFailed:
		return goerrors.CategoryOperation, http.StatusBadGateway, ServiceErrorDispatchFailed
	default:
		return goerrors.CategoryInternal, http.StatusInternalServerError, ServiceErrorInternal
	}
}

func kindFromTextCode(textCode string) ErrorKind {
	switch strings.TrimSpace(textCode) {
	case ServiceErrorChannelUnavailable:
		return ErrorKindChannelUnavailable
	case ServiceErrorFormat:
		return ErrorKindFormat
	case ServiceErrorProvider:
		return ErrorKindProvider
	case ServiceErrorAuthFailure, ServiceErrorUnauthorized:
		return ErrorKindAuthFailure
	case ServiceErrorRateLimited:
		return ErrorKindRateLimited
	case ServiceErrorMaxRetries:
		return ErrorKindMaxRetriesExceeded
	case ServiceErrorTimeout:
		return ErrorKindTimeout
	case ServiceErrorSignatureInvalid:
		return ErrorKindSignatureInvalid
	case ServiceErrorExpired:
		return ErrorKindExpired
	case ServiceErrorDuplicate:
		return ErrorKindDuplicate
	case ServiceErrorDispatchFailed:
		return ErrorKindDispatchFailed
	case ServiceErrorBadInput:
		return ErrorKindFormat
	default:
		return ErrorKindNone
	}
}

// MapError normalizes any error into the service envelope used by the HTTP
// and command surfaces.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already exists"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorConflict)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ServiceErrorForbidden
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return ServiceErrorOperationFailed
	case goerrors.CategoryExternal:
		return ServiceErrorExternalFailure
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
