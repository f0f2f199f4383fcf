package transport

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

func transportError(kind core.ErrorKind, message string, code int, metadata map[string]any) *goerrors.Error {
	err := core.NewKindError(kind, message, metadata)
	if code > 0 {
		err = err.WithCode(code)
	}
	return err
}

func transportWrapError(source error, kind core.ErrorKind, message string, code int, metadata map[string]any) *goerrors.Error {
	err := core.WrapKind(source, kind, message, metadata)
	if code > 0 {
		err = err.WithCode(code)
	}
	return err
}

// RetryAfterHint returns the provider backoff hint recorded on err.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return 0, false
	}
	switch value := rich.Metadata[RetryAfterMetadataKey].(type) {
	case int64:
		return time.Duration(value) * time.Millisecond, value > 0
	case int:
		return time.Duration(value) * time.Millisecond, value > 0
	case float64:
		return time.Duration(value) * time.Millisecond, value > 0
	default:
		return 0, false
	}
}
