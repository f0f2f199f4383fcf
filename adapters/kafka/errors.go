package kafka

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

func publishBadInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
}

func publishFailed(err error, message string, metadata map[string]any) error {
	if err == nil {
		return core.NewKindError(core.ErrorKindDispatchFailed, message, metadata)
	}
	return core.WrapKind(err, core.ErrorKindDispatchFailed, message, metadata)
}
