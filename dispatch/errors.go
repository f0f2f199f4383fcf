package dispatch

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

func channelNotFound(channelID string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("dispatch: channel %q not found", channelID), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.ServiceErrorNotFound).
		WithMetadata(map[string]any{"channel_id": channelID})
}

func badRequest(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
}

func unavailable(channelID string, reason string) *goerrors.Error {
	return core.NewKindError(core.ErrorKindChannelUnavailable, fmt.Sprintf("dispatch: channel %q %s", channelID, reason), map[string]any{
		"channel_id": channelID,
	})
}
