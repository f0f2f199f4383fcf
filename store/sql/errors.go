package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

var errNotConfigured = goerrors.New("sqlstore: store is not configured", goerrors.CategoryInternal).
	WithCode(http.StatusInternalServerError).
	WithTextCode(core.ServiceErrorInternal)

func notFound(entity string, id string) error {
	return goerrors.New(fmt.Sprintf("sqlstore: %s %q not found", entity, id), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.ServiceErrorNotFound).
		WithMetadata(map[string]any{"entity": entity, "id": id})
}

func badInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
}

// storeError wraps a driver error. Unique violations surface as conflicts.
func storeError(message string, err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	if isUniqueViolation(err) {
		return goerrors.Wrap(err, goerrors.CategoryConflict, message).
			WithCode(http.StatusConflict).
			WithTextCode(core.ServiceErrorConflict)
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ServiceErrorOperationFailed)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
