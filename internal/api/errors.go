package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/pkg/response"
)

// writeError maps the domain error taxonomy onto the response envelope.
// Anything unrecognised is logged and reported as an internal error.
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	var fields *domain.FieldErrors
	switch {
	case errors.As(err, &fields):
		response.Invalid(w, domain.ErrValidation.Error(), fields.Fields)
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrPermission):
		response.Forbidden(w, err.Error())
	case errors.Is(err, domain.ErrReplayLimitExceeded):
		response.ReplayLimitExceeded(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	default:
		logger.Error(op+" failed", zap.Error(err))
		response.InternalError(w, op+" failed")
	}
}
