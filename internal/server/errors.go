package server

import (
	"context"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/engine"
	apperrors "github.com/mailsched/mailsched/internal/errors"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/scheduler"
)

// HandleError writes err as an error envelope. Scheduler and engine errors
// are mapped to their client-facing codes first.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var envelope *gferrors.ErrorEnvelope
	if !errors.As(err, &envelope) {
		envelope = envelopeFor(r.Context(), err)
	}
	apperrors.RespondWithError(w, r, envelope)
}

// envelopeFor maps service errors onto error envelopes. Unknown errors are
// logged and hidden behind a generic message.
func envelopeFor(ctx context.Context, err error) *gferrors.ErrorEnvelope {
	message := err.Error()
	switch {
	case errors.Is(err, scheduler.ErrForbidden):
		return apperrors.WrapForbidden(ctx, err, message)
	case errors.Is(err, scheduler.ErrNotFound):
		return apperrors.WrapNotFound(ctx, err, message)
	case errors.Is(err, scheduler.ErrConflict):
		return apperrors.WrapConflict(ctx, err, message)
	case errors.Is(err, scheduler.ErrInvalid),
		errors.Is(err, engine.ErrInvalidInput),
		engine.IsOutOfBounds(err):
		return apperrors.WrapValidationError(ctx, err, message)
	case errors.Is(err, scheduler.ErrRelay):
		return apperrors.WrapExternalService(ctx, err, message)
	default:
		observability.Server().Error("Scheduler method failed", zap.Error(err))
		return apperrors.WrapInternal(ctx, err, "internal error")
	}
}
