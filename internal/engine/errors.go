package engine

import (
	"errors"
	"net/http"

	"github.com/mailsched/mailsched/internal/rpc"
)

// Error taxonomy for scheduling attempts.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTooSoon             = errors.New("scheduled time is too soon")
	ErrTooFar              = errors.New("scheduled time is too far in the future")
	ErrRateLimited         = errors.New("too many scheduling requests, please wait")
	ErrTransient           = errors.New("scheduler backend temporarily unavailable")
	ErrPermanent           = errors.New("scheduler backend rejected the request")
	ErrTimedOutCorrelation = errors.New("no matching send call observed before timeout")
	ErrDisabled            = errors.New("scheduled send is disabled")
)

// IsOutOfBounds reports whether err is a TooSoon or TooFar validation error.
func IsOutOfBounds(err error) bool {
	return errors.Is(err, ErrTooSoon) || errors.Is(err, ErrTooFar)
}

// backendError pairs a taxonomy sentinel with the underlying failure so both
// errors.Is(err, ErrTransient) and errors.As(err, *rpc.Error) work.
type backendError struct {
	kind  error
	cause error
}

func (e *backendError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *backendError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// classifyBackendError maps a transport or RPC failure onto the taxonomy.
// 5xx and network failures are transient; 4xx are permanent.
func classifyBackendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent) {
		return err
	}
	status := rpc.StatusCode(err)
	switch {
	case status == 0 || status >= http.StatusInternalServerError:
		return &backendError{kind: ErrTransient, cause: err}
	default:
		return &backendError{kind: ErrPermanent, cause: err}
	}
}
