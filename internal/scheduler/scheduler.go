// Package scheduler implements the scheduling backend: it records schedule
// requests, submits them to the mail relay with a FUTURERELEASE hold, and
// serves the listing, cancel and reschedule operations over those records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/observability"
)

// GuestUser is the anonymous identity. It may not schedule mail.
const GuestUser = "Guest"

// CancelGrace is how long after its scheduled time a record may still be
// cancelled.
const CancelGrace = 30 * time.Second

// Errors returned by Service. Time validation failures wrap the engine
// taxonomy (engine.ErrInvalidInput, engine.ErrTooSoon, engine.ErrTooFar).
var (
	ErrInvalid   = errors.New("invalid request")
	ErrForbidden = errors.New("permission denied")
	ErrNotFound  = core.ErrRecordNotFound
	ErrConflict  = errors.New("operation not allowed in the current state")
	ErrRelay     = errors.New("mail relay request failed")
)

// Store persists schedule records.
type Store interface {
	CreateSchedule(ctx context.Context, rec *core.ScheduleRecord) error
	GetSchedule(ctx context.Context, user, id string) (*core.ScheduleRecord, error)
	ListSchedules(ctx context.Context, q core.ScheduleQuery) ([]core.ScheduleRecord, int, error)
	CountSchedules(ctx context.Context, user string) (core.ScheduledCount, error)
	UpdateSchedule(ctx context.Context, rec *core.ScheduleRecord) error
	ListPendingSubmissions(ctx context.Context) ([]core.ScheduleRecord, error)
}

// Relay submits and manages held messages for one account.
type Relay interface {
	Submit(ctx context.Context, msg jmap.Message) (*jmap.Submission, error)
	GetSubmissions(ctx context.Context, ids []string) (map[string]jmap.EmailSubmission, error)
	CancelSubmission(ctx context.Context, id string) error
	UpdateHoldUntil(ctx context.Context, id string, at time.Time) error
}

// RelayProvider returns the relay account of a user.
type RelayProvider func(user string) (Relay, error)

// PoolRelays adapts a jmap.Pool to a RelayProvider.
func PoolRelays(pool *jmap.Pool) RelayProvider {
	return func(user string) (Relay, error) {
		c, err := pool.ForUser(user)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Limits bounds the size of a message.
type Limits struct {
	MaxRecipients       int
	MaxAttachments      int
	MaxAttachmentSizeMB int
}

// DefaultLimits mirrors the relay's defaults.
func DefaultLimits() Limits {
	return Limits{MaxRecipients: 500, MaxAttachments: 25, MaxAttachmentSizeMB: 25}
}

// Options configures a Service.
type Options struct {
	Store    Store
	Relays   RelayProvider
	Settings engine.Settings
	Limits   Limits
	Location *time.Location
	Clock    func() time.Time
	Logger   observability.Logger
}

// Service implements the scheduler endpoints for authenticated users.
type Service struct {
	store     Store
	relays    RelayProvider
	settings  engine.Settings
	limits    Limits
	validator *engine.Validator
	location  *time.Location
	clock     func() time.Time
	logger    observability.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	limits := opts.Limits
	if limits.MaxRecipients <= 0 {
		limits = DefaultLimits()
	}
	return &Service{
		store:    opts.Store,
		relays:   opts.Relays,
		settings: opts.Settings,
		limits:   limits,
		validator: &engine.Validator{
			Settings: opts.Settings,
			Clock:    clock,
			Location: loc,
		},
		location: loc,
		clock:    clock,
		logger:   observability.OrNop(opts.Logger),
	}
}

// Config describes the scheduler to clients.
func (s *Service) Config() core.SchedulerConfig {
	return core.SchedulerConfig{
		Enabled:             s.settings.Enabled(),
		MaxScheduleDays:     s.settings.MaxScheduleDays(),
		MinScheduleMinutes:  s.settings.MinScheduleMinutes(),
		MaxRecipients:       s.limits.MaxRecipients,
		MaxAttachments:      s.limits.MaxAttachments,
		MaxAttachmentSizeMB: s.limits.MaxAttachmentSizeMB,
	}
}

func (s *Service) relayFor(user string) (Relay, error) {
	if s.relays == nil {
		return nil, fmt.Errorf("%w: no relay configured", ErrRelay)
	}
	r, err := s.relays(user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelay, err)
	}
	return r, nil
}

func (s *Service) now() time.Time {
	return s.clock()
}

// parseScheduleTime parses and bounds-checks a requested delivery time.
func (s *Service) parseScheduleTime(value string) (time.Time, error) {
	t, err := engine.ParseTimestamp(value, s.location)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.validator.Check(t); err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func checkUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" || strings.EqualFold(user, GuestUser) {
		return "", fmt.Errorf("%w: sign in to schedule emails", ErrForbidden)
	}
	return user, nil
}
