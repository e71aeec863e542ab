// Package engine intercepts a host application's "send now" calls and turns
// them into "schedule for later" calls against the scheduler backend.
//
// UI code calls TriggerScheduledSend with the chosen time and a function that
// fires the host's own send action. The engine records the time as a
// single-use correlation token, and the next matching call observed on a
// patched call surface (an *http.Client transport or an *rpc.Client caller)
// is rewritten to the scheduler method with scheduled_at injected. A
// safety-net timer drops the token when no matching call shows up.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/metrics"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/rpc"
)

// Options configures an Engine.
type Options struct {
	Boot BootConfig

	// Backend serves the redirected scheduler methods for direct calls.
	Backend *rpc.Client

	// HTTPClients and RPCClients are the host call surfaces to patch.
	HTTPClients []*http.Client
	RPCClients  []*rpc.Client

	Logger   observability.Logger
	Location *time.Location

	// Test hooks. Nil values use the real clock and timers.
	Clock     func() time.Time
	AfterFunc func(time.Duration, func()) Timer
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Engine is the public surface of the interception engine. One Engine owns
// its store, limiter and patches; nothing is package global.
type Engine struct {
	settings    Settings
	store       *Store
	limiter     *RateLimiter
	validator   *Validator
	interceptor *Interceptor
	backend     *rpc.Client
	logger      observability.Logger
	clock       func() time.Time
	afterFunc   func(time.Duration, func()) Timer
	location    *time.Location

	mu           sync.Mutex
	started      bool
	refreshTimer Timer
}

// New builds an engine from normalized boot settings. Patches are not
// installed until Start or ApplyPatches.
func New(opts Options) *Engine {
	logger := observability.OrNop(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	settings := NormalizeSettings(opts.Boot)
	store := NewStore(logger)
	limiter := NewRateLimiter(settings, clock)

	interceptor := newInterceptor(store, limiter, RetryPolicy{
		Attempts:  settings.RetryAttempts(),
		BaseDelay: settings.RetryDelay(),
		Sleep:     opts.Sleep,
	}, logger)
	interceptor.clock = clock
	interceptor.afterFunc = afterFunc
	interceptor.register(opts.HTTPClients, opts.RPCClients)

	e := &Engine{
		settings:    settings,
		store:       store,
		limiter:     limiter,
		validator:   &Validator{Settings: settings, Clock: clock, Location: opts.Location},
		interceptor: interceptor,
		backend:     opts.Backend,
		logger:      logger,
		clock:       clock,
		afterFunc:   afterFunc,
		location:    opts.Location,
	}
	interceptor.onConfirmed = func(*Rewrite) { e.RefreshScheduledCount() }
	return e
}

// Start installs the patches when scheduling is enabled. Calling it again is
// a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.store.Set(KeyInitialized, true)
	if !e.settings.Enabled() {
		e.logger.Info("scheduled send disabled, call surfaces left untouched")
		return
	}
	e.interceptor.Install()
	e.logger.Info("scheduled send engine started",
		zap.Int("max_schedule_days", e.settings.MaxScheduleDays()),
		zap.Int("min_schedule_minutes", e.settings.MinScheduleMinutes()))
}

// Stop removes the patches, drops any pending token and timers, and resets
// the store. Calling it again is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	e.mu.Unlock()

	e.interceptor.Uninstall()
	e.interceptor.cancelPending()
	e.limiter.Reset()
	e.store.Reset()
	e.logger.Info("scheduled send engine stopped")
}

// TriggerScheduledSend validates when, records it as the pending token,
// makes sure the patches are installed, arms the safety net and invokes the
// host's native send action. The rewritten call's outcome is reported
// through the store (last_confirmation / last_error), not returned here.
func (e *Engine) TriggerScheduledSend(ctx context.Context, trigger func(ctx context.Context) error, when string) error {
	if !e.settings.Enabled() {
		return ErrDisabled
	}
	if trigger == nil {
		return fmt.Errorf("%w: native send trigger is required", ErrInvalidInput)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := e.normalizeTime(when)
	if err != nil {
		e.logger.Debug("scheduled send rejected", zap.String("scheduled_at", when), zap.Error(err))
		return err
	}

	e.interceptor.arm(token, e.settings.SafetyTimeout())
	e.ApplyPatches()

	if err := trigger(ctx); err != nil {
		e.interceptor.cancelPending()
		e.store.Set(KeyLastError, err.Error())
		return fmt.Errorf("native send trigger: %w", err)
	}
	return nil
}

// ApplyPatches installs both call-surface patches. Idempotent.
func (e *Engine) ApplyPatches() {
	e.interceptor.Install()
}

// RemovePatches restores the original call surfaces. Idempotent.
func (e *Engine) RemovePatches() {
	e.interceptor.Uninstall()
}

// PatchesInstalled reports whether the call surfaces are patched.
func (e *Engine) PatchesInstalled() bool {
	return e.interceptor.IsInstalled()
}

// ScheduleEmail creates a scheduled message directly, without going through
// the host's send path.
func (e *Engine) ScheduleEmail(ctx context.Context, mail core.MailRequest, when string) (*core.ScheduleResult, error) {
	if strings.TrimSpace(mail.From) == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidInput)
	}
	if len(mail.Recipients()) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidInput)
	}
	token, err := e.normalizeTime(when)
	if err != nil {
		return nil, err
	}
	mail.ScheduledAt = token
	mail.SaveAsDraft = false

	args, err := toArgs(mail)
	if err != nil {
		return nil, err
	}

	var out core.ScheduleResult
	if err := e.direct(ctx, ActionCreateMessage, args, &out); err != nil {
		return nil, err
	}
	e.RefreshScheduledCount()
	return &out, nil
}

// CancelScheduledEmail cancels a pending scheduled message.
func (e *Engine) CancelScheduledEmail(ctx context.Context, emailID string) (*core.CancelResult, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return nil, fmt.Errorf("%w: email id is required", ErrInvalidInput)
	}

	var out core.CancelResult
	if err := e.direct(ctx, ActionCancelScheduled, map[string]any{"email_id": emailID}, &out); err != nil {
		return nil, err
	}
	e.RefreshScheduledCount()
	return &out, nil
}

// RescheduleEmail moves a pending scheduled message to a new time.
func (e *Engine) RescheduleEmail(ctx context.Context, emailID, when string) (*core.RescheduleResult, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return nil, fmt.Errorf("%w: email id is required", ErrInvalidInput)
	}
	token, err := e.normalizeTime(when)
	if err != nil {
		return nil, err
	}

	var out core.RescheduleResult
	args := map[string]any{"email_id": emailID, "new_scheduled_at": token}
	if err := e.direct(ctx, ActionReschedule, args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScheduledEmails lists the caller's scheduled messages.
func (e *Engine) GetScheduledEmails(ctx context.Context, opts core.ListOptions) (*core.ScheduledList, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}
	args := map[string]any{"limit": opts.Limit, "offset": opts.Offset}
	if opts.Status != "" {
		args["status"] = opts.Status
	}
	if opts.SortBy != "" {
		args["sort_by"] = opts.SortBy
	}
	if opts.SortOrder != "" {
		args["sort_order"] = opts.SortOrder
	}

	var out core.ScheduledList
	if err := e.direct(ctx, ActionGetScheduled, args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScheduledCount fetches per-status counts and stores the pending count.
func (e *Engine) GetScheduledCount(ctx context.Context) (*core.ScheduledCount, error) {
	var out core.ScheduledCount
	if err := e.direct(ctx, ActionGetScheduledCount, map[string]any{}, &out); err != nil {
		return nil, err
	}
	e.store.Set(KeyScheduledCount, out.Pending)
	return &out, nil
}

// GetScheduledEmail fetches one scheduled message with its bodies.
func (e *Engine) GetScheduledEmail(ctx context.Context, emailID string) (*core.ScheduledEmail, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return nil, fmt.Errorf("%w: email id is required", ErrInvalidInput)
	}

	var out core.ScheduledEmail
	if err := e.direct(ctx, ActionGetScheduledEmail, map[string]any{"email_id": emailID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSchedulerConfig fetches the limits the backend enforces.
func (e *Engine) GetSchedulerConfig(ctx context.Context) (*core.SchedulerConfig, error) {
	var out core.SchedulerConfig
	if err := e.direct(ctx, ActionGetConfig, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshScheduledCount schedules a count refresh after the debounce
// interval. Calls within the interval collapse into one request.
func (e *Engine) RefreshScheduledCount() {
	if e.backend == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
	}
	e.refreshTimer = e.afterFunc(e.settings.Debounce(), func() {
		e.mu.Lock()
		e.refreshTimer = nil
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.GetScheduledCount(ctx); err != nil {
			e.logger.Warn("scheduled count refresh failed", zap.Error(err))
		}
	})
}

// State exposes the correlation store for inspection and subscriptions.
func (e *Engine) State() *Store {
	return e.store
}

// Settings returns the frozen settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Limiter exposes the shared rate limiter.
func (e *Engine) Limiter() *RateLimiter {
	return e.limiter
}

// direct performs one non-intercepted scheduler call: rate limit, record,
// call once, decode. It bypasses any installed RPC patch.
func (e *Engine) direct(ctx context.Context, action Action, args map[string]any, out any) error {
	if e.backend == nil {
		return errors.New("no scheduler backend configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := MethodFor(action)

	if e.limiter.IsLimited() {
		metrics.RecordRateLimited("direct")
		return fmt.Errorf("%s: %w", method, ErrRateLimited)
	}
	e.limiter.RecordRequest()

	resp, err := e.backend.Direct().Call(ctx, method, args)
	if err != nil {
		metrics.RecordOperation(string(action), false)
		return classifyBackendError(err)
	}
	metrics.RecordOperation(string(action), true)
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// normalizeTime validates a requested time and returns it as RFC 3339.
func (e *Engine) normalizeTime(when string) (string, error) {
	t, err := ParseTimestamp(when, e.location)
	if err != nil {
		return "", err
	}
	if err := e.validator.Check(t); err != nil {
		return "", err
	}
	return t.Format(time.RFC3339Nano), nil
}
