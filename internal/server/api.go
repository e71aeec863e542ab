package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/engine"
	apperrors "github.com/mailsched/mailsched/internal/errors"
	"github.com/mailsched/mailsched/internal/metrics"
	"github.com/mailsched/mailsched/internal/scheduler"
)

// UserHeader carries the authenticated user, set by the fronting proxy.
const UserHeader = "X-Mailsched-User"

const maxArgsBytes = 1 << 20

var errArgsTooLarge = errors.New("request arguments exceed size limit")

// methodFunc runs one scheduler method for user.
type methodFunc func(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error)

type method struct {
	perMinute int
	run       methodFunc
}

// methodTable maps redirected method names to the service. perMinute limits
// each user per method; zero means unlimited.
func methodTable() map[string]method {
	return map[string]method{
		engine.MethodFor(engine.ActionCreateMessage): {run: createMail},
		engine.MethodFor(engine.ActionUpdateDraft):   {run: updateDraftMail},
		engine.MethodFor(engine.ActionGetScheduled):  {perMinute: 120, run: getScheduledEmails},
		engine.MethodFor(engine.ActionGetScheduledEmail): {perMinute: 60, run: func(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
			return svc.GetScheduledEmail(ctx, user, stringArg(args, "email_id"))
		}},
		engine.MethodFor(engine.ActionCancelScheduled): {perMinute: 30, run: func(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
			return svc.CancelScheduledEmail(ctx, user, stringArg(args, "email_id"))
		}},
		engine.MethodFor(engine.ActionReschedule): {perMinute: 30, run: func(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
			return svc.RescheduleEmail(ctx, user, stringArg(args, "email_id"), stringArg(args, "new_scheduled_at"))
		}},
		engine.MethodFor(engine.ActionGetScheduledCount): {perMinute: 120, run: func(ctx context.Context, svc *scheduler.Service, user string, _ map[string]any) (any, error) {
			return svc.GetScheduledCount(ctx, user)
		}},
		engine.MethodFor(engine.ActionGetConfig): {run: func(_ context.Context, svc *scheduler.Service, _ string, _ map[string]any) (any, error) {
			return svc.Config(), nil
		}},
	}
}

func createMail(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
	req, err := scheduler.DecodeMailRequest(args)
	if err != nil {
		return nil, err
	}
	return svc.CreateMail(ctx, user, req)
}

func updateDraftMail(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
	req, err := scheduler.DecodeMailRequest(args)
	if err != nil {
		return nil, err
	}
	return svc.UpdateDraftMail(ctx, user, req)
}

func getScheduledEmails(ctx context.Context, svc *scheduler.Service, user string, args map[string]any) (any, error) {
	var opts core.ListOptions
	if err := scheduler.DecodeArgs(args, &opts); err != nil {
		return nil, err
	}
	return svc.GetScheduledEmails(ctx, user, opts)
}

// API serves POST /api/method/{method}.
type API struct {
	service *scheduler.Service
	methods map[string]method

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

// NewAPI creates the method endpoint for svc.
func NewAPI(svc *scheduler.Service) *API {
	return &API{
		service:  svc,
		methods:  methodTable(),
		limiters: make(map[string]*limiterEntry),
	}
}

// ServeHTTP dispatches one method call and replies {"message": result}.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	m, ok := a.methods[name]
	if !ok {
		HandleError(w, r, apperrors.WrapNotFound(r.Context(), nil, fmt.Sprintf("unknown method %q", name)))
		return
	}

	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if m.perMinute > 0 && !a.allow(user, name, m.perMinute) {
		metrics.RecordRateLimited("api")
		HandleError(w, r, apperrors.WrapRateLimited(r.Context(), nil, "too many requests, please wait"))
		return
	}

	args, err := readArgs(r)
	if errors.Is(err, errArgsTooLarge) {
		HandleError(w, r, apperrors.WrapTooLarge(r.Context(), err, fmt.Sprintf("request body exceeds %d bytes", maxArgsBytes)))
		return
	}
	if err != nil {
		HandleError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request arguments could not be decoded"))
		return
	}

	result, err := m.run(r.Context(), a.service, user, args)
	metrics.RecordOperation(name, err == nil)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": result})
}

// limiterEntry is a per-user, per-method bucket and when it was last used.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterSweepSize = 5000
	limiterIdle      = 10 * time.Minute
)

func (a *API) allow(user, method string, perMinute int) bool {
	key := user + "|" + method
	now := time.Now()

	a.mu.Lock()
	e, ok := a.limiters[key]
	if !ok {
		if len(a.limiters) >= limiterSweepSize {
			for k, v := range a.limiters {
				if now.Sub(v.lastSeen) > limiterIdle {
					delete(a.limiters, k)
				}
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)}
		a.limiters[key] = e
	}
	e.lastSeen = now
	a.mu.Unlock()

	return e.limiter.Allow()
}

// readArgs decodes a JSON object or form body, merged over query parameters.
func readArgs(r *http.Request) (map[string]any, error) {
	args := make(map[string]any)
	mergeValues(args, r.URL.Query())

	if r.Body == nil || r.Body == http.NoBody {
		return args, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArgsBytes {
		return nil, errArgsTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return args, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, err
		}
		mergeValues(args, form)
		return args, nil
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	for k, v := range body {
		args[k] = v
	}
	return args, nil
}

// mergeValues copies form values into args. Values holding JSON arrays or
// objects are decoded; repeated keys become lists.
func mergeValues(args map[string]any, values url.Values) {
	for key, list := range values {
		if len(list) > 1 {
			args[key] = list
			continue
		}
		v := list[0]
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				args[key] = decoded
				continue
			}
		}
		args[key] = v
	}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
