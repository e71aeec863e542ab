package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/metrics"
	"github.com/mailsched/mailsched/internal/observability"
	"github.com/mailsched/mailsched/internal/rpc"
)

// Surface names a patched call surface.
type Surface string

const (
	SurfaceTransport Surface = "transport"
	SurfaceRPC       Surface = "rpc"
)

// ScheduledAtField is the payload field carrying the requested delivery time.
const ScheduledAtField = "scheduled_at"

// Call is what an adapter knows about an outgoing call before deciding
// whether to rewrite it. Payload is only invoked once the cheaper checks
// have passed.
type Call struct {
	Surface Surface
	Method  string
	HasBody bool
	Payload func() (map[string]any, error)
}

// Rewrite is a consumed token turned into a scheduler call.
type Rewrite struct {
	Endpoint    Endpoint
	Method      string
	Payload     map[string]any
	ScheduledAt string
}

// Timer is the part of *time.Timer the engine needs.
type Timer interface {
	Stop() bool
}

type armedToken struct {
	gen   uint64
	value string
	timer Timer
}

// Interceptor owns the correlation token, both call-surface patches and the
// rewrite execution path.
type Interceptor struct {
	store     *Store
	limiter   *RateLimiter
	policy    RetryPolicy
	logger    observability.Logger
	clock     func() time.Time
	afterFunc func(time.Duration, func()) Timer

	// onConfirmed runs after a rewritten call is accepted.
	onConfirmed func(rw *Rewrite)

	mu         sync.Mutex
	generation uint64
	armed      *armedToken
	httpPatch  map[*http.Client]http.RoundTripper
	rpcPatch   map[*rpc.Client]rpc.Caller
	httpHosts  []*http.Client
	rpcHosts   []*rpc.Client
}

func newInterceptor(store *Store, limiter *RateLimiter, policy RetryPolicy, logger observability.Logger) *Interceptor {
	return &Interceptor{
		store:     store,
		limiter:   limiter,
		policy:    policy,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		httpPatch: make(map[*http.Client]http.RoundTripper),
		rpcPatch:  make(map[*rpc.Client]rpc.Caller),
	}
}

// tryIntercept is the single predicate shared by both adapters. It returns
// nil, nil when the call must pass through unmodified. A non-nil Rewrite
// means the token has been consumed.
//
// A send call whose body cannot be read or decoded still consumes the token:
// it fails with ErrInvalidInput rather than going out as send-now.
func (i *Interceptor) tryIntercept(call Call) (*Rewrite, error) {
	if i.store.GetString(KeyPendingScheduledAt) == "" {
		return nil, nil
	}
	ep, ok := matchSendNow(call.Method)
	if !ok || !call.HasBody || call.Payload == nil {
		return nil, nil
	}
	payload, decodeErr := call.Payload()

	token := i.store.take(KeyPendingScheduledAt)
	if token == "" {
		// Lost the race with another call or the safety timer.
		return nil, nil
	}
	i.disarm(token)

	rw := &Rewrite{
		Endpoint:    ep,
		Method:      ep.Redirected,
		ScheduledAt: token,
	}
	if decodeErr != nil {
		err := fmt.Errorf("%s: %w: %w", call.Method, ErrInvalidInput, decodeErr)
		i.reportFailure(call.Surface, rw, err)
		return nil, err
	}

	rewritten := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		rewritten[k] = v
	}
	rewritten[ScheduledAtField] = token
	rw.Payload = rewritten

	i.logger.Info("intercepted send call",
		zap.String("surface", string(call.Surface)),
		zap.String("from", ep.Original),
		zap.String("to", ep.Redirected),
		zap.String("scheduled_at", token))

	return rw, nil
}

// arm stores a new token and starts its safety-net timer. Any previous token
// and timer are replaced.
func (i *Interceptor) arm(value string, timeout time.Duration) {
	i.store.Set(KeyPendingScheduledAt, value)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.armed != nil && i.armed.timer != nil {
		i.armed.timer.Stop()
	}
	i.generation++
	gen := i.generation
	i.armed = &armedToken{gen: gen, value: value}
	if timeout > 0 {
		i.armed.timer = i.afterFunc(timeout, func() { i.expire(gen) })
	}
}

// disarm stops the timer belonging to a consumed token.
func (i *Interceptor) disarm(value string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.armed == nil || i.armed.value != value {
		return
	}
	if i.armed.timer != nil {
		i.armed.timer.Stop()
	}
	i.armed = nil
}

// expire runs when a safety-net timer fires. Timers from older generations
// are ignored.
func (i *Interceptor) expire(gen uint64) {
	i.mu.Lock()
	if i.armed == nil || i.armed.gen != gen {
		i.mu.Unlock()
		return
	}
	value := i.armed.value
	i.armed = nil
	i.mu.Unlock()

	if !i.store.swap(KeyPendingScheduledAt, value, "") {
		return
	}
	i.logger.Warn("scheduled send abandoned, no matching send call observed",
		zap.String("scheduled_at", value),
		zap.Error(ErrTimedOutCorrelation))
	i.store.Set(KeyAbandonedAt, i.clock().Format(time.RFC3339))
	metrics.RecordAbandonedToken()
}

// cancelPending clears any token and its timer without reporting abandonment.
func (i *Interceptor) cancelPending() {
	i.mu.Lock()
	if i.armed != nil && i.armed.timer != nil {
		i.armed.timer.Stop()
	}
	i.armed = nil
	i.mu.Unlock()
	i.store.take(KeyPendingScheduledAt)
}

// runRewrite executes a consumed rewrite: rate limit, record, retry, report.
func runRewrite[T any](ctx context.Context, i *Interceptor, surface Surface, rw *Rewrite, send func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if i.limiter.IsLimited() {
		err := fmt.Errorf("%s: %w", rw.Method, ErrRateLimited)
		metrics.RecordRateLimited(string(surface))
		i.reportFailure(surface, rw, err)
		return zero, err
	}
	i.limiter.RecordRequest()

	policy := i.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		i.logger.Warn("scheduler call failed, retrying",
			zap.String("method", rw.Method),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	result, err := Retry(ctx, policy, func(ctx context.Context) (T, error) {
		out, err := send(ctx)
		if err == nil {
			return out, nil
		}
		classified := classifyBackendError(err)
		if errors.Is(classified, ErrPermanent) {
			return zero, Permanent(classified)
		}
		return zero, classified
	})
	if err != nil {
		i.reportFailure(surface, rw, err)
		return zero, err
	}

	i.reportSuccess(surface, rw)
	return result, nil
}

func (i *Interceptor) reportSuccess(surface Surface, rw *Rewrite) {
	metrics.RecordInterception(string(surface), "success")
	i.logger.Info("scheduled send confirmed",
		zap.String("method", rw.Method),
		zap.String("scheduled_at", rw.ScheduledAt))
	i.store.Set(KeyLastError, "")
	i.store.Set(KeyLastConfirmation, rw.ScheduledAt)
	if i.onConfirmed != nil {
		i.onConfirmed(rw)
	}
}

func (i *Interceptor) reportFailure(surface Surface, rw *Rewrite, err error) {
	metrics.RecordInterception(string(surface), "failure")
	i.logger.Error("scheduled send failed",
		zap.String("method", rw.Method),
		zap.String("scheduled_at", rw.ScheduledAt),
		zap.Error(err))
	i.store.Set(KeyLastError, err.Error())
}

// register adds host call surfaces that Install will patch.
func (i *Interceptor) register(clients []*http.Client, rpcClients []*rpc.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range clients {
		if c != nil {
			i.httpHosts = append(i.httpHosts, c)
		}
	}
	for _, c := range rpcClients {
		if c != nil {
			i.rpcHosts = append(i.rpcHosts, c)
		}
	}
}

// Install patches every registered call surface. Surfaces that already carry
// a patch are left alone.
func (i *Interceptor) Install() {
	i.mu.Lock()
	for _, c := range i.httpHosts {
		if _, patched := c.Transport.(*interceptingTransport); patched {
			continue
		}
		i.httpPatch[c] = c.Transport
		c.Transport = &interceptingTransport{interceptor: i, original: c.Transport}
	}
	for _, c := range i.rpcHosts {
		if _, patched := c.InstalledCaller().(*interceptingCaller); patched {
			continue
		}
		prev := c.InstalledCaller()
		i.rpcPatch[c] = prev
		c.SetCaller(&interceptingCaller{interceptor: i, client: c, original: prev})
	}
	i.mu.Unlock()

	i.store.Set(KeyPatchesApplied, true)
	i.logger.Debug("call surface patches installed")
}

// Uninstall restores the exact references saved by Install.
func (i *Interceptor) Uninstall() {
	i.mu.Lock()
	for c, original := range i.httpPatch {
		if p, ok := c.Transport.(*interceptingTransport); ok && p.interceptor == i {
			c.Transport = original
		}
		delete(i.httpPatch, c)
	}
	for c, original := range i.rpcPatch {
		if p, ok := c.InstalledCaller().(*interceptingCaller); ok && p.interceptor == i {
			c.SetCaller(original)
		}
		delete(i.rpcPatch, c)
	}
	i.mu.Unlock()

	i.store.Set(KeyPatchesApplied, false)
	i.logger.Debug("call surface patches removed")
}

// IsInstalled reports whether the patches are in place.
func (i *Interceptor) IsInstalled() bool {
	return i.store.GetBool(KeyPatchesApplied)
}
