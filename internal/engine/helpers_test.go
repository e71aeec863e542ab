package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int                            { return &v }
func boolPtr(v bool) *bool                         { return &v }
func durationPtr(v time.Duration) *time.Duration   { return &v }
func fixedClock(t time.Time) func() time.Time      { return func() time.Time { return t } }
func noSleep(context.Context, time.Duration) error { return nil }

// fakeTimers is a manual clock for AfterFunc.
type fakeTimers struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{owner: f, at: f.now + d, fn: fn}
	f.pending = append(f.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock and runs every timer that became due.
func (f *fakeTimers) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	var due []*fakeTimer
	for _, t := range f.pending {
		if !t.stopped && !t.fired && t.at <= f.now {
			t.fired = true
			due = append(due, t)
		}
	}
	f.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

// Active counts timers that have neither fired nor been stopped.
func (f *fakeTimers) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordedCall struct {
	Method      string
	ContentType string
	Raw         string
	Args        map[string]any
	Files       map[string]string
}

// fakeBackend is an httptest server that answers /api/method/* calls and
// records them. respond decides the status and message per call.
type fakeBackend struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []recordedCall
	respond func(n int, call recordedCall) (int, any)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/api/method/")
	data, _ := io.ReadAll(r.Body)

	call := recordedCall{
		Method:      method,
		ContentType: r.Header.Get("Content-Type"),
		Raw:         string(data),
		Args:        map[string]any{},
		Files:       map[string]string{},
	}
	mediaType, params, _ := mime.ParseMediaType(call.ContentType)
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, _ := url.ParseQuery(string(data))
		for k := range values {
			call.Args[k] = values.Get(k)
		}
	case mediaType == "multipart/form-data":
		form, err := multipart.NewReader(bytes.NewReader(data), params["boundary"]).ReadForm(1 << 20)
		if err == nil {
			for k, v := range form.Value {
				call.Args[k] = v[0]
			}
			for k, files := range form.File {
				if f, err := files[0].Open(); err == nil {
					content, _ := io.ReadAll(f)
					_ = f.Close()
					call.Files[k] = files[0].Filename + ":" + string(content)
				}
			}
		}
	case len(data) > 0:
		_ = json.Unmarshal(data, &call.Args)
	}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	n := len(b.calls)
	respond := b.respond
	b.mu.Unlock()

	status, message := http.StatusOK, any(map[string]any{"mail_message": "MSG-0001"})
	if respond != nil {
		status, message = respond(n, call)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= 400 {
		_ = json.NewEncoder(w).Encode(map[string]any{"exc_type": "ValidationError", "message": message})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"message": message})
}

func (b *fakeBackend) Calls() []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedCall(nil), b.calls...)
}
