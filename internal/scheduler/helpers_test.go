package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/jmap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	seq     int
	records map[string]core.ScheduleRecord
	failGet error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]core.ScheduleRecord)}
}

func (m *memStore) CreateSchedule(_ context.Context, rec *core.ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Name == "" {
		m.seq++
		rec.Name = "REC" + string(rune('0'+m.seq))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = testNow
	}
	m.records[rec.Name] = *rec
	return nil
}

func (m *memStore) GetSchedule(_ context.Context, user, id string) (*core.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	for _, rec := range m.records {
		if rec.User == user && (rec.Name == id || (rec.EmailID != "" && rec.EmailID == id)) {
			out := rec
			return &out, nil
		}
	}
	return nil, core.ErrRecordNotFound
}

func (m *memStore) ListSchedules(_ context.Context, q core.ScheduleQuery) ([]core.ScheduleRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ScheduleRecord
	for _, rec := range m.records {
		if rec.User != q.User {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if q.Status == "" && rec.Status == core.StatusDraft {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	total := len(out)
	if q.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func (m *memStore) CountSchedules(_ context.Context, user string) (core.ScheduledCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c core.ScheduledCount
	for _, rec := range m.records {
		if rec.User != user || rec.Status == core.StatusDraft {
			continue
		}
		c.Total++
		switch rec.Status {
		case core.StatusScheduled:
			c.Pending++
		case core.StatusSent:
			c.Sent++
		case core.StatusCancelled:
			c.Cancelled++
		case core.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *memStore) UpdateSchedule(_ context.Context, rec *core.ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Name]; !ok {
		return core.ErrRecordNotFound
	}
	m.records[rec.Name] = *rec
	return nil
}

func (m *memStore) ListPendingSubmissions(context.Context) ([]core.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ScheduleRecord
	for _, rec := range m.records {
		if rec.Status == core.StatusScheduled && rec.SubmissionID != "" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) get(name string) core.ScheduleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[name]
}

func (m *memStore) put(rec core.ScheduleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Name] = rec
}

type fakeRelay struct {
	mu          sync.Mutex
	submitted   []jmap.Message
	cancelled   []string
	holds       map[string]time.Time
	submissions map[string]jmap.EmailSubmission
	submitErr   error
	cancelErr   error
	updateErr   error
	getErr      error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{holds: map[string]time.Time{}, submissions: map[string]jmap.EmailSubmission{}}
}

func (f *fakeRelay) Submit(_ context.Context, msg jmap.Message) (*jmap.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, msg)
	n := len(f.submitted)
	sub := &jmap.Submission{
		EmailID:      "email-" + string(rune('0'+n)),
		SubmissionID: "sub-" + string(rune('0'+n)),
		MessageID:    "msg-" + string(rune('0'+n)) + "@example.com",
	}
	f.submissions[sub.SubmissionID] = jmap.EmailSubmission{ID: sub.SubmissionID, EmailID: sub.EmailID, UndoStatus: jmap.UndoPending}
	return sub, nil
}

func (f *fakeRelay) GetSubmissions(_ context.Context, ids []string) (map[string]jmap.EmailSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := map[string]jmap.EmailSubmission{}
	for _, id := range ids {
		if sub, ok := f.submissions[id]; ok {
			out[id] = sub
		}
	}
	return out, nil
}

func (f *fakeRelay) CancelSubmission(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	if sub, ok := f.submissions[id]; ok {
		sub.UndoStatus = jmap.UndoCanceled
		f.submissions[id] = sub
	}
	return nil
}

func (f *fakeRelay) UpdateHoldUntil(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.holds[id] = at
	return nil
}

func (f *fakeRelay) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := f.submissions[id]
	sub.ID = id
	sub.UndoStatus = status
	f.submissions[id] = sub
}

func (f *fakeRelay) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.submissions, id)
}

type harness struct {
	svc   *Service
	store *memStore
	relay *fakeRelay
	now   *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := testNow
	h := &harness{store: newMemStore(), relay: newFakeRelay(), now: &now}
	h.svc = New(Options{
		Store: h.store,
		Relays: func(user string) (Relay, error) {
			if strings.HasPrefix(user, "norelay") {
				return nil, errors.New("no credentials")
			}
			return h.relay, nil
		},
		Settings: engine.NormalizeSettings(engine.BootConfig{}),
		Clock:    func() time.Time { return *h.now },
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	*h.now = h.now.Add(d)
}

func validRequest(at string) core.MailRequest {
	return core.MailRequest{
		From:        "Ada <ada@example.com>",
		To:          []string{"bob@example.com"},
		Subject:     "later",
		TextBody:    "hello",
		ScheduledAt: at,
	}
}

func inHours(h int) string {
	return testNow.Add(time.Duration(h) * time.Hour).Format(time.RFC3339)
}
