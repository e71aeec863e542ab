package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/jmap"
)

func seed(h *harness, name, user, submission string, at time.Time) {
	h.store.put(core.ScheduleRecord{
		Name:         name,
		User:         user,
		FromEmail:    user,
		To:           []string{"bob@example.com"},
		ScheduledAt:  at,
		Status:       core.StatusScheduled,
		SubmissionID: submission,
	})
}

func TestPollerReconcilesRelayState(t *testing.T) {
	h := newHarness(t)
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	seed(h, "A", ada, "s-final", past)
	seed(h, "B", ada, "s-canceled", future)
	seed(h, "C", ada, "s-gone-past", past)
	seed(h, "D", ada, "s-gone-future", future)
	seed(h, "E", ada, "s-pending", future)
	h.relay.setStatus("s-final", jmap.UndoFinal)
	h.relay.setStatus("s-canceled", jmap.UndoCanceled)
	h.relay.setStatus("s-pending", jmap.UndoPending)

	report, err := NewStatusPoller(h.svc, time.Minute).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollReport{Checked: 5, Sent: 2, Cancelled: 1, Pending: 2}, report)

	assert.Equal(t, core.StatusSent, h.store.get("A").Status)
	assert.Equal(t, core.StatusCancelled, h.store.get("B").Status)
	assert.Equal(t, core.StatusSent, h.store.get("C").Status)
	assert.Equal(t, core.StatusScheduled, h.store.get("D").Status)
	assert.Equal(t, core.StatusScheduled, h.store.get("E").Status)
}

func TestPollerIsolatesUserFailures(t *testing.T) {
	h := newHarness(t)
	seed(h, "A", "norelay@example.com", "s-1", testNow.Add(-time.Hour))
	seed(h, "B", ada, "s-2", testNow.Add(-time.Hour))

	report, err := NewStatusPoller(h.svc, time.Minute).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, core.StatusScheduled, h.store.get("A").Status)
	assert.Equal(t, core.StatusSent, h.store.get("B").Status)
}

func TestPollerRelayErrorLeavesRecords(t *testing.T) {
	h := newHarness(t)
	seed(h, "A", ada, "s-1", testNow.Add(-time.Hour))
	h.relay.getErr = errors.New("unavailable")

	report, err := NewStatusPoller(h.svc, time.Minute).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, core.StatusScheduled, h.store.get("A").Status)
}

func TestPollerStartStop(t *testing.T) {
	h := newHarness(t)
	p := NewStatusPoller(h.svc, 10*time.Millisecond)
	p.Start()
	p.Stop()
	p.Stop()
	assert.Equal(t, DefaultPollInterval, NewStatusPoller(h.svc, 0).interval)
}
