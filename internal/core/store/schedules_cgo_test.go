//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/mailsched.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestScheduleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)

	rec := &core.ScheduleRecord{
		User:        "ada@example.com",
		FromEmail:   "ada@example.com",
		To:          []string{"bob@example.com"},
		Cc:          []string{"carol@example.com"},
		Subject:     "later",
		TextBody:    "hi",
		ScheduledAt: at,
	}
	require.NoError(t, s.CreateSchedule(ctx, rec))
	require.NotEmpty(t, rec.Name)
	require.Equal(t, core.StatusScheduled, rec.Status)

	got, err := s.GetSchedule(ctx, "ada@example.com", rec.Name)
	require.NoError(t, err)
	require.Equal(t, []string{"bob@example.com"}, got.To)
	require.Equal(t, []string{"carol@example.com"}, got.Cc)
	require.Nil(t, got.Bcc)
	require.True(t, got.ScheduledAt.Equal(at))

	_, err = s.GetSchedule(ctx, "eve@example.com", rec.Name)
	require.ErrorIs(t, err, ErrNotFound)

	got.EmailID = "email-1"
	got.SubmissionID = "sub-1"
	require.NoError(t, s.UpdateSchedule(ctx, got))

	byEmail, err := s.GetSchedule(ctx, "ada@example.com", "email-1")
	require.NoError(t, err)
	require.Equal(t, rec.Name, byEmail.Name)
	require.Equal(t, "sub-1", byEmail.SubmissionID)

	require.ErrorIs(t, s.UpdateSchedule(ctx, &core.ScheduleRecord{Name: "missing"}), ErrNotFound)
}

func TestListCountAndPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	statuses := []core.ScheduleStatus{core.StatusScheduled, core.StatusScheduled, core.StatusSent, core.StatusCancelled}
	for i, st := range statuses {
		rec := &core.ScheduleRecord{
			User:         "ada@example.com",
			FromEmail:    "ada@example.com",
			To:           []string{"bob@example.com"},
			Subject:      string(rune('d' - i)),
			ScheduledAt:  base.Add(time.Duration(i) * time.Hour),
			Status:       st,
			SubmissionID: "sub",
		}
		require.NoError(t, s.CreateSchedule(ctx, rec))
	}
	require.NoError(t, s.CreateSchedule(ctx, &core.ScheduleRecord{
		User: "bob@example.com", FromEmail: "bob@example.com", ScheduledAt: base,
	}))

	page, total, err := s.ListSchedules(ctx, core.ScheduleQuery{User: "ada@example.com", Limit: 2, SortBy: core.SortScheduledAt})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, page, 2)
	require.True(t, page[0].ScheduledAt.Before(page[1].ScheduledAt))

	page, total, err = s.ListSchedules(ctx, core.ScheduleQuery{
		User: "ada@example.com", Status: core.StatusScheduled, SortBy: core.SortSubject,
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "c", page[0].Subject)

	count, err := s.CountSchedules(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, core.ScheduledCount{Total: 4, Pending: 2, Sent: 1, Cancelled: 1}, count)

	pending, err := s.ListPendingSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}
