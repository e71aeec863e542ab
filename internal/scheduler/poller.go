package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/metrics"
)

// DefaultPollInterval is how often the poller reconciles with the relay.
const DefaultPollInterval = 5 * time.Minute

// PollReport summarizes one reconciliation pass.
type PollReport struct {
	Checked   int `json:"checked"`
	Sent      int `json:"sent"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// StatusPoller marks records Sent or Cancelled once the relay reports their
// submission final or canceled.
type StatusPoller struct {
	service  *Service
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewStatusPoller creates a poller running every interval.
func NewStatusPoller(s *Service, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StatusPoller{service: s, interval: interval, done: make(chan struct{})}
}

// Start launches the background loop. It returns immediately.
func (p *StatusPoller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), p.interval/2)
				_, _ = p.RunOnce(ctx) // errors are logged per user
				cancel()
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight pass.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// RunOnce reconciles every pending submission, grouped by user. A failure
// for one user is logged and does not stop the others.
func (p *StatusPoller) RunOnce(ctx context.Context) (PollReport, error) {
	var report PollReport
	s := p.service

	records, err := s.store.ListPendingSubmissions(ctx)
	if err != nil {
		return report, err
	}

	byUser := make(map[string][]core.ScheduleRecord)
	var users []string
	for _, rec := range records {
		if _, ok := byUser[rec.User]; !ok {
			users = append(users, rec.User)
		}
		byUser[rec.User] = append(byUser[rec.User], rec)
	}

	now := s.now()
	for _, user := range users {
		pending := byUser[user]
		report.Checked += len(pending)

		subs, err := p.fetch(ctx, user, pending)
		if err != nil {
			report.Errors++
			s.logger.Warn("Failed to check scheduled emails",
				zap.String("user", user),
				zap.Int("records", len(pending)),
				zap.Error(err))
			continue
		}

		for i := range pending {
			rec := &pending[i]
			next := nextStatus(rec, subs, now)
			if next == rec.Status {
				report.Pending++
				continue
			}
			rec.Status = next
			if err := s.store.UpdateSchedule(ctx, rec); err != nil {
				report.Errors++
				s.logger.Error("Failed to update schedule status",
					zap.String("mail_message", rec.Name), zap.Error(err))
				continue
			}
			metrics.RecordStatusUpdate(string(next))
			switch next {
			case core.StatusSent:
				report.Sent++
			case core.StatusCancelled:
				report.Cancelled++
			}
		}
	}

	s.logger.Debug("Status poll complete",
		zap.Int("checked", report.Checked),
		zap.Int("sent", report.Sent),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("errors", report.Errors))
	return report, nil
}

func (p *StatusPoller) fetch(ctx context.Context, user string, records []core.ScheduleRecord) (map[string]jmap.EmailSubmission, error) {
	relay, err := p.service.relayFor(user)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.SubmissionID)
	}
	return relay.GetSubmissions(ctx, ids)
}

// nextStatus maps the relay's view of a submission onto a record status. A
// submission the relay no longer knows counts as sent once its time passed.
func nextStatus(rec *core.ScheduleRecord, subs map[string]jmap.EmailSubmission, now time.Time) core.ScheduleStatus {
	sub, ok := subs[rec.SubmissionID]
	if !ok {
		if rec.ScheduledAt.Before(now) {
			return core.StatusSent
		}
		return rec.Status
	}
	switch sub.UndoStatus {
	case jmap.UndoFinal:
		return core.StatusSent
	case jmap.UndoCanceled:
		return core.StatusCancelled
	default:
		return rec.Status
	}
}
