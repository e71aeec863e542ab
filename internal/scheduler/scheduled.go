package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetScheduledEmails returns one page of the user's scheduled messages.
// Unknown status filters are ignored and unknown sort fields fall back to
// scheduled_at.
func (s *Service) GetScheduledEmails(ctx context.Context, user string, opts core.ListOptions) (*core.ScheduledList, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	limit = min(max(limit, 1), maxListLimit)
	offset := max(opts.Offset, 0)

	q := core.ScheduleQuery{
		User:       user,
		SortBy:     core.ParseSortField(opts.SortBy),
		Descending: strings.EqualFold(strings.TrimSpace(opts.SortOrder), "desc"),
		Limit:      limit,
		Offset:     offset,
	}
	if st, ok := core.ParseStatus(opts.Status); ok {
		q.Status = st
	}

	records, total, err := s.store.ListSchedules(ctx, q)
	if err != nil {
		return nil, err
	}

	now := s.now()
	emails := make([]core.ScheduledEmail, 0, len(records))
	for i := range records {
		emails = append(emails, records[i].View(now, false))
	}
	return &core.ScheduledList{
		Emails:  emails,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(emails) < total,
	}, nil
}

// GetScheduledEmail returns one record, looked up by name or relay email id.
func (s *Service) GetScheduledEmail(ctx context.Context, user, id string) (*core.ScheduledEmail, error) {
	rec, err := s.lookup(ctx, user, id)
	if err != nil {
		return nil, err
	}
	view := rec.View(s.now(), true)
	return &view, nil
}

// GetScheduledCount groups the user's records by status.
func (s *Service) GetScheduledCount(ctx context.Context, user string) (*core.ScheduledCount, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountSchedules(ctx, user)
	if err != nil {
		return nil, err
	}
	return &count, nil
}

// CancelScheduledEmail cancels a pending record. The relay submission is
// cancelled best-effort; the record is marked Cancelled either way.
func (s *Service) CancelScheduledEmail(ctx context.Context, user, id string) (*core.CancelResult, error) {
	rec, err := s.lookup(ctx, user, id)
	if err != nil {
		return nil, err
	}

	switch {
	case rec.Status == core.StatusDraft || rec.ScheduledAt.IsZero():
		return nil, fmt.Errorf("%w: this email is not scheduled", ErrConflict)
	case rec.Status == core.StatusSent:
		return nil, fmt.Errorf("%w: cannot cancel an email that has already been sent", ErrConflict)
	case rec.Status == core.StatusCancelled:
		return nil, fmt.Errorf("%w: this email is already cancelled", ErrConflict)
	}
	if s.now().Sub(rec.ScheduledAt) > CancelGrace {
		return nil, fmt.Errorf("%w: cannot cancel an email past its scheduled time", ErrConflict)
	}

	result := &core.CancelResult{Success: true, Message: "Scheduled email cancelled successfully"}
	if rec.SubmissionID != "" {
		if cerr := s.cancelSubmission(ctx, rec); cerr != nil {
			result.RelayError = cerr.Error()
			s.logger.Warn("Relay cancel failed",
				zap.String("mail_message", rec.Name),
				zap.String("submission_id", rec.SubmissionID),
				zap.Error(cerr))
		} else {
			result.RelayCancelled = true
		}
	}

	rec.Status = core.StatusCancelled
	rec.ErrorMessage = "Cancelled by user"
	if result.RelayError != "" {
		rec.ErrorMessage += " (relay: " + result.RelayError + ")"
	}
	if err := s.store.UpdateSchedule(ctx, rec); err != nil {
		return nil, err
	}
	metrics.RecordStatusUpdate(string(core.StatusCancelled))

	s.logger.Info("Scheduled email cancelled",
		zap.String("mail_message", rec.Name),
		zap.Bool("relay_cancelled", result.RelayCancelled))
	return result, nil
}

// RescheduleEmail moves a pending record to a new delivery time. A pending
// relay submission has its HOLDUNTIL updated; when the relay refuses the
// update, or the submission is gone, the message is cancelled and submitted
// again.
func (s *Service) RescheduleEmail(ctx context.Context, user, id, newScheduledAt string) (*core.RescheduleResult, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}
	when, err := s.parseScheduleTime(newScheduledAt)
	if err != nil {
		return nil, err
	}
	rec, err := s.lookup(ctx, user, id)
	if err != nil {
		return nil, err
	}

	switch {
	case rec.Status == core.StatusDraft || rec.ScheduledAt.IsZero():
		return nil, fmt.Errorf("%w: this email is not scheduled", ErrConflict)
	case rec.Status == core.StatusSent:
		return nil, fmt.Errorf("%w: cannot reschedule an email that has already been sent", ErrConflict)
	case rec.Status == core.StatusCancelled:
		return nil, fmt.Errorf("%w: cannot reschedule a cancelled email", ErrConflict)
	}

	old := rec.ScheduledAt
	result := &core.RescheduleResult{
		Success:        true,
		OldScheduledAt: old.Format(time.RFC3339),
		NewScheduledAt: when.Format(time.RFC3339),
	}

	updated, err := s.updateHold(ctx, rec, when)
	if err != nil {
		return nil, err
	}
	if updated {
		rec.ScheduledAt = when
		if err := s.store.UpdateSchedule(ctx, rec); err != nil {
			return nil, err
		}
		result.Message = "Schedule updated"
	} else {
		if rec.SubmissionID != "" {
			if cerr := s.cancelSubmission(ctx, rec); cerr != nil && !errors.Is(cerr, jmap.ErrNotFound) {
				s.logger.Warn("Relay cancel before resubmit failed",
					zap.String("mail_message", rec.Name), zap.Error(cerr))
			}
		}
		rec.ScheduledAt = when
		rec.Status = core.StatusScheduled
		rec.EmailID, rec.SubmissionID, rec.MessageID = "", "", ""
		if _, err := s.submit(ctx, rec); err != nil {
			return nil, err
		}
		result.Resubmitted = true
		result.Message = "Schedule updated; message resubmitted"
	}

	s.logger.Info("Scheduled email rescheduled",
		zap.String("mail_message", rec.Name),
		zap.Time("old_scheduled_at", old),
		zap.Time("new_scheduled_at", when),
		zap.Bool("resubmitted", result.Resubmitted))
	return result, nil
}

// updateHold tries to move the relay hold in place. It reports false when
// the message has to be resubmitted instead.
func (s *Service) updateHold(ctx context.Context, rec *core.ScheduleRecord, when time.Time) (bool, error) {
	if rec.SubmissionID == "" || rec.Status == core.StatusFailed {
		return false, nil
	}
	relay, err := s.relayFor(rec.User)
	if err != nil {
		return false, err
	}

	subs, err := relay.GetSubmissions(ctx, []string{rec.SubmissionID})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRelay, err)
	}
	sub, ok := subs[rec.SubmissionID]
	if !ok {
		return false, nil
	}
	switch sub.UndoStatus {
	case jmap.UndoFinal:
		rec.Status = core.StatusSent
		if err := s.store.UpdateSchedule(ctx, rec); err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: cannot reschedule an email that has already been sent", ErrConflict)
	case jmap.UndoCanceled:
		return false, nil
	}

	if err := relay.UpdateHoldUntil(ctx, rec.SubmissionID, when); err != nil {
		s.logger.Info("Relay refused hold update, resubmitting",
			zap.String("mail_message", rec.Name), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Service) cancelSubmission(ctx context.Context, rec *core.ScheduleRecord) error {
	relay, err := s.relayFor(rec.User)
	if err != nil {
		return err
	}
	return relay.CancelSubmission(ctx, rec.SubmissionID)
}

func (s *Service) lookup(ctx context.Context, user, id string) (*core.ScheduleRecord, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: email_id is required", ErrInvalid)
	}
	rec, err := s.store.GetSchedule(ctx, user, id)
	if err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: scheduled email %q", ErrNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}
