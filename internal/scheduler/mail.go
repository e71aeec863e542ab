package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/core"
	"github.com/mailsched/mailsched/internal/jmap"
	"github.com/mailsched/mailsched/internal/metrics"
)

// CreateMail records a message and submits it to the relay. With a
// scheduled_at the relay holds it until that time; without one it is sent
// now. save_as_draft stores the message without submitting it.
func (s *Service) CreateMail(ctx context.Context, user string, req core.MailRequest) (*core.ScheduleResult, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}

	rec := recordFromRequest(user, req)
	if err := s.validateMail(rec); err != nil {
		return nil, err
	}

	if req.SaveAsDraft {
		rec.Status = core.StatusDraft
		if err := s.store.CreateSchedule(ctx, rec); err != nil {
			return nil, err
		}
		return &core.ScheduleResult{MailMessage: rec.Name}, nil
	}

	var sendAt time.Time
	if strings.TrimSpace(req.ScheduledAt) != "" {
		if sendAt, err = s.parseScheduleTime(req.ScheduledAt); err != nil {
			return nil, err
		}
	}
	rec.ScheduledAt = sendAt
	rec.Status = core.StatusScheduled
	if err := s.store.CreateSchedule(ctx, rec); err != nil {
		return nil, err
	}

	return s.submit(ctx, rec)
}

// UpdateDraftMail applies the provided fields to a draft. With send set the
// draft is submitted like CreateMail.
func (s *Service) UpdateDraftMail(ctx context.Context, user string, req core.MailRequest) (*core.ScheduleResult, error) {
	user, err := checkUser(user)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.MailMessageName)
	if name == "" {
		return nil, fmt.Errorf("%w: mail_message_name is required", ErrInvalid)
	}

	rec, err := s.store.GetSchedule(ctx, user, name)
	if err != nil {
		return nil, err
	}
	if rec.Status != core.StatusDraft {
		return nil, fmt.Errorf("%w: %s is not a draft", ErrConflict, name)
	}
	applyDraftChanges(rec, req)

	if !req.Send {
		if err := s.store.UpdateSchedule(ctx, rec); err != nil {
			return nil, err
		}
		return &core.ScheduleResult{MailMessage: rec.Name}, nil
	}

	if err := s.validateMail(rec); err != nil {
		return nil, err
	}
	rec.ScheduledAt = time.Time{}
	if strings.TrimSpace(req.ScheduledAt) != "" {
		if rec.ScheduledAt, err = s.parseScheduleTime(req.ScheduledAt); err != nil {
			return nil, err
		}
	}
	rec.Status = core.StatusScheduled
	if err := s.store.UpdateSchedule(ctx, rec); err != nil {
		return nil, err
	}

	return s.submit(ctx, rec)
}

// submit hands rec to the relay and records the outcome. A zero ScheduledAt
// sends immediately.
func (s *Service) submit(ctx context.Context, rec *core.ScheduleRecord) (*core.ScheduleResult, error) {
	relay, err := s.relayFor(rec.User)
	if err == nil {
		var sub *jmap.Submission
		sub, err = relay.Submit(ctx, messageFromRecord(rec))
		if err == nil {
			rec.EmailID = sub.EmailID
			rec.SubmissionID = sub.SubmissionID
			rec.MessageID = sub.MessageID
		} else {
			err = fmt.Errorf("%w: %v", ErrRelay, err)
		}
	}

	if err != nil {
		rec.Status = core.StatusFailed
		rec.ErrorMessage = err.Error()
		metrics.RecordStatusUpdate(string(core.StatusFailed))
		if uerr := s.store.UpdateSchedule(ctx, rec); uerr != nil {
			s.logger.Error("Failed to record submission failure",
				zap.String("mail_message", rec.Name), zap.Error(uerr))
		}
		s.logger.Warn("Relay submission failed",
			zap.String("mail_message", rec.Name),
			zap.String("user", rec.User),
			zap.Error(err))
		return nil, err
	}

	result := &core.ScheduleResult{MailMessage: rec.Name}
	if rec.ScheduledAt.IsZero() {
		rec.Status = core.StatusSent
		result.Status = string(core.StatusSent)
	} else {
		result.ScheduledAt = rec.ScheduledAt.Format(time.RFC3339)
		result.Status = string(core.StatusScheduled)
	}
	rec.ErrorMessage = ""
	if err := s.store.UpdateSchedule(ctx, rec); err != nil {
		return nil, err
	}
	metrics.RecordStatusUpdate(string(rec.Status))

	s.logger.Info("Message submitted to relay",
		zap.String("mail_message", rec.Name),
		zap.String("submission_id", rec.SubmissionID),
		zap.String("status", string(rec.Status)),
		zap.Time("scheduled_at", rec.ScheduledAt))
	return result, nil
}

func recordFromRequest(user string, req core.MailRequest) *core.ScheduleRecord {
	return &core.ScheduleRecord{
		User:       user,
		FromEmail:  strings.TrimSpace(req.From),
		To:         req.To,
		Cc:         req.Cc,
		Bcc:        req.Bcc,
		Subject:    req.Subject,
		TextBody:   req.TextBody,
		HTMLBody:   req.HTMLBody,
		InReplyTo:  req.InReplyTo,
		References: req.References,
	}
}

func applyDraftChanges(rec *core.ScheduleRecord, req core.MailRequest) {
	if v := strings.TrimSpace(req.From); v != "" {
		rec.FromEmail = v
	}
	if req.To != nil {
		rec.To = req.To
	}
	if req.Cc != nil {
		rec.Cc = req.Cc
	}
	if req.Bcc != nil {
		rec.Bcc = req.Bcc
	}
	if req.Subject != "" {
		rec.Subject = req.Subject
	}
	if req.TextBody != "" {
		rec.TextBody = req.TextBody
	}
	if req.HTMLBody != "" {
		rec.HTMLBody = req.HTMLBody
	}
}

func messageFromRecord(rec *core.ScheduleRecord) jmap.Message {
	return jmap.Message{
		From:       rec.FromEmail,
		To:         rec.To,
		Cc:         rec.Cc,
		Bcc:        rec.Bcc,
		Subject:    rec.Subject,
		TextBody:   rec.TextBody,
		HTMLBody:   rec.HTMLBody,
		InReplyTo:  rec.InReplyTo,
		References: rec.References,
		MessageID:  rec.MessageID,
		SendAt:     rec.ScheduledAt,
	}
}
