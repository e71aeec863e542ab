package core

import (
	"errors"
	"strings"
	"time"
)

// ErrRecordNotFound is returned when no schedule record matches a lookup.
var ErrRecordNotFound = errors.New("schedule record not found")

// ScheduleRecord is the persisted form of a scheduled message.
type ScheduleRecord struct {
	Name         string
	User         string
	EmailID      string
	SubmissionID string
	MessageID    string
	FromEmail    string
	To           []string
	Cc           []string
	Bcc          []string
	Subject      string
	TextBody     string
	HTMLBody     string
	InReplyTo    string
	References   []string
	ScheduledAt  time.Time
	Status       ScheduleStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecipientCount is the number of envelope recipients.
func (r *ScheduleRecord) RecipientCount() int {
	return len(r.To) + len(r.Cc) + len(r.Bcc)
}

// Sendable reports whether the record still waits for delivery.
func (r *ScheduleRecord) Sendable() bool {
	return r.Status == StatusScheduled
}

// View converts the record to its API shape. The detailed form adds the
// bodies and the remaining wait.
func (r *ScheduleRecord) View(now time.Time, detailed bool) ScheduledEmail {
	out := ScheduledEmail{
		Name:           r.Name,
		ID:             r.EmailID,
		FromEmail:      r.FromEmail,
		Subject:        r.Subject,
		To:             r.To,
		Cc:             r.Cc,
		Bcc:            r.Bcc,
		RecipientCount: r.RecipientCount(),
		ScheduledAt:    r.ScheduledAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		Status:         r.Status,
		ErrorMessage:   r.ErrorMessage,
		SubmissionID:   r.SubmissionID,
	}
	if detailed {
		out.TextBody = r.TextBody
		out.HTMLBody = r.HTMLBody
		if !r.ScheduledAt.IsZero() {
			secs := int64(max(r.ScheduledAt.Sub(now), 0) / time.Second)
			out.SecondsUntilSend = &secs
		}
	}
	return out
}

// SortField is a whitelisted ordering column for schedule listings.
type SortField string

const (
	SortScheduledAt SortField = "scheduled_at"
	SortCreation    SortField = "creation"
	SortSubject     SortField = "subject"
	SortFromEmail   SortField = "from_email"
)

// ParseSortField maps user input to a known field, defaulting to
// SortScheduledAt.
func ParseSortField(s string) SortField {
	switch SortField(strings.ToLower(strings.TrimSpace(s))) {
	case SortCreation:
		return SortCreation
	case SortSubject:
		return SortSubject
	case SortFromEmail:
		return SortFromEmail
	default:
		return SortScheduledAt
	}
}

// ScheduleQuery selects schedule records for one user.
type ScheduleQuery struct {
	User       string
	Status     ScheduleStatus
	SortBy     SortField
	Descending bool
	Limit      int
	Offset     int
}
