package core

import (
	"strings"
	"time"
)

// ScheduleStatus is the lifecycle state of a scheduled message.
type ScheduleStatus string

const (
	StatusScheduled ScheduleStatus = "Scheduled"
	StatusSent      ScheduleStatus = "Sent"
	StatusCancelled ScheduleStatus = "Cancelled"
	StatusFailed    ScheduleStatus = "Failed"
	// StatusDraft marks a saved message that has not been submitted.
	StatusDraft ScheduleStatus = "Draft"
)

// ParseStatus returns the status matching s, ignoring case.
func ParseStatus(s string) (ScheduleStatus, bool) {
	for _, st := range []ScheduleStatus{StatusScheduled, StatusSent, StatusCancelled, StatusFailed, StatusDraft} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// MailRequest carries the compose fields of create_mail and update_draft_mail.
// Recipient lists accept either a JSON array or a comma separated string.
type MailRequest struct {
	From        string   `json:"from_" mapstructure:"from_"`
	To          []string `json:"to" mapstructure:"to"`
	Cc          []string `json:"cc,omitempty" mapstructure:"cc"`
	Bcc         []string `json:"bcc,omitempty" mapstructure:"bcc"`
	Subject     string   `json:"subject" mapstructure:"subject"`
	TextBody    string   `json:"text_body,omitempty" mapstructure:"text_body"`
	HTMLBody    string   `json:"html_body,omitempty" mapstructure:"html_body"`
	ReplyTo     string   `json:"reply_to,omitempty" mapstructure:"reply_to"`
	InReplyTo   string   `json:"in_reply_to,omitempty" mapstructure:"in_reply_to"`
	References  []string `json:"references,omitempty" mapstructure:"references"`
	SaveAsDraft bool     `json:"save_as_draft,omitempty" mapstructure:"save_as_draft"`
	ScheduledAt string   `json:"scheduled_at,omitempty" mapstructure:"scheduled_at"`

	// Draft updates only.
	MailMessageName string `json:"mail_message_name,omitempty" mapstructure:"mail_message_name"`
	Send            bool   `json:"send,omitempty" mapstructure:"send"`
}

// Recipients returns To, Cc and Bcc in envelope order.
func (m MailRequest) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// ScheduleResult is returned by create_mail and update_draft_mail.
type ScheduleResult struct {
	MailMessage string `json:"mail_message"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ScheduledEmail is a schedule record as exposed by the API.
type ScheduledEmail struct {
	Name             string         `json:"name"`
	ID               string         `json:"id,omitempty"`
	FromEmail        string         `json:"from_email"`
	Subject          string         `json:"subject"`
	To               []string       `json:"to"`
	Cc               []string       `json:"cc,omitempty"`
	Bcc              []string       `json:"bcc,omitempty"`
	RecipientCount   int            `json:"recipient_count"`
	TextBody         string         `json:"text_body,omitempty"`
	HTMLBody         string         `json:"html_body,omitempty"`
	ScheduledAt      time.Time      `json:"scheduled_at"`
	CreatedAt        time.Time      `json:"creation"`
	Status           ScheduleStatus `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	SubmissionID     string         `json:"submission_id,omitempty"`
	SecondsUntilSend *int64         `json:"seconds_until_send,omitempty"`
}

// ListOptions filters and pages get_scheduled_emails.
type ListOptions struct {
	Limit     int    `json:"limit" mapstructure:"limit"`
	Offset    int    `json:"offset" mapstructure:"offset"`
	Status    string `json:"status,omitempty" mapstructure:"status"`
	SortBy    string `json:"sort_by,omitempty" mapstructure:"sort_by"`
	SortOrder string `json:"sort_order,omitempty" mapstructure:"sort_order"`
}

// ScheduledList is one page of scheduled emails.
type ScheduledList struct {
	Emails  []ScheduledEmail `json:"emails"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

// CancelResult is returned by cancel_scheduled_email.
type CancelResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RelayCancelled bool   `json:"jmap_cancelled"`
	RelayError     string `json:"jmap_error,omitempty"`
}

// RescheduleResult is returned by reschedule_email.
type RescheduleResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	OldScheduledAt string `json:"old_scheduled_at"`
	NewScheduledAt string `json:"new_scheduled_at"`
	Resubmitted    bool   `json:"resubmitted,omitempty"`
}

// ScheduledCount groups a user's schedule records by state.
type ScheduledCount struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// SchedulerConfig is what get_scheduler_config publishes to clients.
type SchedulerConfig struct {
	Enabled             bool `json:"enabled"`
	MaxScheduleDays     int  `json:"max_schedule_days"`
	MinScheduleMinutes  int  `json:"min_schedule_minutes"`
	MaxRecipients       int  `json:"max_recipients"`
	MaxAttachments      int  `json:"max_attachments"`
	MaxAttachmentSizeMB int  `json:"max_attachment_size_mb"`
}
