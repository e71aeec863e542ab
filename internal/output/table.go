package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mailsched/mailsched/internal/core"
)

// TableFormatter renders results as an ASCII table, or a Markdown table
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatList renders one page of scheduled emails.
func (f *TableFormatter) FormatList(list *core.ScheduledList) (string, error) {
	if list == nil {
		return "", nil
	}

	t := f.writer()
	t.AppendHeader(table.Row{"ID", "Scheduled", "Status", "Subject", "To"})
	for _, e := range list.Emails {
		t.AppendRow(table.Row{
			emailID(e),
			formatTime(e.ScheduledAt),
			statusLabel(e),
			truncate(e.Subject, 40),
			recipientsLabel(e),
		})
	}

	summary := fmt.Sprintf("%d-%d of %d", min(list.Offset+1, list.Total), list.Offset+len(list.Emails), list.Total)
	if list.HasMore {
		summary += ", more available"
	}
	t.AppendFooter(table.Row{"", "", "", "", summary})
	return f.render(t), nil
}

// FormatEmail renders one scheduled email as field/value rows.
func (f *TableFormatter) FormatEmail(email *core.ScheduledEmail) (string, error) {
	if email == nil {
		return "", nil
	}

	t := f.writer()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"ID", email.Name})
	if email.ID != "" {
		t.AppendRow(table.Row{"Relay email", email.ID})
	}
	t.AppendRow(table.Row{"From", email.FromEmail})
	t.AppendRow(table.Row{"To", strings.Join(email.To, ", ")})
	if len(email.Cc) > 0 {
		t.AppendRow(table.Row{"Cc", strings.Join(email.Cc, ", ")})
	}
	if len(email.Bcc) > 0 {
		t.AppendRow(table.Row{"Bcc", strings.Join(email.Bcc, ", ")})
	}
	t.AppendRow(table.Row{"Subject", email.Subject})
	t.AppendRow(table.Row{"Scheduled", formatTime(email.ScheduledAt)})
	if email.SecondsUntilSend != nil {
		t.AppendRow(table.Row{"Sends in", (time.Duration(*email.SecondsUntilSend) * time.Second).String()})
	}
	t.AppendRow(table.Row{"Status", statusLabel(*email)})
	if email.ErrorMessage != "" {
		t.AppendRow(table.Row{"Error", email.ErrorMessage})
	}
	if email.SubmissionID != "" {
		t.AppendRow(table.Row{"Submission", email.SubmissionID})
	}
	return f.render(t), nil
}

// FormatCount renders per-status totals.
func (f *TableFormatter) FormatCount(count *core.ScheduledCount) (string, error) {
	if count == nil {
		return "", nil
	}

	t := f.writer()
	t.AppendHeader(table.Row{"Pending", "Sent", "Cancelled", "Failed", "Total"})
	t.AppendRow(table.Row{count.Pending, count.Sent, count.Cancelled, count.Failed, count.Total})
	return f.render(t), nil
}

// FormatValue renders the top-level fields of v, sorted by name.
func (f *TableFormatter) FormatValue(v any) (string, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return "", err
	}

	t := f.writer()
	fields, ok := generic.(map[string]any)
	if !ok {
		t.AppendRow(table.Row{fmt.Sprint(generic)})
		return f.render(t), nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, fmt.Sprint(fields[k])})
	}
	return f.render(t), nil
}

func (f *TableFormatter) writer() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func emailID(e core.ScheduledEmail) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

func statusLabel(e core.ScheduledEmail) string {
	switch e.Status {
	case core.StatusScheduled:
		return "⏳ scheduled"
	case core.StatusSent:
		return "✅ sent"
	case core.StatusCancelled:
		return "⊘ cancelled"
	case core.StatusFailed:
		return "❌ failed"
	case core.StatusDraft:
		return "draft"
	default:
		return string(e.Status)
	}
}

func recipientsLabel(e core.ScheduledEmail) string {
	if len(e.To) == 0 {
		return ""
	}
	label := e.To[0]
	if extra := e.RecipientCount - 1; extra > 0 {
		label += fmt.Sprintf(" (+%d)", extra)
	}
	return label
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04 MST")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
