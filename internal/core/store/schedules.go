package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mailsched/mailsched/internal/core"
)

// ErrNotFound is returned when no schedule record matches.
var ErrNotFound = core.ErrRecordNotFound

var (
	nameMu      sync.Mutex
	nameEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewName returns a time-ordered ULID used as a schedule record name.
func NewName(now time.Time) (string, error) {
	nameMu.Lock()
	defer nameMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), nameEntropy)
	if err != nil {
		return "", fmt.Errorf("generate record name: %w", err)
	}
	return id.String(), nil
}

const scheduleColumns = `name, user, email_id, submission_id, message_id, from_email,
	recipients_to, recipients_cc, recipients_bcc, subject, text_body, html_body,
	in_reply_to, refs, scheduled_at, status, error_message, created_at, updated_at`

var sortColumns = map[core.SortField]string{
	core.SortScheduledAt: "scheduled_at",
	core.SortCreation:    "created_at",
	core.SortSubject:     "subject",
	core.SortFromEmail:   "from_email",
}

// CreateSchedule inserts rec, assigning a name and timestamps when missing.
func (s *Store) CreateSchedule(ctx context.Context, rec *core.ScheduleRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil || strings.TrimSpace(rec.User) == "" {
		return errors.New("schedule record requires a user")
	}

	now := time.Now().UTC()
	if rec.Name == "" {
		name, err := NewName(now)
		if err != nil {
			return err
		}
		rec.Name = name
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = core.StatusScheduled
	}

	to, cc, bcc, refs, err := encodeLists(rec)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO scheduled_emails (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Name, rec.User, nullString(rec.EmailID), nullString(rec.SubmissionID), nullString(rec.MessageID),
		rec.FromEmail, to, cc, bcc, rec.Subject, rec.TextBody, rec.HTMLBody,
		nullString(rec.InReplyTo), refs, rec.ScheduledAt.UTC().Unix(), string(rec.Status),
		nullString(rec.ErrorMessage), rec.CreatedAt.UTC().Unix(), rec.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert schedule record: %w", err)
	}
	return nil
}

// GetSchedule returns the record of user whose name or relay email id is id.
func (s *Store) GetSchedule(ctx context.Context, user, id string) (*core.ScheduleRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("schedule id is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM scheduled_emails
		WHERE user = ? AND (name = ? OR email_id = ?)
		LIMIT 1
	`, user, id, id)

	rec, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch schedule record: %w", err)
	}
	return rec, nil
}

// ListSchedules returns one page of records matching q and the total number
// of matches.
func (s *Store) ListSchedules(ctx context.Context, q core.ScheduleQuery) ([]core.ScheduleRecord, int, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where := "WHERE user = ?"
	args := []any{q.User}
	if q.Status != "" {
		where += " AND status = ?"
		args = append(args, string(q.Status))
	} else {
		where += " AND status != ?"
		args = append(args, string(core.StatusDraft))
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduled_emails "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedule records: %w", err)
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns[core.SortScheduledAt]
	}
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	// column and order come from fixed sets above.
	query := fmt.Sprintf("SELECT %s FROM scheduled_emails %s ORDER BY %s %s, name %s LIMIT ? OFFSET ?",
		scheduleColumns, where, column, order, order)
	rows, err := s.DB.QueryContext(ctx, query, append(args, limit, max(q.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedule records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records, err := scanSchedules(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CountSchedules groups the records of user by status.
func (s *Store) CountSchedules(ctx context.Context, user string) (core.ScheduledCount, error) {
	var out core.ScheduledCount
	if err := s.ready(); err != nil {
		return out, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM scheduled_emails WHERE user = ? AND status != ? GROUP BY status
	`, user, string(core.StatusDraft))
	if err != nil {
		return out, fmt.Errorf("count schedule records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return out, fmt.Errorf("scan schedule counts: %w", err)
		}
		out.Total += n
		switch core.ScheduleStatus(status) {
		case core.StatusScheduled:
			out.Pending = n
		case core.StatusSent:
			out.Sent = n
		case core.StatusCancelled:
			out.Cancelled = n
		case core.StatusFailed:
			out.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("scan schedule counts: %w", err)
	}
	return out, nil
}

// UpdateSchedule writes every field of rec except its name, owner and
// creation time.
func (s *Store) UpdateSchedule(ctx context.Context, rec *core.ScheduleRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil || rec.Name == "" {
		return errors.New("schedule record name is required")
	}

	to, cc, bcc, refs, err := encodeLists(rec)
	if err != nil {
		return err
	}

	rec.UpdatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE scheduled_emails
		SET email_id = ?, submission_id = ?, message_id = ?, from_email = ?,
			recipients_to = ?, recipients_cc = ?, recipients_bcc = ?, subject = ?,
			text_body = ?, html_body = ?, in_reply_to = ?, refs = ?, scheduled_at = ?,
			status = ?, error_message = ?, updated_at = ?
		WHERE name = ?
	`, nullString(rec.EmailID), nullString(rec.SubmissionID), nullString(rec.MessageID),
		rec.FromEmail, to, cc, bcc, rec.Subject, rec.TextBody, rec.HTMLBody,
		nullString(rec.InReplyTo), refs, rec.ScheduledAt.UTC().Unix(), string(rec.Status),
		nullString(rec.ErrorMessage), rec.UpdatedAt.Unix(), rec.Name)
	if err != nil {
		return fmt.Errorf("update schedule record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingSubmissions returns every Scheduled record that has a relay
// submission, across all users, oldest schedule first.
func (s *Store) ListPendingSubmissions(ctx context.Context) ([]core.ScheduleRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM scheduled_emails
		WHERE status = ? AND submission_id IS NOT NULL AND submission_id != ''
		ORDER BY scheduled_at ASC
	`, string(core.StatusScheduled))
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	return scanSchedules(rows)
}

func (s *Store) ready() error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*core.ScheduleRecord, error) {
	var (
		rec                         core.ScheduleRecord
		status                      string
		emailID, submissionID, mid  sql.NullString
		cc, bcc, subject, text      sql.NullString
		html, inReplyTo, refs, errm sql.NullString
		to                          string
		scheduledAt, created, upd   int64
	)
	if err := row.Scan(&rec.Name, &rec.User, &emailID, &submissionID, &mid, &rec.FromEmail,
		&to, &cc, &bcc, &subject, &text, &html, &inReplyTo, &refs,
		&scheduledAt, &status, &errm, &created, &upd); err != nil {
		return nil, err
	}

	rec.EmailID = emailID.String
	rec.SubmissionID = submissionID.String
	rec.MessageID = mid.String
	rec.Subject = subject.String
	rec.TextBody = text.String
	rec.HTMLBody = html.String
	rec.InReplyTo = inReplyTo.String
	rec.ErrorMessage = errm.String
	rec.Status = core.ScheduleStatus(status)
	rec.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(upd, 0).UTC()

	var err error
	if rec.To, err = decodeList(to); err != nil {
		return nil, err
	}
	if rec.Cc, err = decodeList(cc.String); err != nil {
		return nil, err
	}
	if rec.Bcc, err = decodeList(bcc.String); err != nil {
		return nil, err
	}
	if rec.References, err = decodeList(refs.String); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSchedules(rows *sql.Rows) ([]core.ScheduleRecord, error) {
	var out []core.ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan schedule records: %w", err)
	}
	return out, nil
}

func encodeLists(rec *core.ScheduleRecord) (to, cc, bcc, refs string, err error) {
	if to, err = encodeList(rec.To); err != nil {
		return
	}
	if cc, err = encodeList(rec.Cc); err != nil {
		return
	}
	if bcc, err = encodeList(rec.Bcc); err != nil {
		return
	}
	refs, err = encodeList(rec.References)
	return
}

func encodeList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode address list: %w", err)
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode address list: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
