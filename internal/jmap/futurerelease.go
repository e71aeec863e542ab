package jmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Undo states of an EmailSubmission.
const (
	UndoPending  = "pending"
	UndoFinal    = "final"
	UndoCanceled = "canceled"
)

// HoldUntilParam is the SMTP FUTURERELEASE (RFC 4865) MAIL FROM parameter.
const HoldUntilParam = "HOLDUNTIL"

// ErrNotFound is returned when the server does not know an object.
var ErrNotFound = errors.New("jmap: not found")

// Message is an outgoing message to submit.
type Message struct {
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	TextBody   string
	HTMLBody   string
	InReplyTo  string
	References []string
	MessageID  string
	// SendAt defers delivery with HOLDUNTIL when set.
	SendAt time.Time
}

// Submission identifies a created email and its submission.
type Submission struct {
	EmailID      string `json:"emailId"`
	SubmissionID string `json:"submissionId"`
	MessageID    string `json:"messageId"`
}

// EmailSubmission is the server's view of a submission.
type EmailSubmission struct {
	ID         string     `json:"id"`
	EmailID    string     `json:"emailId"`
	UndoStatus string     `json:"undoStatus"`
	SendAt     *time.Time `json:"sendAt,omitempty"`
}

type setResponse struct {
	Created    map[string]json.RawMessage `json:"created"`
	Updated    map[string]json.RawMessage `json:"updated"`
	NotCreated map[string]SetError        `json:"notCreated"`
	NotUpdated map[string]SetError        `json:"notUpdated"`
}

// HoldUntil formats t as the HOLDUNTIL value (unix seconds).
func HoldUntil(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// IdentityID returns the identity matching email, or the first identity
// when none matches.
func (c *Client) IdentityID(ctx context.Context, email string) (string, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	responses, err := c.Do(ctx, []string{CapabilityCore, CapabilitySubmission}, Call{
		Name: "Identity/get",
		Args: map[string]any{"accountId": session.AccountID(), "ids": nil},
		ID:   "0",
	})
	if err != nil {
		return "", err
	}
	args, err := lookup(responses, "0")
	if err != nil {
		return "", err
	}
	var out struct {
		List []struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"list"`
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return "", fmt.Errorf("jmap: decode Identity/get: %w", err)
	}
	if len(out.List) == 0 {
		return "", fmt.Errorf("%w: no sending identity", ErrNotFound)
	}
	for _, ident := range out.List {
		if strings.EqualFold(ident.Email, email) {
			return ident.ID, nil
		}
	}
	return out.List[0].ID, nil
}

// MailboxID returns the mailbox carrying role (for example "sent").
func (c *Client) MailboxID(ctx context.Context, role string) (string, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	responses, err := c.Do(ctx, []string{CapabilityCore, CapabilityMail}, Call{
		Name: "Mailbox/get",
		Args: map[string]any{
			"accountId":  session.AccountID(),
			"ids":        nil,
			"properties": []string{"id", "role"},
		},
		ID: "0",
	})
	if err != nil {
		return "", err
	}
	args, err := lookup(responses, "0")
	if err != nil {
		return "", err
	}
	var out struct {
		List []struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"list"`
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return "", fmt.Errorf("jmap: decode Mailbox/get: %w", err)
	}
	for _, mb := range out.List {
		if strings.EqualFold(mb.Role, role) {
			return mb.ID, nil
		}
	}
	return "", fmt.Errorf("%w: mailbox with role %q", ErrNotFound, role)
}

// Submit creates the message in the sent mailbox and submits it in the same
// request. When msg.SendAt is set the envelope carries HOLDUNTIL so the relay
// holds delivery until then.
func (c *Client) Submit(ctx context.Context, msg Message) (*Submission, error) {
	if msg.From == "" {
		return nil, errors.New("jmap: sender is required")
	}
	rcpts := make([]map[string]any, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	for _, group := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, addr := range group {
			rcpts = append(rcpts, map[string]any{"email": addr})
		}
	}
	if len(rcpts) == 0 {
		return nil, errors.New("jmap: at least one recipient is required")
	}

	session, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	mailboxID, err := c.MailboxID(ctx, "sent")
	if err != nil {
		return nil, err
	}
	identityID, err := c.IdentityID(ctx, msg.From)
	if err != nil {
		return nil, err
	}

	if msg.MessageID == "" {
		msg.MessageID = newMessageID(msg.From)
	}

	mailFrom := map[string]any{"email": msg.From}
	if !msg.SendAt.IsZero() {
		mailFrom["parameters"] = map[string]any{HoldUntilParam: HoldUntil(msg.SendAt)}
	}

	responses, err := c.Do(ctx, []string{CapabilityCore, CapabilityMail, CapabilitySubmission},
		Call{
			Name: "Email/set",
			Args: map[string]any{
				"accountId": session.AccountID(),
				"create":    map[string]any{"draft": buildEmail(mailboxID, msg)},
			},
			ID: "0",
		},
		Call{
			Name: "EmailSubmission/set",
			Args: map[string]any{
				"accountId": session.AccountID(),
				"create": map[string]any{
					"submission": map[string]any{
						"emailId":    "#draft",
						"identityId": identityID,
						"envelope": map[string]any{
							"mailFrom": mailFrom,
							"rcptTo":   rcpts,
						},
					},
				},
			},
			ID: "1",
		},
	)
	if err != nil {
		return nil, err
	}

	emailID, err := createdID(responses, "0", "draft")
	if err != nil {
		return nil, err
	}
	submissionID, err := createdID(responses, "1", "submission")
	if err != nil {
		return nil, err
	}
	return &Submission{EmailID: emailID, SubmissionID: submissionID, MessageID: msg.MessageID}, nil
}

// GetSubmissions returns the submissions the server still knows, keyed by id.
func (c *Client) GetSubmissions(ctx context.Context, ids []string) (map[string]EmailSubmission, error) {
	out := make(map[string]EmailSubmission, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	session, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	responses, err := c.Do(ctx, []string{CapabilityCore, CapabilitySubmission}, Call{
		Name: "EmailSubmission/get",
		Args: map[string]any{
			"accountId":  session.AccountID(),
			"ids":        ids,
			"properties": []string{"id", "emailId", "undoStatus", "sendAt"},
		},
		ID: "0",
	})
	if err != nil {
		return nil, err
	}
	args, err := lookup(responses, "0")
	if err != nil {
		return nil, err
	}
	var resp struct {
		List []EmailSubmission `json:"list"`
	}
	if err := json.Unmarshal(args, &resp); err != nil {
		return nil, fmt.Errorf("jmap: decode EmailSubmission/get: %w", err)
	}
	for _, sub := range resp.List {
		out[sub.ID] = sub
	}
	return out, nil
}

// CancelSubmission sets undoStatus to canceled. Only pending submissions can
// be canceled.
func (c *Client) CancelSubmission(ctx context.Context, id string) error {
	return c.updateSubmission(ctx, id, map[string]any{"undoStatus": UndoCanceled})
}

// UpdateHoldUntil moves a pending submission's release time.
func (c *Client) UpdateHoldUntil(ctx context.Context, id string, at time.Time) error {
	return c.updateSubmission(ctx, id, map[string]any{
		"envelope/mailFrom/parameters/" + HoldUntilParam: HoldUntil(at),
	})
}

func (c *Client) updateSubmission(ctx context.Context, id string, patch map[string]any) error {
	if id == "" {
		return errors.New("jmap: submission id is required")
	}
	session, err := c.Session(ctx)
	if err != nil {
		return err
	}
	responses, err := c.Do(ctx, []string{CapabilityCore, CapabilitySubmission}, Call{
		Name: "EmailSubmission/set",
		Args: map[string]any{
			"accountId": session.AccountID(),
			"update":    map[string]any{id: patch},
		},
		ID: "0",
	})
	if err != nil {
		return err
	}
	args, err := lookup(responses, "0")
	if err != nil {
		return err
	}
	var set setResponse
	if err := json.Unmarshal(args, &set); err != nil {
		return fmt.Errorf("jmap: decode EmailSubmission/set: %w", err)
	}
	if _, ok := set.Updated[id]; ok {
		return nil
	}
	if setErr, ok := set.NotUpdated[id]; ok {
		if setErr.Type == "notFound" {
			return fmt.Errorf("%w: submission %s", ErrNotFound, id)
		}
		return &setErr
	}
	return fmt.Errorf("jmap: submission %s was not updated", id)
}

func createdID(responses []Invocation, callID, key string) (string, error) {
	args, err := lookup(responses, callID)
	if err != nil {
		return "", err
	}
	var set setResponse
	if err := json.Unmarshal(args, &set); err != nil {
		return "", fmt.Errorf("jmap: decode set response: %w", err)
	}
	if raw, ok := set.Created[key]; ok {
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &created); err != nil {
			return "", fmt.Errorf("jmap: decode created %s: %w", key, err)
		}
		return created.ID, nil
	}
	if setErr, ok := set.NotCreated[key]; ok {
		return "", &setErr
	}
	return "", fmt.Errorf("jmap: %s was not created", key)
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

func addresses(list []string) []map[string]string {
	out := make([]map[string]string, 0, len(list))
	for _, addr := range list {
		out = append(out, map[string]string{"email": addr})
	}
	return out
}

func buildEmail(mailboxID string, msg Message) map[string]any {
	email := map[string]any{
		"mailboxIds": map[string]bool{mailboxID: true},
		"keywords":   map[string]bool{"$seen": true},
		"from":       addresses([]string{msg.From}),
		"to":         addresses(msg.To),
		"subject":    msg.Subject,
		"messageId":  []string{msg.MessageID},
		"sentAt":     time.Now().UTC().Format(time.RFC3339),
	}
	if len(msg.Cc) > 0 {
		email["cc"] = addresses(msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		email["bcc"] = addresses(msg.Bcc)
	}
	if msg.InReplyTo != "" {
		email["inReplyTo"] = []string{msg.InReplyTo}
	}
	if len(msg.References) > 0 {
		email["references"] = msg.References
	}

	bodyValues := map[string]any{}
	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		bodyValues["text"] = map[string]string{"value": msg.TextBody}
		bodyValues["html"] = map[string]string{"value": msg.HTMLBody}
		email["bodyStructure"] = map[string]any{
			"type": "multipart/alternative",
			"subParts": []map[string]string{
				{"partId": "text", "type": "text/plain"},
				{"partId": "html", "type": "text/html"},
			},
		}
	case msg.HTMLBody != "":
		bodyValues["html"] = map[string]string{"value": msg.HTMLBody}
		email["bodyStructure"] = map[string]string{"partId": "html", "type": "text/html"}
	default:
		bodyValues["text"] = map[string]string{"value": msg.TextBody}
		email["bodyStructure"] = map[string]string{"partId": "text", "type": "text/plain"}
	}
	email["bodyValues"] = bodyValues
	return email
}
