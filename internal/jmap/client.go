// Package jmap is a small JMAP (RFC 8620/8621) client covering what the
// scheduler needs: session discovery, identities, mailboxes and
// EmailSubmission with the FUTURERELEASE HOLDUNTIL parameter.
package jmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/metrics"
	"github.com/mailsched/mailsched/internal/observability"
)

// Capability URNs.
const (
	CapabilityCore       = "urn:ietf:params:jmap:core"
	CapabilityMail       = "urn:ietf:params:jmap:mail"
	CapabilitySubmission = "urn:ietf:params:jmap:submission"
)

// WellKnownPath is the session discovery path.
const WellKnownPath = "/.well-known/jmap"

// Session is the subset of the JMAP session resource used here.
type Session struct {
	Username        string                     `json:"username"`
	APIURL          string                     `json:"apiUrl"`
	Capabilities    map[string]json.RawMessage `json:"capabilities"`
	PrimaryAccounts map[string]string          `json:"primaryAccounts"`
}

// AccountID returns the primary account for the mail capability.
func (s *Session) AccountID() string {
	if s == nil {
		return ""
	}
	if id := s.PrimaryAccounts[CapabilityMail]; id != "" {
		return id
	}
	return s.PrimaryAccounts[CapabilityCore]
}

// Call is one method call in a request.
type Call struct {
	Name string
	Args any
	ID   string
}

// MarshalJSON encodes the call as [name, args, id].
func (c Call) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Name, c.Args, c.ID})
}

// Invocation is one method response.
type Invocation struct {
	Name string
	Args json.RawMessage
	ID   string
}

// UnmarshalJSON decodes [name, args, id].
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("jmap: invocation has %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &inv.Name); err != nil {
		return err
	}
	inv.Args = parts[1]
	return json.Unmarshal(parts[2], &inv.ID)
}

// MethodError is a method-level "error" response.
type MethodError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (e *MethodError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("jmap: method error %s: %s", e.Type, e.Description)
	}
	return "jmap: method error " + e.Type
}

// SetError describes why a /set operation did not apply to one object.
type SetError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (e *SetError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("jmap: %s: %s", e.Type, e.Description)
	}
	return "jmap: " + e.Type
}

// HTTPError is returned for non-2xx API responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jmap: server returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to one JMAP account. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     observability.Logger

	mu      sync.Mutex
	session *Session
}

// NewClient creates a client for the server at baseURL authenticating with a
// bearer token.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: hc,
	}
}

// Session fetches and caches the session resource.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	cached := c.session
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+WellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("jmap: build session request: %w", err)
	}
	c.authorize(req)

	var session Session
	if err := c.send(req, &session); err != nil {
		return nil, fmt.Errorf("jmap: session discovery: %w", err)
	}
	if session.APIURL == "" || session.AccountID() == "" {
		return nil, errors.New("jmap: session is missing apiUrl or primary account")
	}
	if strings.HasPrefix(session.APIURL, "/") {
		session.APIURL = c.BaseURL + session.APIURL
	}

	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	return &session, nil
}

// Do sends one request with the given capabilities and returns the method
// responses in order. A method-level error response is returned as
// *MethodError.
func (c *Client) Do(ctx context.Context, using []string, calls ...Call) ([]Invocation, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{"using": using, "methodCalls": calls})
	if err != nil {
		return nil, fmt.Errorf("jmap: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jmap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var resp struct {
		MethodResponses []Invocation `json:"methodResponses"`
	}
	err = c.send(req, &resp)
	for _, call := range calls {
		metrics.RecordRelayCall(call.Name, err == nil)
	}
	if err != nil {
		return nil, err
	}

	for _, inv := range resp.MethodResponses {
		if inv.Name == "error" {
			var merr MethodError
			if err := json.Unmarshal(inv.Args, &merr); err != nil {
				return nil, fmt.Errorf("jmap: decode method error: %w", err)
			}
			return nil, &merr
		}
	}
	return resp.MethodResponses, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) send(req *http.Request, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jmap: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.OrNop(c.Logger).Warn("JMAP request failed",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("jmap: decode response: %w", err)
	}
	return nil
}

// lookup returns the arguments of the response with the given call id.
func lookup(responses []Invocation, id string) (json.RawMessage, error) {
	for _, inv := range responses {
		if inv.ID == id {
			return inv.Args, nil
		}
	}
	return nil, fmt.Errorf("jmap: no response for call %q", id)
}
