// Package rpc is a client for Frappe-style remote method calls:
// POST {base}/api/method/{method} with a JSON body, answered by a
// {"message": ...} envelope.
//
// The active Caller is swappable so that higher layers can wrap it.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MethodPathPrefix is the URL prefix under which remote methods are served.
const MethodPathPrefix = "/api/method/"

// Response is a decoded method response.
type Response struct {
	StatusCode int
	Message    json.RawMessage
}

// Decode unmarshals the response message into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Message) == 0 {
		return errors.New("rpc: empty response message")
	}
	return json.Unmarshal(r.Message, v)
}

// Error is returned when the server answers with a non-2xx status.
type Error struct {
	StatusCode int
	ExcType    string
	Message    string
}

func (e *Error) Error() string {
	if e.ExcType != "" {
		return fmt.Sprintf("rpc: server returned %d (%s): %s", e.StatusCode, e.ExcType, e.Message)
	}
	return fmt.Sprintf("rpc: server returned %d: %s", e.StatusCode, e.Message)
}

// Caller performs a single remote method call.
type Caller interface {
	Call(ctx context.Context, method string, args map[string]any) (*Response, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, method string, args map[string]any) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, method string, args map[string]any) (*Response, error) {
	return f(ctx, method, args)
}

// Client is the RPC helper. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    http.Header

	mu     sync.RWMutex
	caller Caller
}

// New creates a client that talks to baseURL using hc (nil means a default
// client with a 30s timeout).
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: hc,
		Headers:    http.Header{},
	}
}

// Caller returns the currently installed caller.
func (c *Client) Caller() Caller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caller == nil {
		return CallerFunc(c.roundTrip)
	}
	return c.caller
}

// InstalledCaller returns the caller set with SetCaller, which is nil when
// the built-in implementation is in use.
func (c *Client) InstalledCaller() Caller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caller
}

// SetCaller replaces the installed caller. A nil caller restores the
// built-in HTTP implementation.
func (c *Client) SetCaller(caller Caller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = caller
}

// Direct returns the built-in HTTP caller, bypassing any installed wrapper.
func (c *Client) Direct() Caller {
	return CallerFunc(c.roundTrip)
}

// Call invokes method synchronously through the installed caller.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Caller().Call(ctx, method, args)
}

// Go invokes method asynchronously and returns a single-result future.
func (c *Client) Go(ctx context.Context, method string, args map[string]any) *Future {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFuture()
	caller := c.Caller()
	go func() {
		f.resolve(caller.Call(ctx, method, args))
	}()
	return f
}

// CallAsync is the callback flavour of Go. The callback runs on its own
// goroutine once the call resolves.
func (c *Client) CallAsync(ctx context.Context, method string, args map[string]any, callback func(*Response, error)) {
	f := c.Go(ctx, method, args)
	if callback == nil {
		return
	}
	go func() {
		<-f.Done()
		callback(f.Result())
	}()
}

func (c *Client) roundTrip(ctx context.Context, method string, args map[string]any) (*Response, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, errors.New("rpc: method is required")
	}
	if args == nil {
		args = map[string]any{}
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal args: %w", err)
	}

	endpoint := c.BaseURL + MethodPathPrefix + url.PathEscape(method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, values := range c.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: POST %s: %w", method, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	return DecodeResponse(resp)
}

// DecodeResponse converts an HTTP response into a Response or *Error.
func DecodeResponse(resp *http.Response) (*Response, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpc: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, data)
	}

	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("rpc: decode response: %w", err)
		}
	}

	return &Response{StatusCode: resp.StatusCode, Message: envelope.Message}, nil
}

func decodeError(status int, data []byte) *Error {
	rpcErr := &Error{StatusCode: status, Message: http.StatusText(status)}

	var body struct {
		ExcType string `json:"exc_type"`
		Message any    `json:"message"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			rpcErr.Message = text
		}
		return rpcErr
	}

	rpcErr.ExcType = body.ExcType
	switch {
	case body.Error != nil && body.Error.Message != "":
		rpcErr.Message = body.Error.Message
		if rpcErr.ExcType == "" {
			rpcErr.ExcType = body.Error.Code
		}
	case body.Message != nil:
		if text, ok := body.Message.(string); ok && text != "" {
			rpcErr.Message = text
		}
	}
	return rpcErr
}

// StatusCode extracts the HTTP status from an *Error, or 0.
func StatusCode(err error) int {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.StatusCode
	}
	return 0
}
