package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"

	"github.com/mailsched/mailsched/internal/rpc"
)

// interceptingTransport is the patch installed on a host *http.Client. Its
// presence is the sentinel checked by Install.
type interceptingTransport struct {
	interceptor *Interceptor
	original    http.RoundTripper
}

func (t *interceptingTransport) base() http.RoundTripper {
	if t.original != nil {
		return t.original
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *interceptingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	method := methodFromPath(req.URL.Path)
	if method == "" {
		return t.base().RoundTrip(req)
	}

	var (
		body    *requestBody
		readErr error
	)
	call := Call{
		Surface: SurfaceTransport,
		Method:  method,
		HasBody: hasBody(req),
		Payload: func() (map[string]any, error) {
			body, readErr = readRequestBody(req)
			if readErr != nil {
				return nil, readErr
			}
			return body.decode()
		},
	}

	rw, err := t.interceptor.tryIntercept(call)
	if err != nil {
		return nil, err
	}
	if readErr != nil {
		// The body is gone; forwarding what was read would send a truncated call.
		return nil, readErr
	}
	if rw == nil {
		return t.base().RoundTrip(req)
	}

	encoded, err := body.encode(rw.Payload)
	if err != nil {
		t.interceptor.reportFailure(SurfaceTransport, rw, err)
		return nil, err
	}

	return runRewrite(req.Context(), t.interceptor, SurfaceTransport, rw, func(ctx context.Context) (*http.Response, error) {
		out := req.Clone(ctx)
		out.URL.Path = rpc.MethodPathPrefix + rw.Method
		out.URL.RawPath = ""
		out.Body = io.NopCloser(bytes.NewReader(encoded))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(encoded)), nil
		}
		out.ContentLength = int64(len(encoded))
		out.Header.Del("Content-Length")

		resp, err := t.base().RoundTrip(out)
		if err != nil {
			return nil, err
		}
		return bufferResponse(resp)
	})
}

// bufferResponse reads the whole body so that failed attempts can be retried
// and errors carry the server's detail. Non-2xx responses become *rpc.Error.
func bufferResponse(resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scheduler response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body = io.NopCloser(bytes.NewReader(data))
		_, err := rpc.DecodeResponse(resp)
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// methodFromPath extracts the remote method name from /api/method/{name}.
func methodFromPath(path string) string {
	idx := strings.Index(path, rpc.MethodPathPrefix)
	if idx < 0 {
		return ""
	}
	name := path[idx+len(rpc.MethodPathPrefix):]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return strings.Trim(name, "/")
}

func hasBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return false
	}
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

type bodyKind int

const (
	bodyJSON bodyKind = iota
	bodyForm
	bodyMultipart
)

type requestBody struct {
	kind     bodyKind
	raw      []byte
	boundary string
	// order keeps multipart field names in wire order for re-encoding.
	order []string
}

// formFile is a multipart file part carried through a rewrite untouched.
type formFile struct {
	header textproto.MIMEHeader
	data   []byte
}

// readRequestBody drains req.Body and puts an equivalent reader back so the
// request can still be forwarded unmodified. A failed read leaves nothing
// forwardable and is returned as is.
func readRequestBody(req *http.Request) (*requestBody, error) {
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	body := &requestBody{kind: bodyJSON, raw: data}
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		return body, nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		body.kind = bodyForm
	case "multipart/form-data":
		body.kind = bodyMultipart
		body.boundary = params["boundary"]
	}
	return body, nil
}

func (b *requestBody) decode() (map[string]any, error) {
	switch b.kind {
	case bodyForm:
		values, err := url.ParseQuery(string(b.raw))
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				out[k] = v[0]
			} else {
				out[k] = v
			}
		}
		return out, nil
	case bodyMultipart:
		return b.decodeMultipart()
	default:
		// UseNumber keeps integer ids beyond 2^53 intact through the rewrite.
		dec := json.NewDecoder(bytes.NewReader(b.raw))
		dec.UseNumber()
		var out map[string]any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		if out == nil {
			return nil, fmt.Errorf("decode json body: not an object")
		}
		return out, nil
	}
}

func (b *requestBody) decodeMultipart() (map[string]any, error) {
	if b.boundary == "" {
		return nil, fmt.Errorf("decode multipart body: missing boundary")
	}
	parts := make(map[string][]any)
	reader := multipart.NewReader(bytes.NewReader(b.raw), b.boundary)
	for {
		part, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode multipart body: %w", err)
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("decode multipart part: %w", err)
		}

		name := part.FormName()
		if name == "" {
			return nil, fmt.Errorf("decode multipart body: part without a field name")
		}
		if _, seen := parts[name]; !seen {
			b.order = append(b.order, name)
		}
		if part.FileName() != "" {
			parts[name] = append(parts[name], formFile{header: part.Header, data: data})
		} else {
			parts[name] = append(parts[name], string(data))
		}
	}

	out := make(map[string]any, len(parts))
	for name, values := range parts {
		if len(values) == 1 {
			out[name] = values[0]
			continue
		}
		out[name] = values
	}
	return out, nil
}

func (b *requestBody) encode(payload map[string]any) ([]byte, error) {
	switch b.kind {
	case bodyForm:
		values := url.Values{}
		for k, v := range payload {
			if list, ok := v.([]string); ok {
				values[k] = list
				continue
			}
			text, err := formText(k, v)
			if err != nil {
				return nil, err
			}
			values.Set(k, text)
		}
		return []byte(values.Encode()), nil
	case bodyMultipart:
		return b.encodeMultipart(payload)
	default:
		return json.Marshal(payload)
	}
}

// encodeMultipart writes known fields in their original order, then any added
// fields sorted by name. The original boundary is reused so the request's
// Content-Type header stays valid.
func (b *requestBody) encodeMultipart(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(b.boundary); err != nil {
		return nil, fmt.Errorf("encode multipart body: %w", err)
	}

	names := make([]string, 0, len(payload))
	written := make(map[string]bool, len(payload))
	for _, name := range b.order {
		if _, ok := payload[name]; ok {
			names = append(names, name)
			written[name] = true
		}
	}
	added := make([]string, 0, len(payload))
	for name := range payload {
		if !written[name] {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	names = append(names, added...)

	for _, name := range names {
		if err := writeMultipartValue(w, name, payload[name]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMultipartValue(w *multipart.Writer, name string, v any) error {
	switch typed := v.(type) {
	case formFile:
		part, err := w.CreatePart(typed.header)
		if err != nil {
			return fmt.Errorf("encode multipart file %s: %w", name, err)
		}
		_, err = part.Write(typed.data)
		return err
	case []any:
		for _, item := range typed {
			if err := writeMultipartValue(w, name, item); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, item := range typed {
			if err := w.WriteField(name, item); err != nil {
				return err
			}
		}
		return nil
	default:
		text, err := formText(name, v)
		if err != nil {
			return err
		}
		return w.WriteField(name, text)
	}
}

// formText renders a payload value as a form field. Frappe form posts carry
// structured values as JSON text.
func formText(name string, v any) (string, error) {
	switch typed := v.(type) {
	case string:
		return typed, nil
	case nil:
		return "", nil
	case json.Number:
		return typed.String(), nil
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return "", fmt.Errorf("encode form field %s: %w", name, err)
		}
		return string(data), nil
	}
}
