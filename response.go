package fireproof

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/thomasp85/fireproof/session"
)

// Response is the mutable response model guards operate on. The host router
// owns the final write; guards only set status, headers, and body.
//
// The zero status convention matters for multi-guard flows: a Response
// starts at 404, and 400/404 are treated as "neutral" — no guard has
// claimed the response yet. Guards check neutrality before overwriting a
// status set by an earlier guard.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse returns a Response in the neutral default state.
func NewResponse() *Response {
	return &Response{
		Status: http.StatusNotFound,
		Header: http.Header{},
	}
}

// StatusNeutral reports whether the response status is still unclaimed
// (400 or 404). Guards use this before setting a rejection status so that
// a more specific status set earlier in the flow is never downgraded.
func (r *Response) StatusNeutral() bool {
	return r.Status == http.StatusBadRequest || r.Status == http.StatusNotFound
}

// SetBodyString replaces the response body with a plain-text message.
func (r *Response) SetBodyString(msg string) {
	r.Body = []byte(msg)
}

// CopyFrom replaces status, headers, and body with those of other.
func (r *Response) CopyFrom(other *Response) {
	r.Status = other.Status
	r.Header = http.Header{}
	for k, vs := range other.Header {
		r.Header[k] = append([]string(nil), vs...)
	}
	r.Body = append([]byte(nil), other.Body...)
}

// WriteTo flushes the response to a standard http.ResponseWriter.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

// RequestSnapshot captures enough of a request to replay it after an OAuth2
// redirect round-trip completes.
type RequestSnapshot struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
	Origin string      `json:"origin,omitempty"`
}

// SnapshotRequest copies the request method, URL, headers, body, and origin.
// The request body is re-armed so later handlers can still read it.
func SnapshotRequest(req *http.Request) (*RequestSnapshot, error) {
	snap := &RequestSnapshot{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Origin: req.RemoteAddr,
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("snapshot request body: %w", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		snap.Body = body
	}

	return snap, nil
}

// Rebuild reconstructs an http.Request from the snapshot.
func (s *RequestSnapshot) Rebuild() (*http.Request, error) {
	var body io.Reader
	if len(s.Body) > 0 {
		body = bytes.NewReader(s.Body)
	}

	req, err := http.NewRequest(s.Method, s.URL, body)
	if err != nil {
		return nil, fmt.Errorf("rebuild snapshot request: %w", err)
	}
	req.Header = s.Header.Clone()
	req.RemoteAddr = s.Origin

	return req, nil
}

// Handler is the route handler contract consumed from the host router. The
// returned bool signals whether normal dispatch should continue (true) or
// the response is final (false).
type Handler func(req *http.Request, res *Response, params map[string]string, sess session.Store) (bool, error)

// RouteRegistrar is implemented by the host router so guards can register
// auxiliary endpoints (the OAuth2/OIDC callback path).
type RouteRegistrar interface {
	RegisterRoute(method, pathPattern string, handler Handler)
}

// Server dispatches a request through the host router and fills in the
// response. It is used by the default post-login completion behavior to
// replay the request that triggered an OAuth2 redirect.
type Server interface {
	Dispatch(req *http.Request, res *Response) error
}
