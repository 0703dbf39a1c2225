package testserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http/httpguts"

	"github.com/abdul-hamid-achik/hitserve/packages/output"
)

const (
	JSONContentType = "application/json"
	TextContentType = "text/plain"
)

type header struct {
	name  string
	value string
}

// Request is a request to a Server that has not been sent yet.
//
// Requests are created by the Server and configured by chaining the With
// methods, none of which perform I/O. Send, MustSend or Await then performs the
// request exactly once; sending the same Request again panics.
//
// A Request must not be used from more than one goroutine.
type Request struct {
	server *Server
	id     string

	method  string
	path    string
	fullURL string

	body        []byte
	headers     []header
	contentType string
	cookies     CookieJar
	saveCookies bool

	// err is returned by Send before anything goes on the wire
	err  error
	sent atomic.Bool
}

func (r *Request) ID() string          { return r.id }
func (r *Request) Method() string      { return r.method }
func (r *Request) Path() string        { return r.path }
func (r *Request) URL() string         { return r.fullURL }
func (r *Request) ContentType() string { return r.contentType }

// Cookies returns a copy of the cookies this request will send.
func (r *Request) Cookies() CookieJar {
	return r.cookies.Clone()
}

// SaveCookies sets whether cookies from the response are saved to the Server
// for use by later requests.
func (r *Request) SaveCookies(save bool) *Request {
	r.saveCookies = save
	return r
}

// DoSaveCookies saves cookies from the response to the Server.
func (r *Request) DoSaveCookies() *Request {
	return r.SaveCookies(true)
}

// DoNotSaveCookies leaves the Server cookies untouched by the response.
func (r *Request) DoNotSaveCookies() *Request {
	return r.SaveCookies(false)
}

// ClearCookies drops every cookie from this request. The Server keeps its own.
func (r *Request) ClearCookies() *Request {
	r.cookies = CookieJar{}
	return r
}

// WithCookie adds a cookie to send with this request.
func (r *Request) WithCookie(cookie *http.Cookie) *Request {
	r.cookies.Add(cookie)
	return r
}

// WithJSON sets the body to v encoded as JSON. If no content type is set yet
// it becomes application/json.
func (r *Request) WithJSON(v any) *Request {
	data, err := json.Marshal(v)
	if err != nil {
		if r.err == nil {
			r.err = newError(ErrRequestBuild, "encode json body", r.path, err)
		}
		return r
	}

	r.body = data
	if r.contentType == "" {
		r.contentType = JSONContentType
	}
	return r
}

// WithText sets the body to the text form of v. If no content type is set yet
// it becomes text/plain.
func (r *Request) WithText(v any) *Request {
	if r.contentType == "" {
		r.contentType = TextContentType
	}
	return r.WithBytes([]byte(fmt.Sprint(v)))
}

// WithBytes sets the raw body. The content type is left unchanged.
func (r *Request) WithBytes(body []byte) *Request {
	r.body = body
	return r
}

// WithContentType sets the Content-Type header, overriding any default.
func (r *Request) WithContentType(contentType string) *Request {
	r.contentType = contentType
	return r
}

// WithHeader appends a header. Repeated names are all sent.
func (r *Request) WithHeader(name, value string) *Request {
	r.headers = append(r.headers, header{name: name, value: value})
	return r
}

// Send performs the request and reads the whole response body.
//
// When cookie saving is on and a Set-Cookie header cannot be parsed, the
// received response is returned together with an ErrCookieParse error.
func (r *Request) Send(ctx context.Context) (*Response, error) {
	if !r.sent.CompareAndSwap(false, true) {
		panic(ErrRequestConsumed)
	}

	s := r.server
	start := s.clock.Now()
	res, err := r.send(ctx)
	duration := s.clock.Since(start)

	ex := output.Exchange{
		RequestID: r.id,
		Method:    r.method,
		URL:       r.fullURL,
		Duration:  duration,
		Err:       err,
	}
	if res != nil {
		res.Duration = duration
		ex.StatusCode = res.StatusCode
		ex.Header = res.Header
		ex.BodySize = len(res.Body)
	}
	s.record(ex, r.method+" "+r.path)

	if err != nil {
		s.logger.Debug("request failed", "id", r.id, "method", r.method, "path", r.path, "error", err)
	} else {
		s.logger.Debug("request sent", "id", r.id, "method", r.method, "path", r.path,
			"status", res.StatusCode, "duration", duration)
	}

	return res, err
}

// MustSend is Send that panics on any failure.
func (r *Request) MustSend(ctx context.Context) *Response {
	res, err := r.Send(ctx)
	if err != nil {
		panic(errors.Wrapf(err, "sending %s %s", r.method, r.path))
	}
	return res
}

// Await sends the request and stops the test on any failure.
func (r *Request) Await(t require.TestingT) *Response {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	res, err := r.Send(context.Background())
	require.NoError(t, err, "sending %s %s", r.method, r.path)
	return res
}

func (r *Request) send(ctx context.Context) (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}

	headers := make([]header, 0, len(r.headers)+2)
	headers = append(headers, r.headers...)
	if r.contentType != "" {
		headers = append(headers, header{name: "Content-Type", value: r.contentType})
	}
	if r.cookies.Len() > 0 {
		headers = append(headers, header{name: "Cookie", value: r.cookies.HeaderValue()})
	}

	req, err := r.buildHTTPRequest(ctx, headers)
	if err != nil {
		return nil, err
	}

	httpResp, err := r.server.client.Do(req)
	if err != nil {
		return nil, newError(ErrTransport, "send", r.path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, newError(ErrTransport, "read body", r.path, err)
	}

	res := &Response{
		Path:       r.path,
		RequestID:  r.id,
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       body,
	}

	if r.saveCookies {
		if err := r.server.MergeCookiesFromHeaders(httpResp.Header.Values("Set-Cookie")); err != nil {
			var e *Error
			if errors.As(err, &e) {
				e.Path = r.path
			}
			return res, err
		}
	}

	return res, nil
}

func (r *Request) buildHTTPRequest(ctx context.Context, headers []header) (*http.Request, error) {
	for _, h := range headers {
		if !httpguts.ValidHeaderFieldName(h.name) {
			return nil, newError(ErrRequestBuild, "header", r.path, errors.Errorf("invalid header name %q", h.name))
		}
		if !httpguts.ValidHeaderFieldValue(h.value) {
			return nil, newError(ErrRequestBuild, "header", r.path, errors.Errorf("invalid value for header %q", h.name))
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.fullURL, bytes.NewReader(r.body))
	if err != nil {
		return nil, newError(ErrRequestBuild, "new request", r.path, err)
	}

	for _, h := range headers {
		if http.CanonicalHeaderKey(h.name) == "Host" {
			req.Host = h.value
			continue
		}
		req.Header.Add(h.name, h.value)
	}

	return req, nil
}
