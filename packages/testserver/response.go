package testserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Response is a fully read response to a Request.
type Response struct {
	// Path is the request path, kept for failure messages.
	Path       string
	RequestID  string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

// BodyJSON decodes the body into v.
func (r *Response) BodyJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrapf(err, "decoding JSON body of %s", r.Path)
	}
	return nil
}

// JSON looks up a gjson path in the body, e.g. "user.name" or "items.0.id".
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// ValidateSchema checks the body against a JSON schema document.
func (r *Response) ValidateSchema(schema string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(r.Body),
	)
	if err != nil {
		return errors.Wrapf(err, "validating body of %s", r.Path)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.Errorf("body of %s does not match schema: %s", r.Path, strings.Join(msgs, "; "))
}

// Cookie returns the cookie with the given name set by this response, or nil.
func (r *Response) Cookie(name string) *http.Cookie {
	for _, raw := range r.Header.Values("Set-Cookie") {
		cookie, err := http.ParseSetCookie(raw)
		if err == nil && cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}
