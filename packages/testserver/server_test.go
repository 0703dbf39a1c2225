package testserver

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitserve/packages/core/config"
)

// seenRequest is what a test handler observed.
type seenRequest struct {
	Method string
	Path   string
	Host   string
	Header http.Header
	Body   string
}

// recordingHandler answers 200 with body "ok" and reports each request on the
// returned channel.
func recordingHandler() (http.Handler, <-chan seenRequest) {
	seen := make(chan seenRequest, 16)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		seen <- seenRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Host:   r.Host,
			Header: r.Header.Clone(),
			Body:   body.String(),
		}
		_, _ = w.Write([]byte("ok"))
	})
	return h, seen
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestBuildRequestURL(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		path     string
		expected string
	}{
		{"empty path", "127.0.0.1:8080", "", "http://127.0.0.1:8080"},
		{"root", "127.0.0.1:8080", "/", "http://127.0.0.1:8080/"},
		{"leading slash", "127.0.0.1:8080", "/users/1", "http://127.0.0.1:8080/users/1"},
		{"no leading slash", "127.0.0.1:8080", "users/1", "http://127.0.0.1:8080/users/1"},
		{"query kept", "localhost:9000", "search?q=go", "http://localhost:9000/search?q=go"},
		{"double slash kept", "localhost:9000", "//x", "http://localhost:9000//x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildRequestURL(tt.address, tt.path))
		})
	}
}

func TestNew_EphemeralAddress(t *testing.T) {
	srv := NewT(t, okHandler())

	host, port, err := net.SplitHostPort(srv.Address())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)
	assert.Equal(t, "http://"+srv.Address(), srv.URL())

	res := srv.Get("/").Await(t)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", res.BodyString())
}

func TestNew_FixedAddressIsUsedVerbatim(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := NewT(t, okHandler(), WithAddress(addr))

	assert.Equal(t, addr, srv.Address())
	res := srv.Get("/").Await(t)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestNew_BindError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv, err := New(okHandler(), WithAddress(l.Addr().String()))

	assert.Nil(t, srv)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	assert.Contains(t, err.Error(), "listening on")
}

func TestNew_NilHandler(t *testing.T) {
	srv, err := New(nil)

	assert.Nil(t, srv)
	assert.ErrorIs(t, err, ErrServerStart)
}

func TestServer_CookiesIsDefensiveCopy(t *testing.T) {
	srv := NewT(t, okHandler())
	require.NoError(t, srv.AddCookie(&http.Cookie{Name: "a", Value: "1"}))

	jar, err := srv.Cookies()
	require.NoError(t, err)
	jar.Add(&http.Cookie{Name: "b", Value: "2"})

	again, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len())
	assert.Nil(t, again.Get("b"))
}

func TestServer_MergeCookiesFromHeaders(t *testing.T) {
	srv := NewT(t, okHandler())
	require.NoError(t, srv.AddCookie(&http.Cookie{Name: "keep", Value: "k"}))

	err := srv.MergeCookiesFromHeaders([]string{
		"session=abc; Path=/; HttpOnly",
		"theme=dark",
		"session=def",
	})
	require.NoError(t, err)

	jar, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, 3, jar.Len())
	assert.Equal(t, "def", jar.Get("session").Value)
	assert.Equal(t, "dark", jar.Get("theme").Value)
	assert.Equal(t, "k", jar.Get("keep").Value)
}

func TestServer_MergeCookiesFromHeaders_StopsAtFirstBadHeader(t *testing.T) {
	srv := NewT(t, okHandler())

	err := srv.MergeCookiesFromHeaders([]string{"a=1", "broken", "c=3"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCookieParse)
	assert.Contains(t, err.Error(), `"broken"`)

	jar, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, "1", jar.Get("a").Value)
	assert.Nil(t, jar.Get("c"))
}

func TestServer_ClearAndAddCookies(t *testing.T) {
	srv := NewT(t, okHandler())

	require.NoError(t, srv.AddCookies(NewCookieJar(
		&http.Cookie{Name: "a", Value: "1"},
		&http.Cookie{Name: "b", Value: "2"},
	)))
	jar, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, "a=1; b=2", jar.HeaderValue())

	require.NoError(t, srv.ClearCookies())
	jar, err = srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, 0, jar.Len())
}

func TestServer_NewRequestSnapshotsState(t *testing.T) {
	srv := NewT(t, okHandler(),
		WithDefaultContentType("application/xml"),
		WithSaveCookies(true),
	)
	require.NoError(t, srv.AddCookie(&http.Cookie{Name: "a", Value: "1"}))

	req := srv.Put("items/7")
	require.NoError(t, srv.AddCookie(&http.Cookie{Name: "later", Value: "x"}))
	req.WithCookie(&http.Cookie{Name: "local", Value: "y"})

	assert.Equal(t, http.MethodPut, req.Method())
	assert.Equal(t, "items/7", req.Path())
	assert.Equal(t, srv.URL()+"/items/7", req.URL())
	assert.NotEmpty(t, req.ID())
	assert.Equal(t, "application/xml", req.ContentType())
	assert.True(t, req.saveCookies)
	assert.Equal(t, []string{"a", "local"}, req.Cookies().Names())

	jar, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "later"}, jar.Names())
}

func TestServer_PoisonedLock(t *testing.T) {
	srv := NewT(t, okHandler())

	assert.Panics(t, func() {
		_ = srv.withLock("explode", func() {
			panic("boom")
		})
	})

	err := srv.ClearCookies()
	assert.ErrorIs(t, err, ErrStateLock)

	_, err = srv.Cookies()
	assert.ErrorIs(t, err, ErrStateLock)

	_, err = srv.Get("/").Send(context.Background())
	assert.ErrorIs(t, err, ErrStateLock)
}

func TestServer_Close(t *testing.T) {
	srv, err := New(okHandler())
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	_, err = srv.Get("/").Send(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestServer_CloseAbortsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	srv, err := New(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := srv.Get("/slow").Send(context.Background())
		errs <- err
	}()

	<-entered
	require.NoError(t, srv.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request did not fail after Close")
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, err := New(okHandler())
	require.NoError(t, err)

	res := srv.Get("/").Await(t)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Close())
}

func TestServer_WithConfig(t *testing.T) {
	var trace bytes.Buffer
	cfg := &config.Config{
		DefaultContentType: "application/json",
		SaveCookies:        config.BoolPtr(true),
		Verbose:            config.BoolPtr(true),
		NoColor:            config.BoolPtr(true),
	}
	srv := NewT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "from", Value: "config"})
		w.WriteHeader(http.StatusAccepted)
	}), WithTrace(&trace), WithConfig(cfg))

	req := srv.Get("/cfg")
	assert.Equal(t, "application/json", req.ContentType())
	res := req.Await(t)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	jar, err := srv.Cookies()
	require.NoError(t, err)
	assert.Equal(t, "config", jar.Get("from").Value)

	out := trace.String()
	assert.Contains(t, out, "202 GET "+srv.URL()+"/cfg")
	assert.Contains(t, out, "Set-Cookie: from=config")
}

func TestServer_WithConfigKeepsEarlierCookieOption(t *testing.T) {
	srv := NewT(t, okHandler(), WithSaveCookies(true), WithConfig(&config.Config{}))

	assert.True(t, srv.Get("/").saveCookies)
}

func TestServer_Metrics(t *testing.T) {
	srv := NewT(t, okHandler())

	srv.Get("/a").Await(t)
	srv.Get("/a").Await(t)
	srv.Post("/b").Await(t)
	_, err := srv.NewRequest("GET", "/c").WithHeader("X-Bad", "a\nb").Send(context.Background())
	require.Error(t, err)

	m := srv.Metrics()

	assert.Equal(t, int64(4), m.TotalRequests)
	assert.Equal(t, int64(1), m.ErrorCount)
	require.Len(t, m.Requests, 3)
	assert.Equal(t, "GET /a", m.Requests[0].Name)
	assert.Equal(t, int64(2), m.Requests[0].Total)
	assert.Equal(t, "GET /c", m.Requests[1].Name)
	assert.Equal(t, int64(1), m.Requests[1].Errors)
	assert.Equal(t, "POST /b", m.Requests[2].Name)
}

func TestServer_WithLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := NewT(t, okHandler(), WithLogger(logger))

	srv.Get("/logged").Await(t)

	out := logs.String()
	assert.Contains(t, out, "test server started")
	assert.True(t, strings.Contains(out, "request sent") && strings.Contains(out, "path=/logged"), out)
}
