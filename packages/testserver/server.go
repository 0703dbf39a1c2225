package testserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitserve/packages/core/config"
	"github.com/abdul-hamid-achik/hitserve/packages/metrics"
	"github.com/abdul-hamid-achik/hitserve/packages/output"
)

const (
	scheme = "http"
	// ephemeralAddress is bound when no address is configured.
	ephemeralAddress = "127.0.0.1:0"

	// DefaultMaxIdleConnsPerHost is the idle pool size of the default transport
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool
	DefaultIdleConnTimeout = 90 * time.Second
)

// Server runs a handler on a real listener and hands out requests against it.
// Cookies returned by responses can be kept and replayed on later requests.
//
// A Server is safe for concurrent use by many in-flight requests.
type Server struct {
	mu       sync.Mutex
	poisoned bool
	cookies  CookieJar

	address            string
	defaultContentType string
	saveCookies        bool

	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}
	closeOnce  sync.Once
	closeErr   error

	client     *http.Client
	ownsClient bool
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *metrics.Recorder

	traceWriter io.Writer
	verbose     bool
	noColor     bool
	trace       *output.ConsoleFormatter
}

// Option is a functional option for Server
type Option func(*Server)

// WithAddress binds the server to addr instead of an ephemeral port.
// The address is reported exactly as given.
func WithAddress(addr string) Option {
	return func(s *Server) {
		s.address = addr
	}
}

// WithDefaultContentType sets the content type every new request starts with.
func WithDefaultContentType(contentType string) Option {
	return func(s *Server) {
		s.defaultContentType = contentType
	}
}

// WithSaveCookies sets whether new requests save response cookies by default.
func WithSaveCookies(save bool) Option {
	return func(s *Server) {
		s.saveCookies = save
	}
}

// WithConfig applies a loaded configuration. Options after it override it.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		if cfg == nil {
			return
		}
		if cfg.Address != "" {
			s.address = cfg.Address
		}
		if cfg.DefaultContentType != "" {
			s.defaultContentType = cfg.DefaultContentType
		}
		if cfg.SaveCookies != nil {
			s.saveCookies = *cfg.SaveCookies
		}
		s.verbose = cfg.GetVerbose()
		s.noColor = cfg.GetNoColor()
		if s.verbose && s.traceWriter == nil {
			s.traceWriter = os.Stdout
		}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets the clock used to time requests.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithHTTPClient replaces the transport used to send requests.
// The client should not follow redirects or carry its own cookie jar.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.client = client
	}
}

// WithTrace prints every exchange to w.
func WithTrace(w io.Writer) Option {
	return func(s *Server) {
		s.traceWriter = w
	}
}

// New binds the listening address, starts serving handler in the background
// and returns the running server with an empty cookie jar.
func New(handler http.Handler, opts ...Option) (*Server, error) {
	s := &Server{
		logger: slog.New(slog.DiscardHandler),
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if handler == nil {
		return nil, newError(ErrServerStart, "new", "", errors.New("handler is nil"))
	}

	bindAddr := s.address
	if bindAddr == "" {
		bindAddr = ephemeralAddress
	}
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, newError(ErrBind, "new", "", errors.Wrapf(err, "listening on %s", bindAddr))
	}
	if s.address == "" {
		s.address = listener.Addr().String()
	}

	if s.client == nil {
		s.client = newHTTPClient()
		s.ownsClient = true
	}
	s.metrics = metrics.NewRecorder(s.clock)
	if s.traceWriter != nil {
		s.trace = output.NewConsoleFormatter(
			output.WithWriter(s.traceWriter),
			output.WithVerbose(s.verbose),
			output.WithNoColor(s.noColor),
		)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:  handler,
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}
	s.serveDone = make(chan struct{})
	go s.serve()

	s.logger.Debug("test server started", "addr", s.address)
	return s, nil
}

// NewT starts a server for the duration of a test. Startup failures stop the
// test; the server is closed when the test finishes.
func NewT(t testing.TB, handler http.Handler, opts ...Option) *Server {
	t.Helper()

	s, err := New(handler, opts...)
	require.NoError(t, err, "starting test server")
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *Server) serve() {
	defer close(s.serveDone)

	err := s.httpServer.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("test server stopped serving", "addr", s.address, "error", err)
	}
}

// Close stops the server immediately. Requests still in flight fail with a
// transport error. Calling Close more than once is a no-op.
func (s *Server) Close() error {
	return s.stop(func() error {
		return s.httpServer.Close()
	})
}

// Shutdown stops accepting connections and waits for active ones to finish
// or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.stop(func() error {
		return s.httpServer.Shutdown(ctx)
	})
}

func (s *Server) stop(halt func() error) error {
	s.closeOnce.Do(func() {
		s.closeErr = halt()
		<-s.serveDone
		if s.ownsClient {
			s.client.CloseIdleConnections()
		}
		s.logger.Debug("test server stopped", "addr", s.address)
	})
	return s.closeErr
}

// Address returns the host:port the server listens on.
func (s *Server) Address() string {
	return s.address
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return buildRequestURL(s.address, "")
}

// withLock runs fn holding the state lock. A panic in fn poisons the state and
// every later call fails with ErrStateLock.
func (s *Server) withLock(op string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return newError(ErrStateLock, op, "", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			panic(r)
		}
	}()
	fn()
	return nil
}

// Cookies returns a copy of the saved cookies.
func (s *Server) Cookies() (CookieJar, error) {
	var jar CookieJar
	err := s.withLock("cookies", func() {
		jar = s.cookies.Clone()
	})
	return jar, err
}

// MergeCookiesFromHeaders parses each value as a Set-Cookie header and saves
// the cookies over any with the same name. Parsing stops at the first bad
// header; cookies saved before it are kept.
func (s *Server) MergeCookiesFromHeaders(values []string) error {
	var parseErr error
	err := s.withLock("merge cookies", func() {
		for i, raw := range values {
			cookie, err := http.ParseSetCookie(raw)
			if err != nil {
				parseErr = newError(ErrCookieParse, "merge cookies", "", errors.Wrapf(err, "Set-Cookie header %d %q", i, raw))
				return
			}
			s.cookies.Add(cookie)
		}
	})
	if err != nil {
		return err
	}
	if parseErr == nil && len(values) > 0 {
		s.logger.Debug("merged response cookies", "count", len(values))
	}
	return parseErr
}

// ClearCookies removes all saved cookies.
func (s *Server) ClearCookies() error {
	return s.withLock("clear cookies", func() {
		s.cookies = CookieJar{}
	})
}

// AddCookie saves cookie, replacing any cookie with the same name.
func (s *Server) AddCookie(cookie *http.Cookie) error {
	return s.withLock("add cookie", func() {
		s.cookies.Add(cookie)
	})
}

// AddCookies saves every cookie in jar.
func (s *Server) AddCookies(jar CookieJar) error {
	return s.withLock("add cookies", func() {
		for _, cookie := range jar.All() {
			s.cookies.Add(cookie)
		}
	})
}

// NewRequest creates a request for method and path, starting from the server
// defaults and a snapshot of the saved cookies. Nothing is sent until the
// request is sent.
func (s *Server) NewRequest(method, path string) *Request {
	r := &Request{
		server:  s,
		id:      uuid.NewString(),
		method:  method,
		path:    path,
		fullURL: buildRequestURL(s.address, path),
	}

	err := s.withLock("new request", func() {
		r.cookies = s.cookies.Clone()
		r.contentType = s.defaultContentType
		r.saveCookies = s.saveCookies
	})
	if err != nil {
		r.err = err
	}

	return r
}

func (s *Server) Get(path string) *Request {
	return s.NewRequest(http.MethodGet, path)
}

func (s *Server) Post(path string) *Request {
	return s.NewRequest(http.MethodPost, path)
}

func (s *Server) Put(path string) *Request {
	return s.NewRequest(http.MethodPut, path)
}

func (s *Server) Patch(path string) *Request {
	return s.NewRequest(http.MethodPatch, path)
}

func (s *Server) Delete(path string) *Request {
	return s.NewRequest(http.MethodDelete, path)
}

func (s *Server) Head(path string) *Request {
	return s.NewRequest(http.MethodHead, path)
}

func (s *Server) Options(path string) *Request {
	return s.NewRequest(http.MethodOptions, path)
}

// Metrics summarizes every request sent through this server so far.
func (s *Server) Metrics() *metrics.Summary {
	return s.metrics.Summary()
}

func (s *Server) record(ex output.Exchange, name string) {
	s.metrics.Record(name, ex.Duration, ex.Err)
	if s.trace != nil {
		s.trace.FormatExchange(ex)
	}
}

// buildRequestURL joins the server address and a request path.
func buildRequestURL(address, path string) string {
	if path == "" {
		return scheme + "://" + address
	}
	if path[0] == '/' {
		return scheme + "://" + address + path
	}
	return scheme + "://" + address + "/" + path
}
