package rws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mesh-ch/abb-robot-client/errors"
	"github.com/Mesh-ch/abb-robot-client/metric"
)

// Client session states.
const (
	StateUnauthenticated int32 = iota
	StateAuthenticated
	StateReauthenticating
	StateClosed
)

// ClientConfig holds configuration for a control-plane client.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	QueueCapacity  int           `yaml:"queue_capacity"` // per-subscription event queue
}

// ApplyDefaults fills in zero-valued fields with the controller's stock
// defaults.
func (c *ClientConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:80"
	}
	if c.Username == "" {
		c.Username = "Default User"
	}
	if c.Password == "" {
		c.Password = "robotics"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 256
	}
}

// Validate checks the configuration for invalid values.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ClientConfig", "Validate", "base URL validation")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return errors.WrapInvalid(err, "ClientConfig", "Validate", "base URL parsing")
	}
	if c.QueueCapacity < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative queue capacity %d", c.QueueCapacity),
			"ClientConfig", "Validate", "queue capacity validation")
	}
	return nil
}

// clientMetrics holds Prometheus metrics for the control-plane client
type clientMetrics struct {
	requests    *prometheus.CounterVec
	authRetries prometheus.Counter
}

func newClientMetrics(registry *metric.MetricsRegistry) *clientMetrics {
	if registry == nil {
		return nil
	}

	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "rws",
			Name:      "requests_total",
			Help:      "Control-plane requests by method and outcome",
		}, []string{"method", "outcome"}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "rws",
			Name:      "auth_retries_total",
			Help:      "Requests transparently retried after session refresh",
		}),
	}

	registry.RegisterCounterVec("rws_client", "requests", m.requests)
	registry.RegisterCounter("rws_client", "auth_retries", m.authRetries)

	return m
}

// ClientDeps holds runtime dependencies for a control-plane client.
type ClientDeps struct {
	Config ClientConfig
	// Transport executes HTTP requests. Nil builds an HTTPTransport from
	// Config.
	Transport Transport
	// Authenticator manages credentials. Nil uses the Transport when it
	// implements Authenticator (HTTPTransport does).
	Authenticator Authenticator
	// Dialer establishes event streams. Nil uses a WebsocketDialer.
	Dialer          StreamDialer
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Client is a control-plane session against one robot controller.
type Client struct {
	config    ClientConfig
	transport Transport
	auth      Authenticator
	dialer    StreamDialer
	logger    *slog.Logger
	metrics   *clientMetrics
	mux       *Multiplexer

	state atomic.Int32
}

// NewClient creates a control-plane client. Call Login before issuing
// requests.
func NewClient(deps ClientDeps) (*Client, error) {
	cfg := deps.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "rws-client", "controller", cfg.BaseURL)
	}

	transport := deps.Transport
	if transport == nil {
		t, err := NewHTTPTransport(cfg, logger)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	auth := deps.Authenticator
	if auth == nil {
		a, ok := transport.(Authenticator)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("transport does not implement Authenticator and none was given"),
				"Client", "New", "dependency validation")
		}
		auth = a
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = &WebsocketDialer{HandshakeTimeout: cfg.RequestTimeout}
	}

	return &Client{
		config:    cfg,
		transport: transport,
		auth:      auth,
		dialer:    dialer,
		logger:    logger,
		metrics:   newClientMetrics(deps.MetricsRegistry),
		mux: NewMultiplexer(MultiplexerDeps{
			Logger:          logger,
			MetricsRegistry: deps.MetricsRegistry,
			QueueCapacity:   cfg.QueueCapacity,
		}),
	}, nil
}

// State returns the current session state.
func (c *Client) State() int32 { return c.state.Load() }

// Multiplexer exposes the subscription multiplexer, mainly for its
// counters.
func (c *Client) Multiplexer() *Multiplexer { return c.mux }

// Login authenticates the session.
func (c *Client) Login(ctx context.Context) error {
	if c.state.Load() == StateClosed {
		return errors.WrapFatal(errors.ErrSessionClosed, "Client", "Login", "state check")
	}
	if err := c.auth.Login(ctx); err != nil {
		return err
	}
	c.state.Store(StateAuthenticated)
	c.logger.Info("controller session authenticated")
	return nil
}

// Logout closes every owned subscription, invalidates the controller
// session and moves the client to its terminal state.
func (c *Client) Logout(ctx context.Context) error {
	if c.state.Swap(StateClosed) == StateClosed {
		return nil
	}

	c.mux.CloseAll()
	err := c.auth.Logout(ctx)
	_ = c.transport.Close()
	c.logger.Info("controller session closed")
	return err
}

// Request executes one control-plane request. The json=1 query parameter
// is added when absent. An auth-expired response triggers one transparent
// session refresh and a single retry; a second rejection surfaces
// ErrAuthenticationFailed. Failing responses with a controller error
// envelope decode into *ControllerError.
func (c *Client) Request(ctx context.Context, method, path string, form url.Values) (*Response, error) {
	return c.request(ctx, &Request{Method: method, Path: path, Form: form}, true)
}

// RequestRaw executes a request without the json=1 decoration, used by
// the file service.
func (c *Client) RequestRaw(ctx context.Context, req *Request) (*Response, error) {
	return c.request(ctx, req, false)
}

func (c *Client) request(ctx context.Context, req *Request, decorate bool) (*Response, error) {
	switch c.state.Load() {
	case StateClosed:
		return nil, errors.WrapFatal(errors.ErrSessionClosed, "Client", "Request", "state check")
	case StateUnauthenticated:
		return nil, errors.WrapFatal(errors.ErrNotAuthenticated, "Client", "Request", "state check")
	}

	// Paths may carry inline query parameters ("...?action=start");
	// transports expect them split out.
	if i := strings.IndexByte(req.Path, '?'); i >= 0 {
		if extra, perr := url.ParseQuery(req.Path[i+1:]); perr == nil {
			if req.Query == nil {
				req.Query = url.Values{}
			}
			for k, vs := range extra {
				for _, v := range vs {
					req.Query.Add(k, v)
				}
			}
		}
		req.Path = req.Path[:i]
	}

	if decorate {
		if req.Query == nil {
			req.Query = url.Values{}
		}
		if req.Query.Get("json") == "" {
			req.Query.Set("json", "1")
		}
	}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		c.countRequest(req.Method, "transport_error")
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.state.Store(StateReauthenticating)
		c.logger.Info("controller session expired, refreshing")
		if c.metrics != nil {
			c.metrics.authRetries.Inc()
		}

		if refreshErr := c.auth.Refresh(ctx); refreshErr != nil {
			c.state.Store(StateUnauthenticated)
			c.countRequest(req.Method, "auth_failed")
			return nil, errors.WrapFatal(errors.ErrAuthenticationFailed,
				"Client", "Request", "session refresh")
		}
		c.state.Store(StateAuthenticated)

		resp, err = c.transport.Do(ctx, req)
		if err != nil {
			c.countRequest(req.Method, "transport_error")
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.state.Store(StateUnauthenticated)
			c.countRequest(req.Method, "auth_failed")
			return nil, errors.WrapFatal(errors.ErrAuthenticationFailed,
				"Client", "Request", "retry after refresh")
		}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		c.countRequest(req.Method, "ok")
		return resp, nil
	}

	c.countRequest(req.Method, "controller_error")
	if cerr := controllerError(resp); cerr != nil {
		return nil, cerr
	}
	return nil, errors.WrapTransient(
		fmt.Errorf("controller returned http %d", resp.StatusCode),
		"Client", "Request", req.Method+" "+req.Path)
}

func (c *Client) countRequest(method, outcome string) {
	if c.metrics != nil {
		c.metrics.requests.WithLabelValues(method, outcome).Inc()
	}
}

// The 201 subscription response carries the websocket poll URL as an
// XHTML self link.
var wsURLRe = regexp.MustCompile(`<a\s+href="(wss?://[^"]+/poll/[0-9]+)"\s+rel="self"`)

var wsGroupRe = regexp.MustCompile(`/poll/([0-9]+)$`)

// Session cookies the websocket handshake must replay.
var handshakeCookies = map[string]bool{
	"-http-session-": true,
	"ABBCX":          true,
}

// OpenSubscription registers a subscription on the controller and
// attaches its event stream. On a failed websocket handshake the
// server-side registration is deleted before the error returns, so no
// orphaned subscription keeps pushing.
func (c *Client) OpenSubscription(ctx context.Context, resources []Resource, mode DeliveryMode) (*Subscription, error) {
	if c.state.Load() != StateAuthenticated {
		return nil, errors.WrapFatal(errors.ErrNotAuthenticated,
			"Client", "OpenSubscription", "state check")
	}

	// Reserve first: conflicts fail before any controller traffic.
	sub, err := c.mux.Subscribe(resources, mode)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	for i, r := range resources {
		key := strconv.Itoa(i + 1)
		form.Set(key, r.Path)
		form.Set(key+"-p", strconv.Itoa(int(r.Priority)))
		form.Add("resources", key)
	}

	resp, err := c.Request(ctx, http.MethodPost, "subscription", form)
	if err != nil {
		c.mux.release(sub)
		return nil, errors.Wrap(err, "Client", "OpenSubscription", "subscription registration")
	}
	if resp.StatusCode != http.StatusCreated {
		c.mux.release(sub)
		return nil, errors.WrapTransient(
			fmt.Errorf("subscription registration returned http %d", resp.StatusCode),
			"Client", "OpenSubscription", "subscription registration")
	}

	wsMatch := wsURLRe.FindSubmatch(resp.Body)
	if wsMatch == nil {
		c.mux.release(sub)
		return nil, errors.WrapInvalid(
			fmt.Errorf("subscription response carries no websocket URL"),
			"Client", "OpenSubscription", "response parsing")
	}
	wsURL := string(wsMatch[1])
	serverID := wsGroupRe.FindStringSubmatch(wsURL)[1]

	stream, err := c.dialer.Dial(ctx, wsURL, c.handshakeHeader())
	if err != nil {
		// No orphans: unregister the server side before reporting.
		c.deleteServerSubscription(ctx, serverID)
		c.mux.release(sub)
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrHandshakeFailed, err),
			"Client", "OpenSubscription", "event stream handshake")
	}

	sub.closeHook = func(s *Subscription) {
		c.deleteServerSubscription(context.Background(), s.serverID)
	}
	c.mux.Attach(sub, stream, serverID)

	c.logger.Info("subscription opened",
		"subscription", sub.ID(), "group", serverID,
		"resources", len(resources), "mode", mode.String())
	return sub, nil
}

// handshakeHeader builds the Cookie header for the websocket handshake
// from the transport's session cookies.
func (c *Client) handshakeHeader() http.Header {
	header := http.Header{}
	cookie := ""
	for _, ck := range c.transport.Cookies() {
		if !handshakeCookies[ck.Name] {
			continue
		}
		if cookie != "" {
			cookie += "; "
		}
		cookie += ck.Name + "=" + ck.Value
	}
	if cookie != "" {
		header.Set("Cookie", cookie)
	}
	return header
}

// deleteServerSubscription unregisters a subscription group on the
// controller. Best effort; failures are logged, not surfaced.
func (c *Client) deleteServerSubscription(ctx context.Context, serverID string) {
	if serverID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.Request(ctx, http.MethodDelete, "subscription/"+serverID, nil); err != nil {
		c.logger.Warn("failed to delete server-side subscription",
			"group", serverID, "error", err)
	}
}
