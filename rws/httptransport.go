package rws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

// HTTPTransport is the default Transport over net/http. It carries the
// controller session cookies in a jar and attaches basic auth to every
// request, mirroring the original client's session handling. It also
// implements Authenticator: Login primes the session cookies with an
// authenticated probe request.
type HTTPTransport struct {
	baseURL  *url.URL
	client   *http.Client
	username string
	password string
	logger   *slog.Logger
}

var _ Transport = (*HTTPTransport)(nil)
var _ Authenticator = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the given controller.
func NewHTTPTransport(cfg ClientConfig, logger *slog.Logger) (*HTTPTransport, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPTransport", "New", "base URL parsing")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported scheme %q", base.Scheme),
			"HTTPTransport", "New", "base URL validation")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "HTTPTransport", "New", "cookie jar creation")
	}

	if logger == nil {
		logger = slog.Default().With("component", "rws-transport")
	}

	return &HTTPTransport{
		baseURL: base,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.RequestTimeout,
		},
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}, nil
}

// Do executes one request against the controller.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	contentType := req.ContentType
	switch {
	case len(req.Form) > 0:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPTransport", "Do", "request building")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.SetBasicAuth(t.username, t.password)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPTransport", "Do", "request execution")
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPTransport", "Do", "response body read")
	}

	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

// Cookies returns the controller session cookies currently in the jar.
func (t *HTTPTransport) Cookies() []*http.Cookie {
	return t.client.Jar.Cookies(t.baseURL)
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// Login primes the controller session. The controller issues its session
// cookies on the first authenticated request; a lightweight state probe
// serves as that request.
func (t *HTTPTransport) Login(ctx context.Context) error {
	return t.authProbe(ctx, "Login")
}

// Refresh re-establishes an expired session.
func (t *HTTPTransport) Refresh(ctx context.Context) error {
	return t.authProbe(ctx, "Refresh")
}

func (t *HTTPTransport) authProbe(ctx context.Context, method string) error {
	resp, err := t.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "rw/panel/ctrlstate",
		Query:  url.Values{"json": []string{"1"}},
	})
	if err != nil {
		return errors.Wrap(err, "HTTPTransport", method, "session probe")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.WrapFatal(errors.ErrAuthenticationFailed,
			"HTTPTransport", method, fmt.Sprintf("controller rejected credentials (http %d)", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errors.WrapTransient(
			fmt.Errorf("session probe returned http %d", resp.StatusCode),
			"HTTPTransport", method, "session probe")
	}
	t.logger.Debug("controller session established", "cookies", len(t.Cookies()))
	return nil
}

// Logout invalidates the controller session.
func (t *HTTPTransport) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := t.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "logout",
		Query:  url.Values{"json": []string{"1"}},
	})
	if err != nil {
		return errors.Wrap(err, "HTTPTransport", "Logout", "logout request")
	}
	if resp.StatusCode >= 400 {
		t.logger.Warn("logout returned error status", "status", resp.StatusCode)
	}
	return nil
}
