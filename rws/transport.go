package rws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request is one control-plane request. Path is relative to the
// controller base URL, without a leading slash.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Form is a form-encoded body. Mutually exclusive with Body.
	Form url.Values
	// Body is a raw request body, used by the file service.
	Body        []byte
	ContentType string
}

// Response is a decoded control-plane response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Transport executes control-plane requests against a controller. The
// default implementation is HTTPTransport; tests inject fakes.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	// Cookies returns the session cookies the controller issued. The
	// websocket handshake replays them.
	Cookies() []*http.Cookie
	Close() error
}

// Authenticator manages control-plane credentials. Login establishes the
// session, Refresh re-establishes it after the controller expires it, and
// Logout invalidates it. Credential negotiation details live behind this
// interface.
type Authenticator interface {
	Login(ctx context.Context) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// ControllerError is a structured error envelope returned by the
// controller alongside a failing HTTP status.
type ControllerError struct {
	Code       int64
	Message    string
	HTTPStatus int
}

// Error implements the error interface
func (e *ControllerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("controller error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("controller error %d (http %d)", e.Code, e.HTTPStatus)
}

// State is one entry of a controller response's embedded state list.
type State map[string]any

// String returns the value under key rendered as a string, or "".
func (s State) String(key string) string {
	v, ok := s[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Float returns the value under key as a float64.
func (s State) Float(key string) (float64, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("state has no field %q", key)
	}
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return 0, fmt.Errorf("state field %q is not numeric: %q", key, t)
		}
		return f, nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("state field %q is not numeric", key)
	}
}

// Int returns the value under key as an int64.
func (s State) Int(key string) (int64, error) {
	f, err := s.Float(key)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// responseEnvelope mirrors the controller's JSON response shape.
type responseEnvelope struct {
	Embedded struct {
		State  []State `json:"_state"`
		Status *struct {
			Code json.Number `json:"code"`
			Msg  string      `json:"msg"`
		} `json:"status"`
	} `json:"_embedded"`
}

func decodeEnvelope(body []byte) (*responseEnvelope, error) {
	var env responseEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// States decodes the embedded state list of a JSON response body.
func (r *Response) States() ([]State, error) {
	env, err := decodeEnvelope(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	return env.Embedded.State, nil
}

// FirstState decodes the embedded state list and returns its first entry.
func (r *Response) FirstState() (State, error) {
	states, err := r.States()
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("response has an empty state list")
	}
	return states[0], nil
}

// controllerError extracts the error envelope from a failing response,
// or nil when the body carries none.
func controllerError(resp *Response) *ControllerError {
	env, err := decodeEnvelope(resp.Body)
	if err != nil || env.Embedded.Status == nil {
		return nil
	}
	code, _ := env.Embedded.Status.Code.Int64()
	return &ControllerError{
		Code:       code,
		Message:    env.Embedded.Status.Msg,
		HTTPStatus: resp.StatusCode,
	}
}
