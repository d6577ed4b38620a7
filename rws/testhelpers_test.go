package rws

import (
	"context"
	"net/http"
	"sync"
)

// fakeTransport scripts control-plane responses and records every request.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []*Request
	handler func(req *Request) (*Response, error)
	cookies []*http.Cookie
	closed  bool
}

func newFakeTransport(handler func(req *Request) (*Response, error)) *fakeTransport {
	return &fakeTransport{
		handler: handler,
		cookies: []*http.Cookie{
			{Name: "-http-session-", Value: "sess123"},
			{Name: "ABBCX", Value: "cx456"},
			{Name: "unrelated", Value: "x"},
		},
	}
}

func (t *fakeTransport) Do(_ context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	copied := *req
	t.calls = append(t.calls, &copied)
	t.mu.Unlock()
	return t.handler(req)
}

func (t *fakeTransport) Cookies() []*http.Cookie { return t.cookies }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *fakeTransport) call(i int) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[i]
}

func (t *fakeTransport) lastCall() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[len(t.calls)-1]
}

// callsTo returns the recorded requests for one path.
func (t *fakeTransport) callsTo(path string) []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Request
	for _, c := range t.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// fakeAuthenticator counts lifecycle calls.
type fakeAuthenticator struct {
	mu          sync.Mutex
	logins      int
	refreshes   int
	logouts     int
	loginErr    error
	refreshErr  error
	refreshHook func()
}

func (a *fakeAuthenticator) Login(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logins++
	return a.loginErr
}

func (a *fakeAuthenticator) Refresh(context.Context) error {
	a.mu.Lock()
	a.refreshes++
	hook := a.refreshHook
	err := a.refreshErr
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (a *fakeAuthenticator) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	return nil
}

func (a *fakeAuthenticator) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}

// fakeStream feeds scripted push payloads to the multiplexer listener.
type fakeStream struct {
	payloads  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		payloads: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (s *fakeStream) push(payload string) {
	s.payloads <- []byte(payload)
}

func (s *fakeStream) ReadMessage() ([]byte, error) {
	select {
	case p := <-s.payloads:
		return p, nil
	case <-s.closed:
		return nil, context.Canceled
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// fakeDialer hands out a prepared stream and records the handshake.
type fakeDialer struct {
	mu      sync.Mutex
	stream  *fakeStream
	dialErr error
	urls    []string
	headers []http.Header
}

func (d *fakeDialer) Dial(_ context.Context, wsURL string, header http.Header) (EventStream, error) {
	d.mu.Lock()
	d.urls = append(d.urls, wsURL)
	d.headers = append(d.headers, header)
	d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.stream, nil
}

const signalPushPayload = `<?xml version="1.0"?><html><body><ul><li class="ios-signalstate-ev">` +
	`<a href="/rw/iosystem/signals/Local/DRV_1/DO1;state" rel="self"/>` +
	`<span class="lvalue">1</span></li></ul></body></html>`

const ctrlStatePushPayload = `<?xml version="1.0"?><html><body><ul><li class="pnl-ctrlstate-ev">` +
	`<a href="/rw/panel/ctrlstate" rel="self"/>` +
	`<span class="ctrlstate">motoron</span></li></ul></body></html>`

const subscriptionCreatedBody = `<?xml version="1.0"?><html><body><div class="state">` +
	`<a href="ws://127.0.0.1:80/poll/17" rel="self"></a></div></body></html>`

func okResponse(body string) *Response {
	return &Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(body)}
}

func statusResponse(code int) *Response {
	return &Response{StatusCode: code}
}
