package rws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

// Subprotocol the controller requires on the event stream handshake.
const eventStreamSubprotocol = "robapi2_subscription"

// EventStream is one established push-delivery connection. ReadMessage
// blocks until the next push payload or a terminal error.
type EventStream interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// StreamDialer establishes event streams. The default implementation uses
// gorilla/websocket; tests inject fakes.
type StreamDialer interface {
	Dial(ctx context.Context, wsURL string, header http.Header) (EventStream, error)
}

// WebsocketDialer is the default StreamDialer.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the websocket handshake. Zero means 30s.
	HandshakeTimeout time.Duration
}

var _ StreamDialer = (*WebsocketDialer)(nil)

// Dial connects to the controller's push endpoint with the subscription
// subprotocol.
func (d *WebsocketDialer) Dial(ctx context.Context, wsURL string, header http.Header) (EventStream, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{eventStreamSubprotocol},
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, errors.WrapTransient(err, "WebsocketDialer", "Dial", "websocket handshake")
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	return &websocketStream{conn: conn}, nil
}

// websocketStream adapts *websocket.Conn to EventStream.
type websocketStream struct {
	conn *websocket.Conn
}

func (s *websocketStream) ReadMessage() ([]byte, error) {
	_, payload, err := s.conn.ReadMessage()
	if err != nil {
		return nil, errors.WrapTransient(err, "websocketStream", "ReadMessage", "message read")
	}
	return payload, nil
}

func (s *websocketStream) Close() error {
	// Best effort close frame before tearing down the TCP connection.
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
