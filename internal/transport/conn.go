package transport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// statusPolicyViolation is the close code sent on a failed auth handshake.
const statusPolicyViolation websocket.StatusCode = 4401

// Conn is one accepted, authenticated WebSocket connection speaking the
// JSON-RPC + push-event protocol. Callers obtain one from Accept, then
// alternate ReadRequest and Send/SendError for the connection's lifetime.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

// IsLoopbackOrigin reports whether origin's host is a loopback name:
// "localhost", "127.0.0.1", "[::1]", any port. An empty Origin
// header (same-origin or non-browser client) is treated as loopback.
func IsLoopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

// Accept upgrades r into a WebSocket connection, rejecting it outright if
// the Origin header is present and not loopback. The caller must still
// drive the auth handshake via Authenticate before treating the connection
// as live.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !IsLoopbackOrigin(r.Header.Get("Origin")) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, fmt.Errorf("transport.Accept: non-loopback origin %q", r.Header.Get("Origin"))
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport.Accept: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// Authenticate reads exactly one frame and requires it to be
// {type:"auth", token}, comparing token against want in constant time
// regardless of length mismatch. On success it replies {type:"auth",
// ok:true} and returns nil. On failure it replies ok:false, closes the
// connection with a 4401 policy code, and returns a non-nil error; the
// caller must not read or write further.
func (c *Conn) Authenticate(ctx context.Context, want string) error {
	var frame authFrame
	if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
		return fmt.Errorf("transport.Conn.Authenticate: read: %w", err)
	}

	if frame.Type != "auth" || !constantTimeEqual(frame.Token, want) {
		_ = wsjson.Write(ctx, c.ws, map[string]any{"type": "auth", "ok": false, "error": "invalid token"})
		_ = c.ws.Close(statusPolicyViolation, "invalid token")
		return fmt.Errorf("transport.Conn.Authenticate: rejected")
	}

	if err := wsjson.Write(ctx, c.ws, map[string]any{"type": "auth", "ok": true}); err != nil {
		return fmt.Errorf("transport.Conn.Authenticate: write: %w", err)
	}
	return nil
}

// constantTimeEqual compares got and want without leaking their lengths'
// relationship through timing: a length mismatch still runs a dummy
// comparison against a same-length buffer before reporting unequal.
func constantTimeEqual(got, want string) bool {
	if len(got) != len(want) {
		subtle.ConstantTimeCompare([]byte(got), []byte(got))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ErrMalformedFrame marks a ReadRequest failure that stems from the client
// sending a frame the server could read but not decode as JSON-RPC. The
// connection is still alive; the caller should respond with a -32700 parse
// error and keep looping rather than tearing the connection down the way it
// does for every other ReadRequest error.
var ErrMalformedFrame = errors.New("transport: malformed json-rpc frame")

// ReadRequest blocks for the next JSON-RPC request frame. A JSON decode
// failure is reported as ErrMalformedFrame, distinct from a closed or
// broken connection, since the underlying read already succeeded and the
// connection remains usable for the next call.
func (c *Conn) ReadRequest(ctx context.Context) (*Request, error) {
	var req Request
	if err := wsjson.Read(ctx, c.ws, &req); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return nil, fmt.Errorf("transport.Conn.ReadRequest: %w", err)
	}
	return &req, nil
}

// Respond sends a JSON-RPC response frame.
func (c *Conn) Respond(ctx context.Context, resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.ws, resp); err != nil {
		return fmt.Errorf("transport.Conn.Respond: %w", err)
	}
	return nil
}

// Push sends a server-initiated event frame, safe for concurrent use
// alongside Respond (the runner and scheduler push from their own
// goroutines while the read loop drives Respond).
func (c *Conn) Push(ctx context.Context, event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.ws, PushEvent{Event: event, Data: data}); err != nil {
		return fmt.Errorf("transport.Conn.Push: %w", err)
	}
	return nil
}

// Close closes the underlying connection with a normal-closure status.
func (c *Conn) Close() error {
	if err := c.ws.Close(websocket.StatusNormalClosure, "closing"); err != nil {
		log.Debug().Err(err).Msg("transport.Conn.Close")
	}
	return nil
}
