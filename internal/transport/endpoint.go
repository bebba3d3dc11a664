// Package transport owns the bridge's network channels to the terminal: the
// endpoint primitive and the reliable request client layered on top of it.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/mtgate/mtgate/errs"
)

// Terminal payloads are small except history downloads, which arrive on the
// result channel in one frame.
const readLimit = 16 << 20

// Endpoint owns one websocket channel to the terminal, bound to a URL and a
// per-channel receive timeout. Zero timeout blocks indefinitely (stream
// channels). Endpoints are exclusively owned by the component that created
// them and are never shared across tasks.
type Endpoint struct {
	url     string
	timeout time.Duration
	conn    *websocket.Conn
}

// Dialer opens a fresh endpoint; the client uses it to replace a discarded
// command endpoint mid-call.
type Dialer func(ctx context.Context) (*Endpoint, error)

// NewDialer returns a Dialer bound to the given URL and receive timeout.
func NewDialer(url string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (*Endpoint, error) {
		return Dial(ctx, url, timeout)
	}
}

// Dial connects an endpoint to the terminal channel at url.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Endpoint, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errs.New("endpoint", errs.CodeConnection,
			errs.WithMessage("dial terminal channel"),
			errs.WithField("url", url),
			errs.WithCause(err))
	}
	conn.SetReadLimit(readLimit)
	return &Endpoint{url: url, timeout: timeout, conn: conn}, nil
}

// URL reports the channel address this endpoint is bound to.
func (e *Endpoint) URL() string { return e.url }

// Send writes one payload frame to the channel.
func (e *Endpoint) Send(ctx context.Context, payload []byte) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return errs.New("endpoint", errs.CodeTransport,
			errs.WithMessage("send frame"),
			errs.WithField("url", e.url),
			errs.WithCause(err))
	}
	return nil
}

// Recv reads one payload frame. When the channel timeout elapses with no
// data it returns a timeout-coded error rather than blocking forever; any
// other failure is a transport error.
func (e *Endpoint) Recv(ctx context.Context) ([]byte, error) {
	readCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	_, data, err := e.conn.Read(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errs.New("endpoint", errs.CodeTimeout,
				errs.WithMessage("no data within channel timeout"),
				errs.WithField("url", e.url))
		}
		return nil, errs.New("endpoint", errs.CodeTransport,
			errs.WithMessage("receive frame"),
			errs.WithField("url", e.url),
			errs.WithCause(err))
	}
	return data, nil
}

// Discard drops the connection immediately, abandoning any queued outbound
// frames. This is the linger-zero path used when a command endpoint is
// presumed confused and must be replaced.
func (e *Endpoint) Discard() {
	_ = e.conn.CloseNow()
}

// Close performs a normal close handshake.
func (e *Endpoint) Close() error {
	return e.conn.Close(websocket.StatusNormalClosure, "")
}
