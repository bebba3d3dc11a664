package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/schema"
)

// channelServer fakes one terminal channel; every reconnect invokes the
// handler with a fresh connection.
func channelServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// silentServer accepts connections, records every payload, and never replies.
type silentServer struct {
	mu       sync.Mutex
	payloads []string
}

func (s *silentServer) handle(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, string(data))
		s.mu.Unlock()
	}
}

func (s *silentServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

// drain keeps the fake channel open until the peer closes it.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func idleResultDialer(t *testing.T, timeout time.Duration) Dialer {
	return NewDialer(channelServer(t, drain), timeout)
}

func newTestClient(t *testing.T, commandURL string, commandTimeout time.Duration, retries int, result Dialer) *Client {
	t.Helper()
	if result == nil {
		result = idleResultDialer(t, 50*time.Millisecond)
	}
	client, err := NewClient(context.Background(), ClientConfig{
		CommandDialer: NewDialer(commandURL, commandTimeout),
		ResultDialer:  result,
		Retries:       retries,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestCallAcknowledged(t *testing.T) {
	url := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(schema.AckToken))
		drain(ctx, conn)
	})
	client := newTestClient(t, url, time.Second, 3, nil)

	if err := client.Call(context.Background(), schema.NewRequest(schema.ActionBalance)); err != nil {
		t.Fatalf("call: %v", err)
	}
	if client.Sequence() != 1 {
		t.Fatalf("expected sequence 1, got %d", client.Sequence())
	}
}

func TestCallRemoteUnavailableAfterRetries(t *testing.T) {
	srv := new(silentServer)
	url := channelServer(t, srv.handle)
	client := newTestClient(t, url, 50*time.Millisecond, 3, nil)

	err := client.Call(context.Background(), schema.NewRequest(schema.ActionBalance))
	if !errs.IsCode(err, errs.CodeRemoteUnavailable) {
		t.Fatalf("expected remote_unavailable, got %v", err)
	}

	payloads := srv.received()
	if len(payloads) != 3 {
		t.Fatalf("expected 3 identical sends across reconnects, got %d", len(payloads))
	}
	for i := 1; i < len(payloads); i++ {
		if payloads[i] != payloads[0] {
			t.Fatalf("retry %d resent a different payload:\n%s\nvs\n%s", i, payloads[i], payloads[0])
		}
	}
	if client.Sequence() != 1 {
		t.Fatalf("retries must reuse the sequence number, got %d", client.Sequence())
	}
}

func TestCallIgnoresMalformedReplyWithoutConsumingRetry(t *testing.T) {
	url := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte("WAT"))
		_ = conn.Write(ctx, websocket.MessageText, []byte(schema.AckToken))
		drain(ctx, conn)
	})
	client := newTestClient(t, url, time.Second, 1, nil)

	// A single-attempt budget still succeeds: garbage replies keep the wait alive.
	if err := client.Call(context.Background(), schema.NewRequest(schema.ActionPositions)); err != nil {
		t.Fatalf("call: %v", err)
	}
}

func TestCallResendsOnEmptyReply(t *testing.T) {
	var conns atomic.Int32
	url := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		n := conns.Add(1)
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		if n == 1 {
			// An empty reply ends the attempt; the client reconnects and resends.
			_ = conn.Write(ctx, websocket.MessageText, []byte(""))
		} else {
			_ = conn.Write(ctx, websocket.MessageText, []byte(schema.AckToken))
		}
		drain(ctx, conn)
	})
	client := newTestClient(t, url, time.Second, 3, nil)

	if err := client.Call(context.Background(), schema.NewRequest(schema.ActionBalance)); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := conns.Load(); got != 2 {
		t.Fatalf("expected a reconnect after the empty reply, saw %d connections", got)
	}
}

func TestCallRecoversAfterRemoteUnavailable(t *testing.T) {
	var conns atomic.Int32
	url := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if conns.Add(1) <= 3 {
			drain(ctx, conn)
			return
		}
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(schema.AckToken))
		drain(ctx, conn)
	})
	client := newTestClient(t, url, 50*time.Millisecond, 3, nil)

	err := client.Call(context.Background(), schema.NewRequest(schema.ActionBalance))
	if !errs.IsCode(err, errs.CodeRemoteUnavailable) {
		t.Fatalf("expected remote_unavailable, got %v", err)
	}

	// The terminal is back: the next call dials a fresh endpoint and succeeds.
	if err := client.Call(context.Background(), schema.NewRequest(schema.ActionBalance)); err != nil {
		t.Fatalf("call after recovery: %v", err)
	}
	if client.Sequence() != 2 {
		t.Fatalf("expected sequence 2 after recovery, got %d", client.Sequence())
	}
}

func TestPullReplyReturnsPayload(t *testing.T) {
	commandURL := channelServer(t, drain)
	resultURL := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"balance":"1000.0","equity":"990.5","error":false}`))
		drain(ctx, conn)
	})
	client := newTestClient(t, commandURL, time.Second, 3, NewDialer(resultURL, time.Second))

	raw, err := client.PullReply(context.Background())
	if err != nil {
		t.Fatalf("pull reply: %v", err)
	}
	if !strings.Contains(string(raw), "990.5") {
		t.Fatalf("unexpected payload: %s", raw)
	}
}

func TestPullReplyTimeoutIsNoData(t *testing.T) {
	commandURL := channelServer(t, drain)
	client := newTestClient(t, commandURL, time.Second, 3, nil)

	raw, err := client.PullReply(context.Background())
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected no data, got %s", raw)
	}
}

func TestPullReplySurvivesTimeout(t *testing.T) {
	commandURL := channelServer(t, drain)
	var conns atomic.Int32
	resultURL := channelServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if conns.Add(1) > 1 {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"error":false}`))
		}
		drain(ctx, conn)
	})
	client := newTestClient(t, commandURL, time.Second, 3, NewDialer(resultURL, 100*time.Millisecond))

	// First pull times out with no data on the wire.
	raw, err := client.PullReply(context.Background())
	if err != nil || raw != nil {
		t.Fatalf("expected quiet timeout, got %s err %v", raw, err)
	}
	// The channel must still deliver payloads after a timeout.
	raw, err = client.PullReply(context.Background())
	if err != nil {
		t.Fatalf("pull after timeout: %v", err)
	}
	if !strings.Contains(string(raw), "error") {
		t.Fatalf("unexpected payload after timeout: %s", raw)
	}
}

func TestDialFailureIsConnectionError(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/", time.Second)
	if !errs.IsCode(err, errs.CodeConnection) {
		t.Fatalf("expected connection_failed, got %v", err)
	}
}
