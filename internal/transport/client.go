package transport

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/schema"
	"github.com/mtgate/mtgate/internal/telemetry"
)

// Client implements the synchronous command/acknowledgement protocol over
// the command channel with bounded retries and transparent endpoint
// replacement on timeout, plus result retrieval from the separate result
// channel. The command handshake and the result payload are deliberately
// decoupled so sequential commands never queue behind bulk data replies.
type Client struct {
	instance    string
	dialCommand Dialer
	dialResult  Dialer
	command     *Endpoint
	retries     int
	limiter     *rate.Limiter
	metrics     *telemetry.Metrics
	log         observability.Logger

	// Guards the command endpoint: the create and cancel workers share one
	// client, and the handshake channel is strictly lock-step.
	mu  sync.Mutex
	seq atomic.Uint64

	// Guards the result endpoint, which is replaced after every receive
	// timeout because a fired read deadline tears down the websocket.
	resultMu sync.Mutex
	result   *Endpoint
}

// ClientConfig carries the construction parameters for a Client.
type ClientConfig struct {
	CommandDialer Dialer
	ResultDialer  Dialer
	Retries       int
	// CommandRate paces outbound commands in requests per second; zero or
	// negative disables pacing.
	CommandRate float64
	Metrics     *telemetry.Metrics
	Logger      observability.Logger
}

// NewClient dials the command and result channels and returns a ready
// client. Construction fails with a connection error when either channel
// cannot be established.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.CommandDialer == nil || cfg.ResultDialer == nil {
		return nil, errs.New("client", errs.CodeInvalid, errs.WithMessage("dialers must be provided"))
	}
	if cfg.Retries <= 0 {
		return nil, errs.New("client", errs.CodeInvalid, errs.WithMessage("retries must be positive"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}
	command, err := cfg.CommandDialer(ctx)
	if err != nil {
		return nil, err
	}
	result, err := cfg.ResultDialer(ctx)
	if err != nil {
		command.Discard()
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), 1)
	}
	c := &Client{
		instance:    uuid.NewString(),
		dialCommand: cfg.CommandDialer,
		dialResult:  cfg.ResultDialer,
		command:     command,
		result:      result,
		retries:     cfg.Retries,
		limiter:     limiter,
		metrics:     cfg.Metrics,
		log:         logger,
	}
	c.log.Info("terminal client connected",
		observability.F("instance", c.instance),
		observability.F("command", command.URL()),
		observability.F("result", result.URL()))
	return c, nil
}

// Sequence reports the strictly-local command sequence counter. Diagnostic
// only; retries of one call reuse the sequence number they started with.
func (c *Client) Sequence() uint64 {
	return c.seq.Load()
}

// Call sends the request on the command channel and waits for the literal
// acknowledgement token. On timeout the endpoint is discarded and redialed,
// and the identical payload is resent under the same sequence number, up to
// the retry budget; exhaustion returns a remote_unavailable error. Malformed
// replies are logged and do not consume a retry.
func (c *Client) Call(ctx context.Context, req *schema.Request) error {
	payload, err := req.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A previous call that exhausted its retries left no endpoint behind;
	// dial a fresh one so the client recovers once the terminal returns.
	if c.command == nil {
		replacement, err := c.dialCommand(ctx)
		if err != nil {
			return err
		}
		c.command = replacement
	}

	seq := c.seq.Add(1)
	action := req.ActionName()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.New("client", errs.CodeTransport,
				errs.WithMessage("command pacing interrupted"), errs.WithCause(err))
		}
	}

	for attempt := 1; ; attempt++ {
		if err := c.command.Send(ctx, payload); err != nil {
			return err
		}
		c.metrics.Command(ctx, action)
		c.log.Debug("command sent",
			observability.F("sequence", seq),
			observability.F("action", action),
			observability.F("attempt", attempt))

		if err := c.awaitAck(ctx, seq); err == nil {
			return nil
		} else if !errs.IsTimeout(err) {
			return err
		}

		// The endpoint is presumed confused: drop queued frames and replace it.
		c.command.Discard()
		c.command = nil
		c.metrics.Reconnect(ctx)
		if attempt >= c.retries {
			c.metrics.RemoteUnavailable(ctx)
			c.log.Error("terminal unreachable, abandoning command",
				observability.F("sequence", seq),
				observability.F("action", action),
				observability.F("attempts", attempt))
			return errs.New("client", errs.CodeRemoteUnavailable,
				errs.WithMessage("retries exhausted on command channel"),
				errs.WithField("sequence", strconv.FormatUint(seq, 10)),
				errs.WithField("action", action))
		}

		c.log.Warn("no handshake from terminal, reconnecting and resending",
			observability.F("sequence", seq),
			observability.F("attempt", attempt))
		replacement, err := c.dialCommand(ctx)
		if err != nil {
			return err
		}
		c.command = replacement
		c.metrics.Retry(ctx)
	}
}

// awaitAck waits for the acknowledgement token on the command channel.
// Non-acknowledgement replies are logged as malformed and the wait
// continues; an empty reply or a channel timeout ends the attempt and the
// caller resends on a fresh endpoint.
func (c *Client) awaitAck(ctx context.Context, seq uint64) error {
	for {
		msg, err := c.command.Recv(ctx)
		if err != nil {
			return err
		}
		if string(msg) == schema.AckToken {
			return nil
		}
		if len(msg) == 0 {
			return errs.New("client", errs.CodeTimeout,
				errs.WithMessage("empty reply on command channel"),
				errs.WithField("sequence", strconv.FormatUint(seq, 10)))
		}
		c.metrics.MalformedReply(ctx)
		c.log.Warn("malformed reply on command channel",
			observability.F("sequence", seq),
			observability.F("reply", string(msg)))
	}
}

// PullReply performs a single timeout-bounded receive on the result channel.
// A timeout yields (nil, nil): no data is a normal outcome, not an error.
// The fired read deadline closes the websocket underneath, so the endpoint
// is replaced before reporting no data; later pulls start on a live channel.
// Any other failure is surfaced as a transport error.
func (c *Client) PullReply(ctx context.Context) ([]byte, error) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	msg, err := c.result.Recv(ctx)
	if err != nil {
		if errs.IsTimeout(err) {
			c.result.Discard()
			replacement, dialErr := c.dialResult(ctx)
			if dialErr != nil {
				return nil, dialErr
			}
			c.result = replacement
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// Close releases both channels.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	if c.command != nil {
		_ = c.command.Close()
	}
	_ = c.result.Close()
}
