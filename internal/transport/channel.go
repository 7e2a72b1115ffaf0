package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/pkg/errors"
)

// Conn is one half of a bidirectional message link. Implementations are the
// websocket connection and the in-process test pipe; both serialize every
// envelope.
type Conn interface {
	Send(env Envelope) error
	Receive() (Envelope, error)
	Close() error
}

// HandlerFunc processes an inbound request or publish on a topic. The
// returned value is serialized into the response payload; for publishes it is
// ignored.
type HandlerFunc func(ctx context.Context, env Envelope) (any, *errors.RPCError)

// Channel layers topic handlers and request/response correlation on a Conn.
// It is symmetric: both the gateway and the attached contexts use it.
type Channel struct {
	conn    Conn
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]chan Envelope
	handlers map[string]HandlerFunc
	closed   bool

	onClose func()
}

// NewChannel wraps a Conn. timeout bounds every Request that does not carry
// its own context deadline; a remote context can disappear at any time, so
// requests must never wait forever.
func NewChannel(conn Conn, timeout time.Duration) *Channel {
	return &Channel{
		conn:     conn,
		timeout:  timeout,
		pending:  make(map[string]chan Envelope),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers the handler for a topic. There is at most one handler per
// topic; later registrations replace earlier ones.
func (c *Channel) Handle(topic string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
}

// OnClose registers a callback invoked once when the read loop exits.
func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Publish sends a fire-and-forget message. Send failures to a gone context
// are swallowed; fire-and-forget paths have no error surface.
func (c *Channel) Publish(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = c.conn.Send(Envelope{Kind: KindPublish, Topic: topic, Payload: raw})
}

// Request sends a correlated call and decodes the response payload into
// result. It fails with ErrRequestTimeout when neither a response nor a
// context cancellation arrives within the channel timeout.
func (c *Channel) Request(ctx context.Context, topic string, payload any, result any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request payload: %w", err)
	}

	callID := ulid.Make().String()
	respCh := make(chan Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("channel closed")
	}
	c.pending[callID] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	if err := c.conn.Send(Envelope{Kind: KindRequest, Topic: topic, CallID: callID, Payload: raw}); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return fmt.Errorf("channel closed")
		}
		if resp.Error != nil {
			return &errors.RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Detail: resp.Error.Detail}
		}
		if result != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, result); err != nil {
				return fmt.Errorf("failed to decode response payload: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.ErrRequestTimeout
	}
}

// Run reads envelopes until the connection fails or ctx is cancelled. It
// must be called exactly once per channel.
func (c *Channel) Run(ctx context.Context) {
	defer c.shutdown()

	for {
		env, err := c.conn.Receive()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch env.Kind {
		case KindResponse:
			c.mu.Lock()
			respCh, ok := c.pending[env.CallID]
			c.mu.Unlock()
			if !ok {
				// Late response for an abandoned call.
				metrics.DroppedMessages.WithLabelValues("stale_response").Inc()
				continue
			}
			respCh <- env

		case KindRequest, KindPublish:
			c.mu.Lock()
			h, ok := c.handlers[env.Topic]
			c.mu.Unlock()
			if !ok {
				if env.Kind == KindRequest {
					c.respondError(env.CallID, env.Topic, errors.UnknownMethod(env.Topic))
				} else {
					metrics.DroppedMessages.WithLabelValues("unknown_topic").Inc()
				}
				continue
			}
			go c.dispatch(ctx, h, env)

		default:
			metrics.DroppedMessages.WithLabelValues("malformed").Inc()
		}
	}
}

// Close tears down the underlying connection; the read loop exits shortly
// after.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) dispatch(ctx context.Context, h HandlerFunc, env Envelope) {
	result, rpcErr := h(ctx, env)

	if env.Kind != KindRequest {
		return
	}
	if rpcErr != nil {
		c.respondError(env.CallID, env.Topic, rpcErr)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.respondError(env.CallID, env.Topic, errors.ErrInternalError)
		return
	}
	_ = c.conn.Send(Envelope{Kind: KindResponse, Topic: env.Topic, CallID: env.CallID, Payload: raw})
}

func (c *Channel) respondError(callID, topic string, rpcErr *errors.RPCError) {
	_ = c.conn.Send(Envelope{Kind: KindResponse, Topic: topic, CallID: callID, Error: rpcErr.Body()})
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	fn := c.onClose
	c.mu.Unlock()

	_ = c.conn.Close()
	if fn != nil {
		fn()
	}
}
