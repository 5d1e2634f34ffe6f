package signaling

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/1ureka/simplertc/internal/util"
)

// Client is one participant's connection to the relay. It satisfies the
// negotiator's transport contract: Send(payload, destination).
type Client struct {
	id     string
	conn   *websocket.Conn
	out    *sender
	in     *receiver
	closed atomic.Bool
}

// Dial connects to the relay at url as session id. The URL should point at
// the relay's /ws endpoint, e.g.:
//
//	ws://127.0.0.1:8443/ws
func Dial(ctx context.Context, url, id, pin string) (*Client, error) {
	full, err := relayURL(url, id, pin)
	if err != nil {
		return nil, err
	}
	conn, err := connect(ctx, full)
	if err != nil {
		return nil, err
	}
	return &Client{
		id:   id,
		conn: conn,
		out:  &sender{conn: conn},
		in:   &receiver{conn: conn},
	}, nil
}

// ID returns the local session id.
func (c *Client) ID() string { return c.id }

// Send delivers an encoded envelope to the session named to.
func (c *Client) Send(payload []byte, to string) error {
	if c.closed.Load() {
		return errors.New("signaling client closed")
	}
	return c.out.send(Frame{To: to, Data: string(payload)})
}

// Listen reads frames until ctx is cancelled, the client is closed or the
// connection fails, handing every payload to fn together with the sending
// session id. Error frames from the relay are logged and not retried.
// Listen returns nil when the loop was stopped on purpose.
func (c *Client) Listen(ctx context.Context, fn func(from string, payload []byte)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	err := c.in.watch(func(f Frame) {
		if f.Error != "" {
			util.LogWarning("signaling: relay reported: %s", f.Error)
			return
		}
		fn(f.From, []byte(f.Data))
	})
	if c.closed.Load() {
		return nil
	}
	return err
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.out.close(websocket.CloseNormalClosure, "bye")
	return c.conn.Close()
}
