// Package wsclient connects to the agent WebSocket endpoint and turns the
// wire stream back into typed events. Dropped connections are redialed with
// exponential backoff.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/events"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("websocket client closed")

// Options configures a Client.
type Options struct {
	Token string // bearer token, sent as ?token=

	InitialInterval time.Duration // first redial delay
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // give up redialing after this long; 0 retries forever

	Dialer *websocket.Dialer

	// OnReconnect is called after a dropped connection is re-established.
	OnReconnect func(attempts int)
}

func (o Options) withDefaults() Options {
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 15 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Message is a chat message sent to the server.
type Message struct {
	Content      string `json:"content"`
	SessionID    string `json:"session_id,omitempty"`
	Stack        string `json:"stack,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkspaceID  string `json:"workspace_id,omitempty"`
	ApplyChanges bool   `json:"apply_changes"`
}

// Client is a reconnecting WebSocket connection.
type Client struct {
	url  string
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	events  chan events.Event
	done    chan struct{}
	err     error
}

// Dial connects to rawURL, retrying with backoff until ctx ends or the
// retry budget runs out. Authentication failures are not retried.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	c := &Client{
		url:    u.String(),
		opts:   opts.withDefaults(),
		events: make(chan events.Event, 64),
		done:   make(chan struct{}),
	}
	conn, _, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readLoop(ctx)
	return c, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialInterval
	policy.MaxInterval = c.opts.MaxInterval
	policy.MaxElapsedTime = c.opts.MaxElapsedTime
	return backoff.WithContext(policy, ctx)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, int, error) {
	var conn *websocket.Conn
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		ws, resp, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("websocket handshake rejected: %s", http.StatusText(resp.StatusCode)))
			}
			return err
		}
		conn = ws
		return nil
	}, c.policy(ctx), func(err error, wait time.Duration) {
		log.Debug().Err(err).Dur("wait", wait).Msg("websocket dial failed, retrying")
	})
	if err != nil {
		return nil, attempts, err
	}
	return conn, attempts, nil
}

// Events returns decoded turn events. Control messages and event types this
// client does not know are skipped. The channel closes when the client
// stops; Err then reports why.
func (c *Client) Events() <-chan events.Event {
	return c.events
}

// Err returns the error that stopped the client, nil after Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Send writes a chat message.
func (c *Client) Send(msg Message) error {
	return c.write(msg)
}

// Cancel asks the server to cancel a running turn.
func (c *Client) Cancel(turnID string) error {
	return c.write(map[string]string{"type": "cancel", "turn_id": turnID})
}

func (c *Client) write(v any) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Close shuts the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Warn().Err(err).Msg("websocket connection lost, reconnecting")
			if err := c.reconnect(ctx); err != nil {
				c.err = err
				return
			}
			continue
		}

		e, ok := decode(data)
		if !ok {
			continue
		}
		select {
		case c.events <- e:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	conn, attempts, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	old.Close()

	if c.opts.OnReconnect != nil {
		c.opts.OnReconnect(attempts)
	}
	return nil
}

// decode returns turn events only.
func decode(data []byte) (events.Event, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, false
	}
	switch head.Type {
	case "connected", "pong":
		return nil, false
	}
	e, err := events.Decode(data)
	if err != nil {
		log.Debug().Err(err).Msg("skipping websocket message")
		return nil, false
	}
	return e, true
}
