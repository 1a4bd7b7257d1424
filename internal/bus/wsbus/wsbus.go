// Package wsbus is a concrete bus.Subscriber/bus.Publisher binding over a
// gorilla/websocket connection to a relay that frames each bus message as a
// JSON {"subject": "...", "data": ...} text frame. It is the default binding
// for local development and the integration tests; production deployments
// swap it for a real NATS/Kafka/etc. client without the analytic core ever
// depending on that client directly.
//
// The reconnect/ping/mutex shape is carried over from the teacher's
// WebSocket feed: auto-reconnect with exponential backoff (1s → 30s max),
// a read deadline that forces reconnection on silent failures, and a
// connection-guarding mutex shared by readers and writers.
package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/bus"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	inboxSize        = 1024
)

// frame is the wire shape of a single bus message over the relay connection.
type frame struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Client is a single WebSocket connection shared by subscriptions opened on
// it and by Publish calls. Construct with Dial.
type Client struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	subsMu sync.RWMutex
	subs   map[string][]*subscription

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial opens a connection and starts the read/reconnect loop in the
// background. The returned Client satisfies both bus.Subscriber and
// bus.Publisher.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		url:    url,
		subs:   make(map[string][]*subscription),
		logger: logger.With("component", "wsbus"),
		ctx:    cctx,
		cancel: cancel,
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.run()

	return c, nil
}

type subscription struct {
	subject string
	ch      chan bus.Message
	closeCh chan struct{}
	once    sync.Once
	client  *Client
}

func (s *subscription) Messages() <-chan bus.Message { return s.ch }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.client.subsMu.Lock()
		list := s.client.subs[s.subject]
		for i, sub := range list {
			if sub == s {
				s.client.subs[s.subject] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.client.subsMu.Unlock()
		close(s.closeCh)
		close(s.ch)
	})
	return nil
}

// Subscribe registers interest in a subject. Frames whose subject matches
// are delivered on the returned subscription's channel.
func (c *Client) Subscribe(ctx context.Context, subject string) (bus.Subscription, error) {
	sub := &subscription{
		subject: subject,
		ch:      make(chan bus.Message, inboxSize),
		closeCh: make(chan struct{}),
		client:  c,
	}

	c.subsMu.Lock()
	c.subs[subject] = append(c.subs[subject], sub)
	c.subsMu.Unlock()

	return sub, nil
}

// Publish sends one frame. The subject and raw data are wrapped in the
// relay's {"subject","data"} envelope.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	f := frame{Subject: subject, Data: json.RawMessage(data)}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsbus: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

// Close tears down the connection and every open subscription.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()

	c.subsMu.Lock()
	var open []*subscription
	for _, list := range c.subs {
		open = append(open, list...)
	}
	c.subs = make(map[string][]*subscription)
	c.subsMu.Unlock()

	// Unsubscribe takes subsMu itself, so it runs after the lock is released.
	for _, sub := range open {
		sub.Unsubscribe()
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) run() {
	defer c.wg.Done()

	backoff := time.Second
	for {
		err := c.readLoop()
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Warn("wsbus disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}

		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			continue
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		backoff = time.Second
	}
}

func (c *Client) readLoop() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	pingCtx, pingCancel := context.WithCancel(c.ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx, conn)

	for {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Debug("ignoring non-envelope ws frame", "error", err)
		return
	}

	c.subsMu.RLock()
	subs := c.subs[f.Subject]
	c.subsMu.RUnlock()

	msg := bus.Message{Subject: f.Subject, Data: []byte(f.Data)}
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			c.logger.Warn("subscription channel full, dropping frame", "subject", f.Subject)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
