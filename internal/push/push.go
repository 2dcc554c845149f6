package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
)

const (
	writeWait        = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	defaultRetryWait = 5 * time.Second
)

// Message is the envelope of every push frame. Fields other than Type are
// ignored; the client always refetches the full resource.
type Message struct {
	Type string `json:"type"`
}

// Resources maps a message type to the resources it invalidates. Unknown
// types invalidate everything.
func Resources(msgType string) []syncloop.Resource {
	switch msgType {
	case "tick":
		return []syncloop.Resource{syncloop.Clock}
	case "map_changed":
		return []syncloop.Resource{syncloop.Tiles}
	case "settlement_changed":
		return []syncloop.Resource{syncloop.Settlement}
	case "event":
		return []syncloop.Resource{syncloop.Events}
	}
	return syncloop.All
}

// Refresher receives the poll hints. Hints honour the scheduler's gates, so
// a settlement change is not fetched during placement.
type Refresher interface {
	RequestHint(resources ...syncloop.Resource)
}

// Client keeps one websocket connection open, reconnecting after a fixed
// delay whenever it drops.
type Client struct {
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	target    Refresher
	logger    *slog.Logger
	retry     time.Duration
	pongWait  time.Duration
	connected atomic.Bool
	received  atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token on the upgrade request.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithRetryDelay sets the reconnect delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retry = d }
}

// WithPongWait sets how long the connection may stay silent. Pings are sent
// at nine tenths of it.
func WithPongWait(d time.Duration) Option {
	return func(c *Client) { c.pongWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the websocket at url.
func NewClient(url string, target Refresher, opts ...Option) *Client {
	c := &Client{
		url:      url,
		header:   http.Header{},
		dialer:   websocket.DefaultDialer,
		target:   target,
		logger:   slog.Default(),
		retry:    defaultRetryWait,
		pongWait: defaultPongWait,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Received returns how many messages have been handled.
func (c *Client) Received() int64 { return c.received.Load() }

// Run connects and serves until ctx is done. It always returns ctx's error.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("push dial failed", "url", c.url, "err", err, "retry", c.retry)
		} else {
			c.logger.Info("push connected", "url", c.url)
			c.connected.Store(true)
			err = c.serve(ctx, conn)
			c.connected.Store(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("push connection lost", "err", err, "retry", c.retry)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	done := make(chan error, 1)
	go func() {
		done <- c.readLoop(conn)
	}()

	ping := time.NewTicker(c.pongWait * 9 / 10)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutting down"))
			return ctx.Err()
		case err := <-done:
			return err
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("push ping failed", "err", err)
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("push: closed by server")
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("push message ignored", "err", err)
			continue
		}
		c.received.Add(1)
		c.target.RequestHint(Resources(msg.Type)...)
	}
}
