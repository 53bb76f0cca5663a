package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Logf receives connection and protocol warnings.
var Logf = log.Printf

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second

	writeWait = 5 * time.Second
)

// ErrNotConnected is returned by Send while the socket is down. The message
// is dropped; the next state_update carries the truth.
var ErrNotConnected = errors.New("dispatch: not connected")

// Stats counts traffic over the client's lifetime.
type Stats struct {
	Messages    map[string]int
	Connects    int
	Disconnects int
	Sent        int
	Dropped     int
}

// Client keeps one live connection to the dispatch socket, reconnecting with
// capped exponential backoff. Handlers run on the read goroutine and must be
// set before Run.
type Client struct {
	URL            string
	ID             uuid.UUID
	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	OnState      func(WorldState)
	OnDemand     func([]DemandHexagon)
	OnConnection func(connected bool)
	// OnRaw sees every inbound frame before it is decoded.
	OnRaw func([]byte)

	writeMu sync.Mutex
	conn    *websocket.Conn

	statsMu sync.Mutex
	stats   Stats
}

func NewClient(rawURL string) *Client {
	return &Client{
		URL:            rawURL,
		ID:             uuid.New(),
		Dialer:         websocket.DefaultDialer,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		stats:          Stats{Messages: make(map[string]int)},
	}
}

// endpoint adds the client id so every reconnect joins the same stream.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid dispatch url %q: %w", c.URL, err)
	}
	q := u.Query()
	q.Set("client", c.ID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	cur *= 2
	if cur > limit {
		cur = limit
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run connects and reads until ctx is cancelled. Connection loss is retried
// forever; only a bad URL or ctx ends the loop.
func (c *Client) Run(ctx context.Context) error {
	u, err := c.endpoint()
	if err != nil {
		return err
	}
	backoff := c.InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		Logf("[dispatch] Connecting to %s", c.URL)
		conn, _, err := c.Dialer.DialContext(ctx, u, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			Logf("[dispatch] Dial error: %v. Retrying in %v...", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, c.MaxBackoff)
			continue
		}
		backoff = c.InitialBackoff

		c.setConn(conn)
		err = c.read(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		Logf("[dispatch] Read error: %v. Reconnecting in %v...", err, backoff)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, c.MaxBackoff)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.statsMu.Lock()
	if conn != nil {
		c.stats.Connects++
	} else {
		c.stats.Disconnects++
	}
	c.statsMu.Unlock()

	if conn != nil {
		Logf("[dispatch] Connected")
	}
	if c.OnConnection != nil {
		c.OnConnection(conn != nil)
	}
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	if c.OnRaw != nil {
		c.OnRaw(message)
	}
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		Logf("[dispatch] Failed to parse message: %v", err)
		c.count("invalid")
		return
	}
	c.count(env.Type)

	switch env.Type {
	case TypeStateUpdate:
		if c.OnState != nil {
			c.OnState(WorldState{Taxis: env.Taxis, Orders: env.Orders, Assignments: env.Assignments})
		}
	case TypeDemandUpdate:
		if c.OnDemand != nil {
			c.OnDemand(env.Hexagons)
		}
	default:
		Logf("[dispatch] Unknown message type: %q", env.Type)
	}
}

func (c *Client) count(typ string) {
	c.statsMu.Lock()
	c.stats.Messages[typ]++
	c.statsMu.Unlock()
}

// Send writes v as JSON. While disconnected the message is dropped and
// ErrNotConnected returned.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		c.statsMu.Lock()
		c.stats.Dropped++
		c.statsMu.Unlock()
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.statsMu.Lock()
	c.stats.Sent++
	c.statsMu.Unlock()
	return nil
}

// CompleteAssignment acknowledges a finished animation.
func (c *Client) CompleteAssignment(orderID string) error {
	return c.Send(NewCompleteAssignment(orderID))
}

func (c *Client) Connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn != nil
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := c.stats
	out.Messages = make(map[string]int, len(c.stats.Messages))
	for k, v := range c.stats.Messages {
		out.Messages[k] = v
	}
	return out
}
