package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kis-core/execution/internal/logging"
)

// TR-IDs for the two real-time streams this client dispatches.
const (
	TrIDTick   = "H0STCNT0"
	TrIDAskBid = "H0STASP0"
)

// Command codes KIS expects in a subscription send payload.
const (
	cmdSubscribeAskBid   = 1
	cmdUnsubscribeAskBid = 2
	cmdSubscribeTick     = 3
	cmdUnsubscribeTick   = 4
)

// stableConnectionWindow is how long a connection must stay up before the
// reconnect backoff counter resets, preventing rapid cycling against a
// server that accepts then immediately drops connections.
const stableConnectionWindow = 30 * time.Second

// SendDataFunc builds the raw subscribe/unsubscribe payload KIS expects for
// (cmd, stockCode). Supplied by the caller since it depends on the
// approval key and TR-ID framing owned by the auth/config layer.
type SendDataFunc func(cmd int, stockCode string) (string, error)

// Config configures reconnect timing for Client.
type Config struct {
	ReconnectDelayBase time.Duration
	ReconnectDelayMax  time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig matches ws_client.py's defaults.
var DefaultConfig = Config{
	ReconnectDelayBase: time.Second,
	ReconnectDelayMax:  30 * time.Second,
	ConnectTimeout:     30 * time.Second,
}

// Client is the shared real-time WebSocket client (spec §4.13): connection
// lifecycle, auto-reconnect with exponential backoff and stable-connection
// reset, subscription replay, and callback dispatch.
type Client struct {
	cfg      Config
	sendData SendDataFunc
	log      logging.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	url             string
	connected       bool
	running         bool
	reconnectTries  int
	connectedSince  time.Time

	tickSubs  map[string]struct{}
	askSubs   map[string]struct{}

	cbMu           sync.Mutex
	tickCallbacks  []func(TickMessage)
	askBidCallbacks []func(AskBidMessage)
}

// NewClient constructs a Client. sendData builds the raw frame for a given
// (cmd, stockCode) subscription action.
func NewClient(sendData SendDataFunc, cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		sendData: sendData,
		log:      logging.Default().With("wsclient"),
		tickSubs: make(map[string]struct{}),
		askSubs:  make(map[string]struct{}),
	}
}

// OnTick registers a callback invoked for every parsed tick message.
// Registration is append-only; callbacks that panic are isolated so one
// bad callback cannot break dispatch for the rest.
func (c *Client) OnTick(cb func(TickMessage)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.tickCallbacks = append(c.tickCallbacks, cb)
}

// OnAskBid registers a callback invoked for every parsed top-of-book
// message.
func (c *Client) OnAskBid(cb func(AskBidMessage)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.askBidCallbacks = append(c.askBidCallbacks, cb)
}

// Connected reports whether the underlying socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil
}

// Connect dials url and marks the client connected on success.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.log.Warnf("websocket connect failed: %v", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connectedSince = time.Now()
	c.mu.Unlock()

	c.log.Infof("websocket connected to %s", url)
	return nil
}

// Disconnect stops the read loop and closes the socket.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.running = false
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.log.Infof("websocket disconnected")
}

// Run is the blocking read loop: it dispatches incoming frames to
// registered callbacks and, when autoReconnect is true, reconnects with
// exponential backoff on any read error or initial disconnect.
func (c *Client) Run(ctx context.Context, autoReconnect bool) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.Connected() {
			if !autoReconnect {
				return nil
			}
			if err := c.reconnect(ctx); err != nil {
				continue
			}
		}

		if err := c.readLoop(ctx); err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if !autoReconnect {
				return err
			}
		}

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsclient: read loop started without a connection")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Warnf("websocket read error: %v", err)
			return err
		}

		c.mu.Lock()
		if c.reconnectTries > 0 && !c.connectedSince.IsZero() &&
			time.Since(c.connectedSince) >= stableConnectionWindow {
			c.reconnectTries = 0
		}
		c.mu.Unlock()

		c.dispatch(string(raw))
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	url := c.url
	tries := c.reconnectTries
	c.mu.Unlock()
	if url == "" {
		return fmt.Errorf("wsclient: no url to reconnect to")
	}

	delay := c.cfg.ReconnectDelayBase * time.Duration(1<<uint(tries))
	if delay > c.cfg.ReconnectDelayMax {
		delay = c.cfg.ReconnectDelayMax
	}
	c.mu.Lock()
	c.reconnectTries++
	c.mu.Unlock()

	c.log.Infof("reconnecting in %s (attempt %d)", delay, tries+1)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.Connect(ctx, url); err != nil {
		return err
	}
	c.replaySubscriptions()
	return nil
}

func (c *Client) replaySubscriptions() {
	c.mu.Lock()
	tickTickers := keys(c.tickSubs)
	askTickers := keys(c.askSubs)
	c.mu.Unlock()

	for _, ticker := range tickTickers {
		if err := c.send(cmdSubscribeTick, ticker); err != nil {
			c.log.Warnf("failed to replay tick subscription for %s: %v", ticker, err)
			c.mu.Lock()
			delete(c.tickSubs, ticker)
			c.mu.Unlock()
		}
	}
	for _, ticker := range askTickers {
		if err := c.send(cmdSubscribeAskBid, ticker); err != nil {
			c.log.Warnf("failed to replay askbid subscription for %s: %v", ticker, err)
			c.mu.Lock()
			delete(c.askSubs, ticker)
			c.mu.Unlock()
		}
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (c *Client) send(cmd int, ticker string) error {
	payload, err := c.sendData(cmd, ticker)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// SubscribeTick subscribes to the tick stream for ticker. Idempotent: a
// ticker already subscribed returns true without sending a frame.
func (c *Client) SubscribeTick(ticker string) bool {
	if !c.Connected() {
		return false
	}
	c.mu.Lock()
	_, already := c.tickSubs[ticker]
	c.mu.Unlock()
	if already {
		return true
	}
	if err := c.send(cmdSubscribeTick, ticker); err != nil {
		c.log.Errorf("subscribe tick error for %s: %v", ticker, err)
		return false
	}
	c.mu.Lock()
	c.tickSubs[ticker] = struct{}{}
	c.mu.Unlock()
	return true
}

// SubscribeAskBid subscribes to the top-of-book stream for ticker.
// Idempotent like SubscribeTick.
func (c *Client) SubscribeAskBid(ticker string) bool {
	if !c.Connected() {
		return false
	}
	c.mu.Lock()
	_, already := c.askSubs[ticker]
	c.mu.Unlock()
	if already {
		return true
	}
	if err := c.send(cmdSubscribeAskBid, ticker); err != nil {
		c.log.Errorf("subscribe askbid error for %s: %v", ticker, err)
		return false
	}
	c.mu.Lock()
	c.askSubs[ticker] = struct{}{}
	c.mu.Unlock()
	return true
}

// UnsubscribeTick removes ticker's tick subscription, sending an
// unsubscribe frame only if currently connected and subscribed.
func (c *Client) UnsubscribeTick(ticker string) {
	c.mu.Lock()
	_, subscribed := c.tickSubs[ticker]
	connected := c.connected
	c.mu.Unlock()
	if !connected || !subscribed {
		c.mu.Lock()
		delete(c.tickSubs, ticker)
		c.mu.Unlock()
		return
	}
	if err := c.send(cmdUnsubscribeTick, ticker); err != nil {
		c.log.Errorf("unsubscribe tick error for %s: %v", ticker, err)
		return
	}
	c.mu.Lock()
	delete(c.tickSubs, ticker)
	c.mu.Unlock()
}

// UnsubscribeAskBid removes ticker's top-of-book subscription.
func (c *Client) UnsubscribeAskBid(ticker string) {
	c.mu.Lock()
	_, subscribed := c.askSubs[ticker]
	connected := c.connected
	c.mu.Unlock()
	if !connected || !subscribed {
		c.mu.Lock()
		delete(c.askSubs, ticker)
		c.mu.Unlock()
		return
	}
	if err := c.send(cmdUnsubscribeAskBid, ticker); err != nil {
		c.log.Errorf("unsubscribe askbid error for %s: %v", ticker, err)
		return
	}
	c.mu.Lock()
	delete(c.askSubs, ticker)
	c.mu.Unlock()
}

// TickSubs returns a snapshot of currently tick-subscribed tickers.
func (c *Client) TickSubs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return keys(c.tickSubs)
}

// AskBidSubs returns a snapshot of currently askbid-subscribed tickers.
func (c *Client) AskBidSubs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return keys(c.askSubs)
}

// TotalSubs returns the combined registration count across both streams.
func (c *Client) TotalSubs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickSubs) + len(c.askSubs)
}

func (c *Client) dispatch(raw string) {
	trID, body, ok := parseFrameHeader(raw)
	if !ok {
		return
	}

	switch trID {
	case TrIDTick:
		msg, ok := ParseTickMessage(body, time.Now())
		if !ok {
			return
		}
		c.cbMu.Lock()
		callbacks := append([]func(TickMessage){}, c.tickCallbacks...)
		c.cbMu.Unlock()
		for _, cb := range callbacks {
			c.invokeTick(cb, *msg)
		}
	case TrIDAskBid:
		msg, ok := ParseAskBidMessage(body)
		if !ok {
			return
		}
		c.cbMu.Lock()
		callbacks := append([]func(AskBidMessage){}, c.askBidCallbacks...)
		c.cbMu.Unlock()
		for _, cb := range callbacks {
			c.invokeAskBid(cb, *msg)
		}
	}
}

func (c *Client) invokeTick(cb func(TickMessage), msg TickMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("tick callback panicked: %v", r)
		}
	}()
	cb(msg)
}

func (c *Client) invokeAskBid(cb func(AskBidMessage), msg AskBidMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("askbid callback panicked: %v", r)
		}
	}()
	cb(msg)
}
