// Package regimefeed subscribes to a websocket market-regime classifier and
// reports regime changes.
package regimefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/observability"
)

// Config configures client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Update is a regime change.
type Update struct {
	Regime     domain.Regime
	Previous   domain.Regime
	Symbol     string
	Confidence float64
	At         int64 // unix ms, from the feed
}

// Client maintains the feed connection, reconnecting with backoff.
type Client struct {
	endpoint string
	symbols  []string
	config   Config
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	current atomic.Pointer[Update]
	updates chan Update

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects, subscribes to symbols and starts the read and ping loops.
func Dial(ctx context.Context, endpoint string, symbols []string, config *Config, logger *zap.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		endpoint: endpoint,
		symbols:  symbols,
		config:   cfg,
		logger:   logger.Named("regimefeed"),
		updates:  make(chan Update, 16),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Updates delivers regime changes. Repeated messages with the same regime
// are not delivered. The channel closes when the client closes.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Current returns the last known regime.
func (c *Client) Current() domain.Regime {
	if u := c.current.Load(); u != nil {
		return u.Regime
	}
	return domain.RegimeUnknown
}

// Close closes the connection and stops the loops.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.updates)
	return nil
}

// connect dials and sends the subscription.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Channel: "regime", Symbols: c.symbols}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	c.conn = conn
	return nil
}

// readLoop reads messages and reconnects with exponential backoff on error.
func (c *Client) readLoop() {
	defer c.wg.Done()

	delay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect(delay) {
				delay = nextDelay(delay, c.config.MaxReconnectDelay)
			} else {
				delay = c.config.ReconnectDelay
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("read failed, reconnecting", zap.Error(err))
			c.connMu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect waits delay, then dials again. Reports success.
func (c *Client) reconnect(delay time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(delay):
	}

	observability.RecordRegimeReconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Warn("reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		return false
	}
	c.logger.Info("reconnected")
	return true
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

// handleMessage decodes a regime message and publishes changes.
func (c *Client) handleMessage(message []byte) {
	var msg regimeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("undecodable message", zap.Error(err))
		return
	}
	if msg.Type != "regime" {
		return
	}
	observability.RecordRegimeMessage()

	regime := domain.Regime(msg.Regime)
	if !regime.IsKnown() {
		c.logger.Debug("unknown regime", zap.String("regime", msg.Regime))
		return
	}

	prev := c.Current()
	if regime == prev {
		return
	}
	u := Update{
		Regime:     regime,
		Previous:   prev,
		Symbol:     msg.Symbol,
		Confidence: msg.Confidence,
		At:         msg.Timestamp,
	}
	c.current.Store(&u)
	observability.SetCurrentRegime(string(regime))
	c.logger.Info("regime changed",
		zap.String("from", string(prev)),
		zap.String("to", string(regime)),
		zap.String("symbol", msg.Symbol),
	)

	select {
	case c.updates <- u:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols,omitempty"`
}

type regimeMessage struct {
	Type       string  `json:"type"`
	Regime     string  `json:"regime"`
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"ts"`
}
