// Package stream implements the streaming price client (module D): a single
// reconnecting WebSocket connection subscribed to every watched asset's
// order-book channel. It auto-reconnects with exponential backoff,
// re-subscribes to all tracked assets on reconnection, and feeds parsed
// books straight into a book.Mirror so the evaluation loop always reads the
// freshest price without touching the network itself.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketbridge/internal/book"
	"marketbridge/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	subscribeChunk   = 500 // assets per subscribe/unsubscribe message
)

// Client maintains one WebSocket connection to the order-book price feed
// across an arbitrary, changing set of asset IDs.
type Client struct {
	url    string
	mirror *book.Mirror
	log    *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.RWMutex
	subs  map[string]bool

	freshMu sync.Mutex
	fresh   map[string]time.Time // last message time per asset, for the status surface
}

// New creates a streaming client that writes parsed books into mirror.
func New(wsURL string, mirror *book.Mirror, log *slog.Logger) *Client {
	return &Client{
		url:    wsURL,
		mirror: mirror,
		log:    log.With("component", "stream"),
		subs:   make(map[string]bool),
		fresh:  make(map[string]time.Time),
	}
}

// Subscribe adds asset IDs to the tracked set and, if connected, sends an
// incremental subscribe message immediately.
func (c *Client) Subscribe(ids []string) {
	c.subMu.Lock()
	for _, id := range ids {
		c.subs[id] = true
	}
	c.subMu.Unlock()
	c.sendUpdate("subscribe", ids)
}

// Unsubscribe removes asset IDs from the tracked set.
func (c *Client) Unsubscribe(ids []string) {
	c.subMu.Lock()
	for _, id := range ids {
		delete(c.subs, id)
	}
	c.subMu.Unlock()
	c.sendUpdate("unsubscribe", ids)
}

// LastMessageAge returns how long ago an update was seen for an asset, or
// false if none has ever arrived.
func (c *Client) LastMessageAge(assetID string) (time.Duration, bool) {
	c.freshMu.Lock()
	defer c.freshMu.Unlock()
	ts, ok := c.fresh[assetID]
	if !ok {
		return 0, false
	}
	return time.Since(ts), true
}

// Run connects and maintains the WebSocket connection with auto-reconnect
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.resubscribeAll(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(msg)
	}
}

func (c *Client) resubscribeAll() error {
	c.subMu.RLock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.subMu.RUnlock()

	for i := 0; i < len(ids); i += subscribeChunk {
		end := i + subscribeChunk
		if end > len(ids) {
			end = len(ids)
		}
		msg := types.WSSubscribeMsg{Type: "market", AssetsIDs: ids[i:end]}
		if err := c.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendUpdate(op string, ids []string) {
	for i := 0; i < len(ids); i += subscribeChunk {
		end := i + subscribeChunk
		if end > len(ids) {
			end = len(ids)
		}
		msg := types.WSUpdateMsg{AssetsIDs: ids[i:end], Operation: op}
		if err := c.writeJSON(msg); err != nil {
			c.log.Debug("update send failed, will resync on reconnect", "op", op, "error", err)
			return
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		// Also accept the bare top-level array snapshot form.
		var arr []types.WSArrayQuote
		if err2 := json.Unmarshal(data, &arr); err2 == nil {
			for _, q := range arr {
				c.applyQuote(q.AssetID, q.BestBid, q.BestAsk)
			}
		}
		return
	}

	switch envelope.EventType {
	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Error("unmarshal price_change", "error", err)
			return
		}
		for _, pc := range evt.PriceChanges {
			c.applyQuote(pc.AssetID, pc.BestBid, pc.BestAsk)
		}
	case "best_bid_ask":
		var evt types.WSBestBidAskEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Error("unmarshal best_bid_ask", "error", err)
			return
		}
		c.applyQuote(evt.AssetID, evt.BestBid, evt.BestAsk)
	default:
		c.log.Debug("ignoring event", "type", envelope.EventType)
	}
}

func (c *Client) applyQuote(assetID, bestBid, bestAsk string) {
	if assetID == "" {
		return
	}
	pb := book.Parse(assetID,
		[]types.PriceLevel{{Price: bestBid, Size: "1"}},
		[]types.PriceLevel{{Price: bestAsk, Size: "1"}},
	)
	c.mirror.Update(assetID, pb)

	c.freshMu.Lock()
	c.fresh[assetID] = time.Now()
	c.freshMu.Unlock()
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) writeMessage(msgType int, data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
