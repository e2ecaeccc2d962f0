package rpcsubstrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a websocket transport with
// automatic reconnection and exponential backoff.
type WebSocketClient struct {
	url           string
	conn          *websocket.Conn
	connMu        sync.RWMutex
	requestID     atomic.Int64
	pendingCalls  map[int64]chan *Response
	pendingMu     sync.RWMutex
	subscriptions map[string]chan json.RawMessage
	subsMu        sync.RWMutex
	reconnecting  atomic.Bool
	closed        atomic.Bool
	closeChan     chan struct{}

	maxReconnectInterval time.Duration
	reconnectBackoff     time.Duration
}

// Dial opens a websocket connection to a substrate node and starts its read
// loop. Callers should Close the returned client when done.
func Dial(url string) (*WebSocketClient, error) {
	client := &WebSocketClient{
		url:                  url,
		pendingCalls:         make(map[int64]chan *Response),
		subscriptions:        make(map[string]chan json.RawMessage),
		closeChan:            make(chan struct{}),
		maxReconnectInterval: 60 * time.Second,
		reconnectBackoff:     1 * time.Second,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("connect to substrate node: %w", err)
	}

	go client.readLoop()

	return client, nil
}

// Call executes a single JSON-RPC method call via the websocket connection.
func (c *WebSocketClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("rpc client is closed")
	}

	reqID := c.requestID.Add(1)

	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pendingCalls[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pendingCalls, reqID)
		c.pendingMu.Unlock()
	}()

	rpcReq := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  method,
		"params":  params,
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("rpc client not connected")
	}

	if err := conn.WriteJSON(rpcReq); err != nil {
		go c.reconnect()
		return nil, fmt.Errorf("send rpc request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeChan:
		return nil, fmt.Errorf("rpc client closed")
	}
}

// CallBatch is not supported over a websocket transport: substrate nodes
// expose batching only over HTTP, and this engine only ever dials
// websocket endpoints (needed for subscriptions).
func (c *WebSocketClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	return nil, fmt.Errorf("batch calls not supported over websocket transport")
}

// Subscribe calls a subscription method and returns a channel carrying each
// notification's "result" payload.
func (c *WebSocketClient) Subscribe(ctx context.Context, method string, params interface{}) (<-chan json.RawMessage, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", method, err)
	}

	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("parse subscription id: %w", err)
	}

	notifChan := make(chan json.RawMessage, 100)

	c.subsMu.Lock()
	c.subscriptions[subID] = notifChan
	c.subsMu.Unlock()

	return notifChan, nil
}

// Close closes the websocket connection.
func (c *WebSocketClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.closeChan)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *WebSocketClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	return nil
}

func (c *WebSocketClient) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.reconnectBackoff

	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(backoff):
			if err := c.connect(); err != nil {
				backoff *= 2
				if backoff > c.maxReconnectInterval {
					backoff = c.maxReconnectInterval
				}
				continue
			}
			go c.readLoop()
			return
		}
	}
}

func (c *WebSocketClient) readLoop() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return
	}

	for {
		select {
		case <-c.closeChan:
			return
		default:
			var msg json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				go c.reconnect()
				return
			}

			var partial struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}

			if err := json.Unmarshal(msg, &partial); err != nil {
				continue
			}

			if partial.ID != nil {
				var resp Response
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}

				c.pendingMu.RLock()
				respChan, exists := c.pendingCalls[*partial.ID]
				c.pendingMu.RUnlock()

				if exists {
					respChan <- &resp
				}
			} else if partial.Method != "" {
				var notification struct {
					Params struct {
						Subscription string          `json:"subscription"`
						Result       json.RawMessage `json:"result"`
					} `json:"params"`
				}

				if err := json.Unmarshal(msg, &notification); err != nil {
					continue
				}

				c.subsMu.RLock()
				notifChan, exists := c.subscriptions[notification.Params.Subscription]
				c.subsMu.RUnlock()

				if exists {
					select {
					case notifChan <- notification.Params.Result:
					default:
					}
				}
			}
		}
	}
}
