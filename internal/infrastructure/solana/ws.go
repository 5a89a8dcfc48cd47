package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

const DefaultPingInterval = 30 * time.Second

// WSTransport dials the RPC websocket and implements domain.EventTransport.
type WSTransport struct {
	url          string
	commitment   string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

func NewWSTransport(url, commitment string, logger *zap.Logger) *WSTransport {
	if commitment == "" {
		commitment = "finalized"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSTransport{
		url:          url,
		commitment:   commitment,
		pingInterval: DefaultPingInterval,
		dialer:       websocket.DefaultDialer,
		logger:       logger,
	}
}

func (t *WSTransport) Dial(ctx context.Context) (domain.EventConn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	c := &wsConn{
		conn:       conn,
		commitment: t.commitment,
		subs:       make(map[int64]string),
		done:       make(chan struct{}),
		logger:     t.logger,
	}
	go c.keepalive(ctx, t.pingInterval)
	return c, nil
}

type wsConn struct {
	conn       *websocket.Conn
	commitment string
	writeMu    sync.Mutex
	nextID     int64
	subs       map[int64]string
	done       chan struct{}
	closeOnce  sync.Once
	logger     *zap.Logger
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

type logsValue struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err"`
}

// keepalive pings until the connection closes and closes it when ctx ends.
func (c *wsConn) keepalive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("WS ping failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// Subscribe sends the subscription request and waits for its id.
func (c *wsConn) Subscribe(ctx context.Context, kind domain.SubscriptionKind, account string) error {
	c.nextID++
	req := wsRequest{JSONRPC: "2.0", ID: c.nextID}
	switch kind {
	case domain.KindLogs:
		req.Method = "logsSubscribe"
		req.Params = []any{map[string]any{"mentions": []string{account}}, map[string]any{"commitment": c.commitment}}
	case domain.KindAccount:
		req.Method = "accountSubscribe"
		req.Params = []any{account, map[string]any{"encoding": "jsonParsed", "commitment": c.commitment}}
	default:
		return fmt.Errorf("unknown subscription kind %q", kind)
	}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("ws subscribe write: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		msg, err := c.read(deadline)
		if err != nil {
			return fmt.Errorf("ws subscribe ack: %w", err)
		}
		if msg.ID == nil || *msg.ID != req.ID {
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		var subID int64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return fmt.Errorf("ws subscribe ack: %w", err)
		}
		c.subs[subID] = account
		c.logger.Debug("WS subscribed", zap.String("method", req.Method), zap.String("account", account), zap.Int64("subscription", subID))
		return nil
	}
}

// Receive returns the next notification, domain.ErrIdleTimeout when nothing
// arrives within timeout.
func (c *wsConn) Receive(ctx context.Context, timeout time.Duration) (domain.Notification, error) {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return domain.Notification{}, ctx.Err()
		}
		msg, err := c.read(deadline)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Notification{}, ctx.Err()
			}
			return domain.Notification{}, err
		}
		if msg.Params == nil {
			continue
		}
		switch msg.Method {
		case "logsNotification":
			var v logsValue
			if err := json.Unmarshal(msg.Params.Result.Value, &v); err != nil {
				c.logger.Warn("WS bad logs notification", zap.Error(err))
				continue
			}
			return domain.Notification{
				Account:   c.subs[msg.Params.Subscription],
				Signature: v.Signature,
				Slot:      msg.Params.Result.Context.Slot,
				Failed:    isSet(v.Err),
			}, nil
		case "accountNotification":
			return domain.Notification{
				Account: c.subs[msg.Params.Subscription],
				Slot:    msg.Params.Result.Context.Slot,
			}, nil
		}
	}
}

func (c *wsConn) read(deadline time.Time) (*wsMessage, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, domain.ErrIdleTimeout
			}
			return nil, fmt.Errorf("ws read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("WS unmarshal error", zap.Error(err))
			continue
		}
		return &msg, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
