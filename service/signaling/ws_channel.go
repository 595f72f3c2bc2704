// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"golang.org/x/time/rate"
)

type ClientOption func(c *WSChannel) error

func WithClientMetrics(metrics Metrics) ClientOption {
	return func(c *WSChannel) error {
		if metrics == nil {
			return fmt.Errorf("invalid metrics value: should not be nil")
		}
		c.metrics = metrics
		return nil
	}
}

// WSChannel is a Channel connected to a Relay over WebSocket.
type WSChannel struct {
	cfg     ClientConfig
	log     mlog.LoggerIFace
	metrics Metrics
	limiter *rate.Limiter

	mut       sync.RWMutex
	userID    string
	ws        *websocket.Conn
	receiveCh chan Message
	closeCh   chan struct{}
	wg        sync.WaitGroup

	writeMut sync.Mutex
}

func NewWSChannel(cfg ClientConfig, log mlog.LoggerIFace, opts ...ClientOption) (*WSChannel, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	if log == nil {
		return nil, fmt.Errorf("invalid log value: should not be nil")
	}

	c := &WSChannel{
		cfg:       cfg,
		log:       log,
		metrics:   noopMetrics{},
		limiter:   rate.NewLimiter(rate.Limit(cfg.SendRateLimit), cfg.SendBurst),
		receiveCh: make(chan Message),
	}
	close(c.receiveCh)

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return c, nil
}

func (c *WSChannel) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("invalid userID value: should not be empty")
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ws != nil {
		return fmt.Errorf("channel is already connected")
	}

	creds := base64.StdEncoding.EncodeToString([]byte(userID + ":" + c.cfg.AuthKey))
	header := http.Header{
		"Authorization": []string{"Basic " + creds},
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	c.ws = ws
	c.userID = userID
	c.receiveCh = make(chan Message, receiveChSize)
	c.closeCh = make(chan struct{})

	c.wg.Add(2)
	go c.connReader(ws, c.receiveCh, c.closeCh)
	go c.pinger(ws, c.closeCh)

	c.metrics.IncWSConnections()

	return nil
}

func (c *WSChannel) connReader(ws *websocket.Conn, receiveCh chan<- Message, closeCh <-chan struct{}) {
	defer func() {
		close(receiveCh)
		c.wg.Done()
	}()

	pingInterval := c.cfg.PingInterval()
	ws.SetReadLimit(connMaxReadBytes)
	_ = ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-closeCh:
			default:
				c.log.Warn("signaling: failed to read message", mlog.Err(err))
			}
			return
		}

		if mt != websocket.BinaryMessage {
			c.log.Warn("signaling: unexpected message type", mlog.Int("type", mt))
			continue
		}

		var msg Message
		if err := msg.Unpack(data); err != nil {
			c.log.Warn("signaling: failed to unpack message", mlog.Err(err))
			continue
		}

		c.metrics.IncWSMessages(string(msg.Type), "in")

		select {
		case receiveCh <- msg:
		case <-closeCh:
			return
		}
	}
}

func (c *WSChannel) pinger(ws *websocket.Conn, closeCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWaitTime)); err != nil {
				c.log.Debug("signaling: failed to send ping", mlog.Err(err))
			}
		case <-closeCh:
			return
		}
	}
}

// Send writes msg to the relay, waiting for the rate limiter if needed. An
// empty From is filled with the connected user.
func (c *WSChannel) Send(ctx context.Context, msg Message) error {
	c.mut.RLock()
	ws := c.ws
	userID := c.userID
	c.mut.RUnlock()

	if ws == nil {
		return fmt.Errorf("failed to send message: channel is not connected")
	}

	if msg.From == "" {
		msg.From = userID
	}

	if err := msg.IsValid(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	data, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("failed to pack message: %w", err)
	}

	c.writeMut.Lock()
	defer c.writeMut.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(writeWaitTime)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.metrics.IncWSMessages(string(msg.Type), "out")

	return nil
}

func (c *WSChannel) ReceiveCh() <-chan Message {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.receiveCh
}

// Close closes the underlying connection. The channel can be connected
// again afterwards.
func (c *WSChannel) Close() error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ws == nil {
		return nil
	}

	close(c.closeCh)

	c.writeMut.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWaitTime))
	err := c.ws.Close()
	c.writeMut.Unlock()

	c.wg.Wait()
	c.ws = nil
	c.metrics.DecWSConnections()

	return err
}
