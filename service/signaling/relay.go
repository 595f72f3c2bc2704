// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mattermost/callcore/service/random"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// OfflineReason is the reject reason the relay answers call requests for
// users that aren't connected with.
const OfflineReason = "offline"

// AuthCb authenticates the upgrade request and returns the user id the
// connection belongs to.
type AuthCb func(w http.ResponseWriter, r *http.Request) (string, error)

type RelayOption func(r *Relay) error

func WithAuthCb(cb AuthCb) RelayOption {
	return func(r *Relay) error {
		if cb == nil {
			return fmt.Errorf("invalid cb value: should not be nil")
		}
		r.authCb = cb
		return nil
	}
}

func WithRelayMetrics(metrics Metrics) RelayOption {
	return func(r *Relay) error {
		if metrics == nil {
			return fmt.Errorf("invalid metrics value: should not be nil")
		}
		r.metrics = metrics
		return nil
	}
}

// Relay routes signaling messages between connected users. A user has at
// most one connection: a new one replaces the previous.
type Relay struct {
	cfg     RelayConfig
	log     mlog.LoggerIFace
	metrics Metrics
	authCb  AuthCb

	mut    sync.RWMutex
	conns  map[string]*relayConn
	closed bool
	wg     sync.WaitGroup
}

func NewRelay(cfg RelayConfig, log mlog.LoggerIFace, opts ...RelayOption) (*Relay, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	if log == nil {
		return nil, fmt.Errorf("invalid log value: should not be nil")
	}

	r := &Relay{
		cfg:     cfg,
		log:     log,
		metrics: noopMetrics{},
		conns:   make(map[string]*relayConn),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if r.authCb == nil {
		return nil, fmt.Errorf("invalid authCb value: should not be nil")
	}

	return r, nil
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mut.RLock()
	closed := r.closed
	r.mut.RUnlock()
	if closed {
		http.Error(w, "relay is closed", http.StatusServiceUnavailable)
		return
	}

	userID, err := r.authCb(w, req)
	if err != nil {
		r.log.Debug("signaling: authentication failed", mlog.Err(err))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  r.cfg.ReadBufferSize,
		WriteBufferSize: r.cfg.WriteBufferSize,
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error("signaling: failed to upgrade connection", mlog.Err(err))
		return
	}
	ws.SetReadLimit(connMaxReadBytes)

	conn := newRelayConn(random.NewID(), userID, ws)
	if prev := r.addConn(conn); prev != nil {
		r.log.Debug("signaling: replacing connection", mlog.String("userID", userID), mlog.String("connID", prev.id))
		_ = prev.close()
	}
	r.metrics.IncWSConnections()
	r.log.Debug("signaling: user connected", mlog.String("userID", userID), mlog.String("connID", conn.id))

	r.wg.Add(1)
	go r.connWriter(conn)

	defer func() {
		r.removeConn(conn)
		_ = conn.close()
		r.metrics.DecWSConnections()
		r.log.Debug("signaling: user disconnected", mlog.String("userID", userID), mlog.String("connID", conn.id))
	}()

	pingInterval := r.cfg.PingInterval()
	_ = ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("signaling: ws read failed", mlog.Err(err), mlog.String("userID", userID))
			}
			return
		}

		if mt != websocket.BinaryMessage {
			r.log.Warn("signaling: unexpected message type", mlog.Int("type", mt), mlog.String("userID", userID))
			continue
		}

		var msg Message
		if err := msg.Unpack(data); err != nil {
			r.log.Warn("signaling: failed to unpack message", mlog.Err(err), mlog.String("userID", userID))
			continue
		}

		r.metrics.IncWSMessages(string(msg.Type), "in")
		msg.From = userID
		r.route(msg)
	}
}

// route forwards msg to its recipient. Call requests to offline users are
// answered with a negative response so callers don't wait for the timeout.
func (r *Relay) route(msg Message) {
	target := r.getConn(msg.To)
	if target == nil {
		r.log.Debug("signaling: recipient is offline",
			mlog.String("to", msg.To), mlog.String("type", string(msg.Type)), mlog.String("callID", msg.CallID))
		if msg.Type == CallRequestMessage || msg.Type == GroupCallRequestMessage {
			r.rejectOffline(msg)
		}
		return
	}

	r.send(target, msg)
}

func (r *Relay) rejectOffline(req Message) {
	sender := r.getConn(req.From)
	if sender == nil {
		return
	}

	resp, err := NewMessage(CallResponseMessage, req.To, req.From, req.CallID, CallResponse{
		CallID: req.CallID,
		Reason: OfflineReason,
	})
	if err != nil {
		r.log.Error("signaling: failed to create response", mlog.Err(err))
		return
	}

	r.send(sender, resp)
}

func (r *Relay) send(c *relayConn, msg Message) {
	data, err := msg.Pack()
	if err != nil {
		r.log.Error("signaling: failed to pack message", mlog.Err(err))
		return
	}

	select {
	case c.sendCh <- data:
		r.metrics.IncWSMessages(string(msg.Type), "out")
	case <-c.closeCh:
	default:
		r.log.Error("signaling: failed to send message: channel is full",
			mlog.String("userID", c.userID), mlog.String("type", string(msg.Type)))
	}
}

func (r *Relay) connWriter(c *relayConn) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWaitTime)); err != nil {
				r.log.Error("signaling: failed to set write deadline", mlog.Err(err))
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				r.log.Error("signaling: failed to write message", mlog.String("userID", c.userID), mlog.Err(err))
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWaitTime)); err != nil {
				r.log.Debug("signaling: failed to send ping", mlog.String("userID", c.userID), mlog.Err(err))
			}
		case <-c.closeCh:
			return
		}
	}
}

// OnlineUsers returns the sorted ids of the connected users.
func (r *Relay) OnlineUsers() []string {
	conns := r.getConns()
	users := make([]string, 0, len(conns))
	for _, c := range conns {
		users = append(users, c.userID)
	}
	sort.Strings(users)
	return users
}

// Close drops every connection and rejects new ones.
func (r *Relay) Close() {
	r.mut.Lock()
	r.closed = true
	r.mut.Unlock()

	for _, c := range r.getConns() {
		if err := c.close(); err != nil {
			r.log.Error("signaling: failed to close ws conn", mlog.Err(err))
		}
	}

	r.wg.Wait()
}
