// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	connMaxReadBytes = 1024 * 1024 // 1MB
	writeWaitTime    = 10 * time.Second
	sendChSize       = 256
	receiveChSize    = 256
)

// relayConn is a user connection held by the relay.
type relayConn struct {
	id      string
	userID  string
	ws      *websocket.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func newRelayConn(id, userID string, ws *websocket.Conn) *relayConn {
	return &relayConn{
		id:      id,
		userID:  userID,
		ws:      ws,
		sendCh:  make(chan []byte, sendChSize),
		closeCh: make(chan struct{}),
	}
}

func (c *relayConn) close() error {
	var err error
	c.once.Do(func() {
		close(c.closeCh)
		err = c.ws.Close()
	})
	return err
}

func (r *Relay) addConn(c *relayConn) *relayConn {
	r.mut.Lock()
	defer r.mut.Unlock()
	prev := r.conns[c.userID]
	r.conns[c.userID] = c
	return prev
}

// removeConn removes c unless it was already replaced by a newer connection
// of the same user.
func (r *Relay) removeConn(c *relayConn) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	if cur, ok := r.conns[c.userID]; !ok || cur != c {
		return false
	}
	delete(r.conns, c.userID)
	return true
}

func (r *Relay) getConn(userID string) *relayConn {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.conns[userID]
}

func (r *Relay) getConns() []*relayConn {
	r.mut.RLock()
	defer r.mut.RUnlock()
	conns := make([]*relayConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
