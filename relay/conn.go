package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Sends queue up here when a client reads slowly. Overflowing the queue marks
// the connection dead rather than letting it stall the dispatcher.
const sendQueueSize = 64

const writeTimeout = 10 * time.Second

// connState is the lifecycle of one connection. The only transitions are
// Connected -> Joined -> Closed and Connected -> Closed.
type connState int

const (
	stateConnected connState = iota
	stateJoined
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// socket is the subset of *websocket.Conn the write side needs, split out so
// dispatch logic can be tested without real network sockets.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one client connection to the relay. The state and sessionID fields
// are owned exclusively by the dispatch goroutine; the send queue decouples it
// from the per-connection write loop.
type Conn struct {
	ID string
	ws socket

	send      chan []byte
	closeOnce sync.Once

	// owned by the dispatch goroutine, do not touch from elsewhere
	state     connState
	sessionID string
}

func newConn(ws socket) *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
	}
}

// queue enqueues a frame for delivery without blocking the caller. Returns
// false if the send queue is full.
func (c *Conn) queue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writeLoop drains the send queue onto the socket. Runs on its own goroutine,
// one per connection; returns when the queue is closed or a write fails.
func (c *Conn) writeLoop() {
	for frame := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			c.close()
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.close()
			return
		}
	}
	c.close()
}

// close shuts the socket. Safe to call from any goroutine, any number of times.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
}
