// Package relay brokers room membership and edit propagation between the
// clients of a session. All inbound connection events funnel through one
// dispatch goroutine, so no two events touch the session store concurrently
// and "replace the document wholesale" is safe without per-session locks.
package relay

import (
	"context"
	"errors"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/codeshare-dev/codeshare/internal"
	"github.com/codeshare-dev/codeshare/pubsub"
	"github.com/codeshare-dev/codeshare/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const busChan = "relay"

var errRelayClosed = errors.New("relay closed")

// bus payloads, one per kind of connection event

type connectPayload struct {
	conn *Conn
}

func (p *connectPayload) Type() string { return "connect" }

type framePayload struct {
	conn *Conn
	data []byte
}

func (p *framePayload) Type() string { return "frame" }

type disconnectPayload struct {
	conn *Conn
}

func (p *disconnectPayload) Type() string { return "disconnect" }

type expirePayload struct {
	sessionID string
}

func (p *expirePayload) Type() string { return "expire" }

// Relay applies the broadcast protocol: join a room and receive the current
// snapshot, send an edit and the whole room (minus you) receives it. The last
// edit to arrive at the dispatcher wins; there is no merging and no conflict
// detection.
type Relay struct {
	store   *session.Store
	tracker *RoomTracker

	bus      pubsub.Notifier
	listener pubsub.Listener
	closed   int32

	// owned by the dispatch goroutine
	conns map[string]*Conn

	numConns      int64
	gaugeConns    prometheus.GaugeFunc
	gaugeRooms    prometheus.GaugeFunc
	gaugeSessions prometheus.GaugeFunc
	numMalformed  prometheus.Counter
}

func NewRelay(store *session.Store) *Relay {
	ps := pubsub.NewPubSub(128)
	r := &Relay{
		store:    store,
		tracker:  NewRoomTracker(),
		bus:      pubsub.NewPromNotifier(ps, "relay"),
		listener: ps,
		conns:    make(map[string]*Conn),
	}
	r.gaugeConns = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "codeshare",
		Subsystem: "relay",
		Name:      "num_conns",
		Help:      "Number of open relay connections",
	}, func() float64 {
		return float64(atomic.LoadInt64(&r.numConns))
	})
	r.gaugeRooms = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "codeshare",
		Subsystem: "relay",
		Name:      "num_rooms",
		Help:      "Number of rooms with at least one member",
	}, func() float64 {
		return float64(r.tracker.NumRooms())
	})
	r.gaugeSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "codeshare",
		Subsystem: "relay",
		Name:      "num_sessions",
		Help:      "Number of live sessions in the store",
	}, func() float64 {
		return float64(store.Len())
	})
	r.numMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "codeshare",
		Subsystem: "relay",
		Name:      "num_malformed_events",
		Help:      "Number of inbound events dropped as malformed",
	})
	prometheus.MustRegister(r.gaugeConns, r.gaugeRooms, r.gaugeSessions, r.numMalformed)

	// a session expiring out of the store tears down its room
	store.OnExpired(func(sessionID string) {
		r.publish(&expirePayload{sessionID: sessionID})
	})
	return r
}

// Start the dispatch goroutine. Only call this once.
func (r *Relay) Start() {
	go r.listener.Listen(busChan, r.onPayload)
}

// Close stops the dispatcher and unregisters metrics. Connections are not
// gracefully drained; this exists for tests and process shutdown.
func (r *Relay) Close() error {
	atomic.StoreInt32(&r.closed, 1)
	prometheus.Unregister(r.gaugeConns)
	prometheus.Unregister(r.gaugeRooms)
	prometheus.Unregister(r.gaugeSessions)
	prometheus.Unregister(r.numMalformed)
	return r.bus.Close()
}

// publish puts a payload on the bus. Read loops call this concurrently with
// Close, so a closed bus is folded into errRelayClosed rather than allowed to
// escape as a panic.
func (r *Relay) publish(p pubsub.Payload) (err error) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return errRelayClosed
	}
	defer func() {
		if recover() != nil {
			err = errRelayClosed
		}
	}()
	return r.bus.Notify(busChan, p)
}

// connect registers a new connection. Called from the connection's read
// goroutine before any frames are read.
func (r *Relay) connect(c *Conn) error {
	return r.publish(&connectPayload{conn: c})
}

// receive hands an inbound frame to the dispatcher.
func (r *Relay) receive(c *Conn, data []byte) error {
	return r.publish(&framePayload{conn: c, data: data})
}

// disconnect removes the connection. Transport failures and explicit closes
// both end up here.
func (r *Relay) disconnect(c *Conn) error {
	return r.publish(&disconnectPayload{conn: c})
}

// onPayload is the single dispatch point. A panic while handling one
// connection's event is reported and swallowed: it must not take down the
// process or any other connection.
func (r *Relay) onPayload(p pubsub.Payload) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			logger.Error().Msg(string(debug.Stack()))
			internal.GetSentryHubFromContextOrDefault(context.Background()).Recover(panicErr)
		}
	}()
	ctx, task := internal.StartTask(context.Background(), "Relay.onPayload")
	defer task.End()
	internal.Logf(ctx, "relay", "payload=%s", p.Type())
	switch payload := p.(type) {
	case *connectPayload:
		r.onConnect(payload.conn)
	case *framePayload:
		r.onFrame(payload.conn, payload.data)
	case *disconnectPayload:
		r.onDisconnect(payload.conn)
	case *expirePayload:
		r.onSessionExpired(payload.sessionID)
	}
}

func (r *Relay) onConnect(c *Conn) {
	r.conns[c.ID] = c
	atomic.AddInt64(&r.numConns, 1)
	logger.Info().Str("conn", c.ID).Msg("client connected")
}

func (r *Relay) onFrame(c *Conn, data []byte) {
	if c.state == stateClosed {
		return
	}
	ev, err := parseEvent(data)
	if err != nil {
		// one connection's hostile input must never affect the others
		r.numMalformed.Inc()
		logger.Warn().Str("conn", c.ID).Int("len", len(data)).Msg("dropping malformed event")
		return
	}
	switch ev.Type {
	case EventJoin:
		r.onJoin(c, ev)
	case EventEdit:
		r.onEdit(c, ev)
	}
}

func (r *Relay) onJoin(c *Conn, ev *inboundEvent) {
	if c.state == stateJoined {
		// no Joined->Joined transition: the connection keeps its first room
		logger.Warn().Str("conn", c.ID).Str("session", ev.SessionID).Msg("rejecting second join")
		return
	}
	if ev.SessionID == "" || !r.store.Has(ev.SessionID) {
		// deliberately silent on the wire: the client gets no init and no error
		logger.Debug().Str("conn", c.ID).Str("session", ev.SessionID).Msg("dropping join for unknown session")
		return
	}
	internal.Assert("join on a connection in the Connected state", c.state == stateConnected)
	joined := r.tracker.Join(c.ID, ev.SessionID)
	internal.Assert("connection was not already in a room", joined)
	c.state = stateJoined
	c.sessionID = ev.SessionID

	sess, err := r.store.Get(ev.SessionID)
	if err != nil {
		// lost a race with expiry; the eviction callback will clean the room up
		return
	}
	if !c.queue(initEvent(sess.Document)) {
		r.closeConn(c)
		return
	}
	logger.Info().Str("conn", c.ID).Str("session", ev.SessionID).Msg("joined session")
}

func (r *Relay) onEdit(c *Conn, ev *inboundEvent) {
	if c.state != stateJoined || ev.SessionID != c.sessionID {
		// covers edits sent before any join, and edits naming a session other
		// than the joined one: nothing is mutated, nothing is broadcast
		logger.Debug().Str("conn", c.ID).Str("session", ev.SessionID).Msg("dropping edit for session the conn has not joined")
		return
	}
	if err := r.store.SetDocument(ev.SessionID, ev.Content); err != nil {
		logger.Debug().Str("conn", c.ID).Str("session", ev.SessionID).Msg("dropping edit for expired session")
		return
	}
	frame := broadcastEvent(ev.raw)
	for _, connID := range r.tracker.Conns(ev.SessionID) {
		if connID == c.ID {
			// the sender is never echoed its own edit
			continue
		}
		member := r.conns[connID]
		if member == nil {
			continue
		}
		if !member.queue(frame) {
			logger.Warn().Str("conn", member.ID).Msg("send queue overflow, closing connection")
			r.closeConn(member)
		}
	}
}

func (r *Relay) onDisconnect(c *Conn) {
	r.closeConn(c)
}

func (r *Relay) onSessionExpired(sessionID string) {
	for _, connID := range r.tracker.RemoveRoom(sessionID) {
		if member := r.conns[connID]; member != nil {
			r.closeConn(member)
		}
	}
}

// closeConn removes the connection's membership and tears down its send side.
// No leave notification is broadcast: the room simply stops hearing from the
// peer. Only the dispatch goroutine may call this.
func (r *Relay) closeConn(c *Conn) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	c.sessionID = ""
	r.tracker.Leave(c.ID)
	delete(r.conns, c.ID)
	atomic.AddInt64(&r.numConns, -1)
	close(c.send)
	logger.Info().Str("conn", c.ID).Msg("client disconnected")
}
