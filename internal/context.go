package internal

import (
	"context"

	"github.com/rs/zerolog"
)

type ctx string

var (
	ctxData ctx = "codeshare_data"
)

// logging metadata for a single relay connection or lifecycle request
type data struct {
	connID    string
	sessionID string
	numEvents int
}

// prepare a context so it can carry codeshare connection info
func ConnContext(ctx context.Context) context.Context {
	d := &data{
		numEvents: -1,
	}
	return context.WithValue(ctx, ctxData, d)
}

// add the connection ID to this context. Need to have called ConnContext first.
func SetContextConnID(ctx context.Context, connID string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.connID = connID
}

// add the session ID this connection is joined to. Need to have called ConnContext first.
func SetContextSessionID(ctx context.Context, sessionID string) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.sessionID = sessionID
}

func SetContextNumEvents(ctx context.Context, numEvents int) {
	d := ctx.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.numEvents = numEvents
}

func DecorateLogger(ctx context.Context, l *zerolog.Event) *zerolog.Event {
	d := ctx.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	if da.connID != "" {
		l = l.Str("c", da.connID)
	}
	if da.sessionID != "" {
		l = l.Str("s", da.sessionID)
	}
	if da.numEvents >= 0 {
		l = l.Int("n", da.numEvents)
	}
	return l
}
