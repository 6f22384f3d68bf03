package relay

import (
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Wire event types. All frames are plain JSON text: no versioning field, no
// compression.
const (
	EventJoin = "join"
	EventInit = "init"
	EventEdit = "edit"
)

var errMalformedEvent = errors.New("malformed event")

// inboundEvent is a client->server frame that passed validation.
type inboundEvent struct {
	Type      string
	SessionID string
	Content   string
	// the frame exactly as the client sent it
	raw []byte
}

// parseEvent validates an inbound frame. Anything unexpected - invalid JSON,
// an unknown type, a missing or wrong-shaped field - yields errMalformedEvent
// and the frame is dropped. Hostile input must never get further than this.
func parseEvent(data []byte) (*inboundEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, errMalformedEvent
	}
	parsed := gjson.ParseBytes(data)
	evType := parsed.Get("type")
	if evType.Type != gjson.String {
		return nil, errMalformedEvent
	}
	ev := &inboundEvent{
		Type: evType.Str,
		raw:  data,
	}
	switch ev.Type {
	case EventJoin:
		sessionID := parsed.Get("session_id")
		if sessionID.Type != gjson.String {
			return nil, errMalformedEvent
		}
		ev.SessionID = sessionID.Str
	case EventEdit:
		sessionID := parsed.Get("session_id")
		content := parsed.Get("content")
		if sessionID.Type != gjson.String || content.Type != gjson.String {
			return nil, errMalformedEvent
		}
		ev.SessionID = sessionID.Str
		ev.Content = content.Str
	default:
		return nil, errMalformedEvent
	}
	return ev, nil
}

// initEvent builds the snapshot frame sent to a joiner, carrying the session's
// current document.
func initEvent(document string) []byte {
	frame, err := sjson.SetBytes([]byte(`{"type":"init"}`), "document", document)
	if err != nil {
		// document is a plain string; Set cannot fail on it
		panic(err)
	}
	return frame
}

// broadcastEvent rewrites a validated inbound edit frame into the form relayed
// to the rest of the room: the session id is stripped, the content passes
// through exactly as the sender encoded it.
func broadcastEvent(raw []byte) []byte {
	frame, err := sjson.DeleteBytes(raw, "session_id")
	if err != nil {
		return raw
	}
	return frame
}
