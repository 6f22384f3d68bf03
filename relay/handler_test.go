package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/codeshare-dev/codeshare/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	store := session.NewStore(0)
	r := NewRelay(store)
	r.Start()
	srv := httptest.NewServer(NewHandler(r))
	t.Cleanup(func() {
		srv.Close()
		r.Close()
	})
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial %s: %s", wsURL, err)
	}
	t.Cleanup(func() {
		ws.Close()
	})
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) gjson.Result {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %s", err)
	}
	return gjson.ParseBytes(data)
}

func writeFrame(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage(%s): %s", frame, err)
	}
}

func TestHandlerJoinEditFlow(t *testing.T) {
	srv, store := newTestServer(t)
	sessionID := store.Create()

	x := dial(t, srv)
	writeFrame(t, x, `{"type":"join","session_id":"`+sessionID+`"}`)
	frame := readFrame(t, x)
	if frame.Get("type").Str != EventInit || frame.Get("document").Str != "" {
		t.Fatalf("joiner init: got %s", frame.Raw)
	}

	y := dial(t, srv)
	writeFrame(t, y, `{"type":"join","session_id":"`+sessionID+`"}`)
	readFrame(t, y)

	writeFrame(t, x, `{"type":"edit","session_id":"`+sessionID+`","content":"x = 1"}`)
	frame = readFrame(t, y)
	if frame.Get("type").Str != EventEdit || frame.Get("content").Str != "x = 1" {
		t.Fatalf("broadcast: got %s", frame.Raw)
	}

	sess, err := store.Get(sessionID)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if sess.Document != "x = 1" {
		t.Errorf("stored document: got %q want %q", sess.Document, "x = 1")
	}
}

func TestHandlerSurvivesHostileFrames(t *testing.T) {
	srv, store := newTestServer(t)
	sessionID := store.Create()

	hostile := dial(t, srv)
	if err := hostile.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("WriteMessage binary: %s", err)
	}
	writeFrame(t, hostile, `{{{{`)
	writeFrame(t, hostile, `{"type":"edit"}`)

	// the same connection is still usable afterwards
	writeFrame(t, hostile, `{"type":"join","session_id":"`+sessionID+`"}`)
	frame := readFrame(t, hostile)
	if frame.Get("type").Str != EventInit {
		t.Fatalf("init after hostile frames: got %s", frame.Raw)
	}
}

func TestHandlerDisconnectCleansUp(t *testing.T) {
	srv, store := newTestServer(t)
	sessionID := store.Create()

	x := dial(t, srv)
	writeFrame(t, x, `{"type":"join","session_id":"`+sessionID+`"}`)
	readFrame(t, x)
	y := dial(t, srv)
	writeFrame(t, y, `{"type":"join","session_id":"`+sessionID+`"}`)
	readFrame(t, y)

	x.Close()
	// y still receives edits from a third member after x is gone
	z := dial(t, srv)
	writeFrame(t, z, `{"type":"join","session_id":"`+sessionID+`"}`)
	readFrame(t, z)
	writeFrame(t, z, `{"type":"edit","session_id":"`+sessionID+`","content":"after x left"}`)
	frame := readFrame(t, y)
	if frame.Get("content").Str != "after x left" {
		t.Fatalf("broadcast after disconnect: got %s", frame.Raw)
	}
}
