package relay

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseEvent(t *testing.T) {
	testCases := []struct {
		name          string
		frame         string
		wantErr       bool
		wantType      string
		wantSessionID string
		wantContent   string
	}{
		{
			name:          "valid join",
			frame:         `{"type":"join","session_id":"s1"}`,
			wantType:      EventJoin,
			wantSessionID: "s1",
		},
		{
			name:          "valid edit",
			frame:         `{"type":"edit","session_id":"s1","content":"print(1)"}`,
			wantType:      EventEdit,
			wantSessionID: "s1",
			wantContent:   "print(1)",
		},
		{
			name:          "edit with empty content",
			frame:         `{"type":"edit","session_id":"s1","content":""}`,
			wantType:      EventEdit,
			wantSessionID: "s1",
			wantContent:   "",
		},
		{
			// the id check is the relay's job, the shape is ours
			name:          "join with empty session id",
			frame:         `{"type":"join","session_id":""}`,
			wantType:      EventJoin,
			wantSessionID: "",
		},
		{name: "not json", frame: `edit s1 pls`, wantErr: true},
		{name: "empty frame", frame: ``, wantErr: true},
		{name: "no type", frame: `{"session_id":"s1"}`, wantErr: true},
		{name: "unknown type", frame: `{"type":"leave","session_id":"s1"}`, wantErr: true},
		{name: "server-only type", frame: `{"type":"init","document":"x"}`, wantErr: true},
		{name: "join without session id", frame: `{"type":"join"}`, wantErr: true},
		{name: "join with null session id", frame: `{"type":"join","session_id":null}`, wantErr: true},
		{name: "join with numeric session id", frame: `{"type":"join","session_id":42}`, wantErr: true},
		{name: "edit without content", frame: `{"type":"edit","session_id":"s1"}`, wantErr: true},
		{name: "edit with object content", frame: `{"type":"edit","session_id":"s1","content":{}}`, wantErr: true},
		{name: "type is not a string", frame: `{"type":7}`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := parseEvent([]byte(tc.frame))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseEvent(%s): want error, got %+v", tc.frame, ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEvent(%s): %s", tc.frame, err)
			}
			if ev.Type != tc.wantType || ev.SessionID != tc.wantSessionID || ev.Content != tc.wantContent {
				t.Errorf("parseEvent(%s): got (%s, %s, %q) want (%s, %s, %q)",
					tc.frame, ev.Type, ev.SessionID, ev.Content, tc.wantType, tc.wantSessionID, tc.wantContent)
			}
		})
	}
}

func TestInitEvent(t *testing.T) {
	frame := gjson.ParseBytes(initEvent("print(1)\n"))
	if got := frame.Get("type").Str; got != EventInit {
		t.Errorf("type: got %s want %s", got, EventInit)
	}
	if got := frame.Get("document").Str; got != "print(1)\n" {
		t.Errorf("document: got %q want %q", got, "print(1)\n")
	}
}

func TestBroadcastEventStripsSessionID(t *testing.T) {
	raw := []byte(`{"type":"edit","session_id":"s1","content":"x = \"héllo\""}`)
	frame := gjson.ParseBytes(broadcastEvent(raw))
	if frame.Get("session_id").Exists() {
		t.Errorf("broadcast frame still carries session_id: %s", frame.Raw)
	}
	if got := frame.Get("content").Str; got != `x = "héllo"` {
		t.Errorf("content: got %q want %q", got, `x = "héllo"`)
	}
	if got := frame.Get("type").Str; got != EventEdit {
		t.Errorf("type: got %s want %s", got, EventEdit)
	}
}
