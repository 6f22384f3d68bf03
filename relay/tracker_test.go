package relay

import (
	"sort"
	"testing"
)

func TestTracker(t *testing.T) {
	// basic usage
	rt := NewRoomTracker()
	rt.Join("c1", "s1")
	rt.Join("c2", "s1")
	rt.Join("c3", "s2")
	assertEqualSlices(t, "conns in s1", rt.Conns("s1"), []string{"c1", "c2"})
	assertEqualSlices(t, "conns in s2", rt.Conns("s2"), []string{"c3"})
	if got := rt.NumRooms(); got != 2 {
		t.Errorf("NumRooms: got %v want 2", got)
	}

	// a connection is in at most one room
	if rt.Join("c1", "s2") {
		t.Errorf("Join: second join for c1 succeeded, want rejection")
	}
	assertEqualSlices(t, "conns in s2 after rejected join", rt.Conns("s2"), []string{"c3"})
	if sessionID, _ := rt.Room("c1"); sessionID != "s1" {
		t.Errorf("Room(c1): got %v want s1", sessionID)
	}

	// leave
	sessionID, ok := rt.Leave("c1")
	if !ok || sessionID != "s1" {
		t.Errorf("Leave(c1): got (%v, %v) want (s1, true)", sessionID, ok)
	}
	assertEqualSlices(t, "conns in s1 after leave", rt.Conns("s1"), []string{"c2"})
	// leaving again is a no-op
	if _, ok := rt.Leave("c1"); ok {
		t.Errorf("second Leave(c1) reported membership")
	}

	// bogus values
	assertEqualSlices(t, "conns for unknown session", rt.Conns("unknown"), nil)
	if _, ok := rt.Room("unknown"); ok {
		t.Errorf("Room(unknown) reported membership")
	}

	// empty rooms are dropped
	rt.Leave("c2")
	if got := rt.NumRooms(); got != 1 {
		t.Errorf("NumRooms after s1 emptied: got %v want 1", got)
	}
}

func TestTrackerRemoveRoom(t *testing.T) {
	rt := NewRoomTracker()
	rt.Join("c1", "s1")
	rt.Join("c2", "s1")
	rt.Join("c3", "s2")
	assertEqualSlices(t, "removed members", rt.RemoveRoom("s1"), []string{"c1", "c2"})
	if _, ok := rt.Room("c1"); ok {
		t.Errorf("c1 still has a room after RemoveRoom")
	}
	assertEqualSlices(t, "s2 untouched", rt.Conns("s2"), []string{"c3"})
	assertEqualSlices(t, "removing an unknown room", rt.RemoveRoom("unknown"), nil)
}

func assertEqualSlices(t *testing.T, name string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: slices not equal, length mismatch: got %v , want %v", name, got, want)
	}
	sort.Strings(got)
	sort.Strings(want)
	for i := 0; i < len(got); i++ {
		if got[i] != want[i] {
			t.Errorf("%s: slices not equal, got %v want %v", name, got, want)
		}
	}
}
