package discovery

import (
	"encoding/json"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	d := New("", 0, nil)
	if d.group != DefaultGroup {
		t.Errorf("group = %s, want %s", d.group, DefaultGroup)
	}
	if d.port != DefaultPort {
		t.Errorf("port = %d, want %d", d.port, DefaultPort)
	}
}

func TestNew_CustomValues(t *testing.T) {
	d := New("239.1.1.1", 8888, nil)
	if d.group != "239.1.1.1" {
		t.Errorf("group = %s", d.group)
	}
	if d.port != 8888 {
		t.Errorf("port = %d", d.port)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	evt := Event{MsgType: PubAnnounce, Topic: "chat", NodeID: "n1", IP: "10.0.0.5", DataPort: 9000}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, ok := decode(data)
	if !ok {
		t.Fatal("decode reported malformed for well-formed event")
	}
	if got != evt {
		t.Errorf("decode = %+v, want %+v", got, evt)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, ok := decode([]byte("not json")); ok {
		t.Error("decode should reject malformed JSON")
	}
}

func TestDecode_MissingFields(t *testing.T) {
	data, _ := json.Marshal(Event{MsgType: PubAnnounce})
	if _, ok := decode(data); ok {
		t.Error("decode should reject events missing topic/node_id")
	}
}

func TestSendAnnounce_NotStarted(t *testing.T) {
	d := New("", 0, nil)
	if err := d.SendAnnounce(Event{MsgType: PubAnnounce, Topic: "t", NodeID: "n"}); err == nil {
		t.Error("SendAnnounce before Start should return an error")
	}
}

func TestStop_BeforeStart_NoPanic(t *testing.T) {
	d := New("", 0, nil)
	d.Stop() // not running; must be a no-op, not a panic
}

func TestSetHooks_StoresCallbacks(t *testing.T) {
	d := New("", 0, nil)
	peerCalls, malformedCalls := 0, 0
	d.SetHooks(func() { peerCalls++ }, func() { malformedCalls++ })

	d.onPeerEvent()
	d.onMalformed()

	if peerCalls != 1 || malformedCalls != 1 {
		t.Errorf("peerCalls=%d malformedCalls=%d, want 1 and 1", peerCalls, malformedCalls)
	}
}
