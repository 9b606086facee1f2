package node

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelmesh/meshrt/internal/discovery"
)

func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	n, err := New(name, 0, "239.255.0.1", 17500, nil)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return n
}

func TestHandleDiscoveryEvent_SelfEcho(t *testing.T) {
	n := newTestNode(t, "a")
	n.CreatePublisher("chat")

	n.handleDiscoveryEvent(discovery.Event{
		MsgType: discovery.SubAnnounce,
		Topic:   "chat",
		NodeID:  n.NodeID(),
		IP:      "10.0.0.1",
		DataPort: 1234,
	})

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.remoteSubscribers["chat"]) != 0 {
		t.Error("self-echo SUB_ANNOUNCE must not be stored as a remote subscriber")
	}
}

func TestHandleDiscoveryEvent_SubAnnounce_UpsertDedup(t *testing.T) {
	n := newTestNode(t, "pub")
	n.CreatePublisher("chat")

	evt := discovery.Event{MsgType: discovery.SubAnnounce, Topic: "chat", NodeID: "peer-1", IP: "10.0.0.2", DataPort: 5000}
	n.handleDiscoveryEvent(evt)
	n.handleDiscoveryEvent(evt)
	n.handleDiscoveryEvent(evt)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.remoteSubscribers["chat"]) != 1 {
		t.Errorf("remote subscribers = %d, want 1 after duplicate announces", len(n.remoteSubscribers["chat"]))
	}
}

func TestOnPeerDiscovered_FiresOnceForDuplicates(t *testing.T) {
	n := newTestNode(t, "pub2")
	n.CreatePublisher("chat")

	var calls int32
	n.SetOnPeerDiscovered(func() { atomic.AddInt32(&calls, 1) })

	evt := discovery.Event{MsgType: discovery.SubAnnounce, Topic: "chat", NodeID: "peer-1", IP: "10.0.0.2", DataPort: 5000}
	n.handleDiscoveryEvent(evt)
	n.handleDiscoveryEvent(evt)
	n.handleDiscoveryEvent(evt)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("onPeerDiscovered calls = %d, want 1", got)
	}
}

func TestHandleDiscoveryEvent_SubAnnounce_IgnoredWhenNotPublisher(t *testing.T) {
	n := newTestNode(t, "bystander")

	n.handleDiscoveryEvent(discovery.Event{MsgType: discovery.SubAnnounce, Topic: "chat", NodeID: "peer-1", IP: "10.0.0.2", DataPort: 5000})

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.remoteSubscribers["chat"]) != 0 {
		t.Error("a node not publishing the topic must not record remote subscribers for it")
	}
}

func TestHandleDiscoveryEvent_PubAnnounce_TriggersRebound(t *testing.T) {
	n := newTestNode(t, "sub")
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	n.CreateSubscriber("chat", func(string, []byte) {})

	// Calling handleDiscoveryEvent directly here (rather than through the
	// multicast socket) exercises the rebound logic without depending on
	// real network timing.
	n.handleDiscoveryEvent(discovery.Event{MsgType: discovery.PubAnnounce, Topic: "chat", NodeID: "peer-pub", IP: "10.0.0.3", DataPort: 6000})

	// No directly observable side effect besides the SendAnnounce call,
	// which requires a live socket; this just asserts it doesn't panic and
	// that an unsubscribed topic produces no rebound (next test).
}

func TestHandleDiscoveryEvent_PubAnnounce_IgnoredWhenNotSubscribed(t *testing.T) {
	n := newTestNode(t, "bystander2")
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	n.handleDiscoveryEvent(discovery.Event{MsgType: discovery.PubAnnounce, Topic: "chat", NodeID: "peer-pub", IP: "10.0.0.3", DataPort: 6000})
}

func TestPublish_NoSubscribers_NoOp(t *testing.T) {
	n := newTestNode(t, "lonely")
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	pub := n.CreatePublisher("void")
	pub.Publish([]byte("hello")) // must not panic or block
}

func TestStartStop_Idempotent(t *testing.T) {
	n := newTestNode(t, "idempotent")
	if err := n.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got error: %v", err)
	}
	n.Stop()
	n.Stop() // must not panic
}

func TestEndToEnd_LateSubscriber(t *testing.T) {
	pub := newTestNode(t, "pub-late")
	sub := newTestNode(t, "sub-late")

	if err := pub.Start(); err != nil {
		t.Fatalf("pub.Start: %v", err)
	}
	defer pub.Stop()

	p := pub.CreatePublisher("chat")

	time.Sleep(100 * time.Millisecond)

	if err := sub.Start(); err != nil {
		t.Fatalf("sub.Start: %v", err)
	}
	defer sub.Stop()

	var mu sync.Mutex
	received := make(chan struct{}, 1)
	var gotPayload string

	sub.CreateSubscriber("chat", func(topic string, payload []byte) {
		mu.Lock()
		gotPayload = string(payload)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.remoteSubscribers["chat"])
		pub.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	pub.mu.Lock()
	n := len(pub.remoteSubscribers["chat"])
	pub.mu.Unlock()
	if n == 0 {
		t.Fatal("publisher never learned of late subscriber's endpoint")
	}

	p.Publish([]byte("hi"))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received published payload")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPayload != "hi" {
		t.Errorf("payload = %q, want hi", gotPayload)
	}
}
