// Package node implements the mesh runtime's process-local coordinator: it
// owns the four topic tables, wires Discovery events to Data Transport, and
// fans inbound datagrams out to local subscriber callbacks.
package node

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kestrelmesh/meshrt/internal/discovery"
	"github.com/kestrelmesh/meshrt/internal/transport"
)

// lifecycle states, per spec: created -> running -> stopped (terminal).
const (
	stateCreated = iota
	stateRunning
	stateStopped
)

// DataCallback is invoked once per inbound datagram for a subscribed topic.
type DataCallback func(topic string, payload []byte)

// RemoteEndpoint identifies another node's data-transport address for one
// topic.
type RemoteEndpoint struct {
	NodeID string
	IP     string
	Port   int
}

// Node is the process-local pub/sub coordinator described in spec §4.3. The
// zero value is not usable; construct with New.
type Node struct {
	nodeName string
	nodeID   string

	transport *transport.Transport
	discovery *discovery.Discovery

	mu                    sync.Mutex
	localPublishers       map[string]struct{}
	localSubscribers      map[string][]DataCallback
	localSubscribedTopics map[string]struct{}
	remoteSubscribers     map[string][]RemoteEndpoint

	state atomic.Int32

	logger *slog.Logger

	onPeerDiscovered func()
}

// SetOnPeerDiscovered wires an optional hook invoked once per newly learned
// remote-subscriber endpoint (not on duplicate SUB_ANNOUNCEs). nil disables
// it. Intended for an external counter.
func (n *Node) SetOnPeerDiscovered(fn func()) {
	n.mu.Lock()
	n.onPeerDiscovered = fn
	n.mu.Unlock()
}

// Publisher is a non-owning handle bound to one topic on one Node. Publish
// is a silent no-op once the owning Node has stopped.
type Publisher struct {
	node  *Node
	topic string
}

// Subscriber is a non-owning handle bound to one topic on one Node. The
// subscription itself lives in the Node's local_subscribers map; dropping a
// Subscriber value does not remove it (spec §9, open question left
// unresolved deliberately: no unsubscribe).
type Subscriber struct {
	node  *Node
	topic string
}

// New creates a Node bound to dataPort (0 = ephemeral) and the given
// multicast discovery group/port (empty/0 = spec defaults).
func New(nodeName string, dataPort int, mcastGroup string, mcastPort int, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	id, err := generateNodeID(nodeName)
	if err != nil {
		return nil, fmt.Errorf("node: generate id: %w", err)
	}

	tr, err := transport.New(dataPort, logger)
	if err != nil {
		return nil, fmt.Errorf("node: create transport: %w", err)
	}

	n := &Node{
		nodeName:              nodeName,
		nodeID:                id,
		transport:             tr,
		discovery:             discovery.New(mcastGroup, mcastPort, logger),
		localPublishers:       make(map[string]struct{}),
		localSubscribers:      make(map[string][]DataCallback),
		localSubscribedTopics: make(map[string]struct{}),
		remoteSubscribers:     make(map[string][]RemoteEndpoint),
		logger:                logger.With("component", "node", "node_id", id),
	}
	return n, nil
}

// NodeID returns this node's unique identifier.
func (n *Node) NodeID() string { return n.nodeID }

// Transport exposes the Node's Data Transport, letting callers wire
// instrumentation hooks before Start.
func (n *Node) Transport() *transport.Transport { return n.transport }

// Discovery exposes the Node's Discovery endpoint, letting callers wire
// instrumentation hooks before Start.
func (n *Node) Discovery() *discovery.Discovery { return n.discovery }

// DataPort returns the local data-transport port, useful once dataPort was
// requested as ephemeral (0).
func (n *Node) DataPort() int { return n.transport.LocalPort() }

// Start begins the transport and discovery receive loops. Idempotent: a
// second call is a no-op.
func (n *Node) Start() error {
	if !n.state.CompareAndSwap(stateCreated, stateRunning) {
		return nil
	}

	if err := n.discovery.Start(n.handleDiscoveryEvent); err != nil {
		n.state.Store(stateCreated)
		return fmt.Errorf("node: start discovery: %w", err)
	}
	n.transport.Start(n.handleDataMessage)

	n.logger.Info("node started", "data_port", n.transport.LocalPort())
	return nil
}

// Stop halts both receive loops. Idempotent; a Node that was never started
// or is already stopped is unaffected.
func (n *Node) Stop() {
	if !n.state.CompareAndSwap(stateRunning, stateStopped) {
		return
	}
	n.transport.Stop()
	n.discovery.Stop()
	n.logger.Info("node stopped")
}

// CreatePublisher registers topic as locally published and announces it,
// returning a handle good for the Node's lifetime.
func (n *Node) CreatePublisher(topic string) *Publisher {
	n.mu.Lock()
	n.localPublishers[topic] = struct{}{}
	n.mu.Unlock()

	n.announce(discovery.PubAnnounce, topic)
	return &Publisher{node: n, topic: topic}
}

// CreateSubscriber appends cb to topic's local subscriber list (in
// registration order), announces the subscription, and returns a handle.
func (n *Node) CreateSubscriber(topic string, cb DataCallback) *Subscriber {
	n.mu.Lock()
	n.localSubscribers[topic] = append(n.localSubscribers[topic], cb)
	n.localSubscribedTopics[topic] = struct{}{}
	n.mu.Unlock()

	n.announce(discovery.SubAnnounce, topic)
	return &Subscriber{node: n, topic: topic}
}

// Publish sends payload to every known remote subscriber of p's topic. A
// no-op if the owning Node is nil, has stopped, or has no known subscribers.
func (p *Publisher) Publish(payload []byte) {
	if p.node == nil || p.node.state.Load() == stateStopped {
		return
	}
	p.node.publishRaw(p.topic, payload)
}

// Topic returns the topic this publisher was created for.
func (p *Publisher) Topic() string { return p.topic }

// Topic returns the topic this subscriber was created for.
func (s *Subscriber) Topic() string { return s.topic }

func (n *Node) publishRaw(topic string, payload []byte) {
	n.mu.Lock()
	endpoints := append([]RemoteEndpoint(nil), n.remoteSubscribers[topic]...)
	n.mu.Unlock()

	for _, ep := range endpoints {
		if err := n.transport.SendTo(ep.IP, ep.Port, topic, payload); err != nil {
			n.logger.Error("publish send failed", "topic", topic, "to", ep.NodeID, "error", err)
		}
	}
}

func (n *Node) announce(msgType, topic string) {
	evt := discovery.Event{
		MsgType:  msgType,
		Topic:    topic,
		NodeID:   n.nodeID,
		IP:       "",
		DataPort: uint16(n.transport.LocalPort()),
	}
	if err := n.discovery.SendAnnounce(evt); err != nil {
		n.logger.Warn("announce failed", "msg_type", msgType, "topic", topic, "error", err)
	}
}

// handleDiscoveryEvent implements the rendezvous logic of spec §4.3: drop
// self-echo, upsert remote subscribers on SUB_ANNOUNCE, rebound on
// PUB_ANNOUNCE.
func (n *Node) handleDiscoveryEvent(evt discovery.Event) {
	if evt.NodeID == n.nodeID {
		return
	}

	switch evt.MsgType {
	case discovery.SubAnnounce:
		n.mu.Lock()
		_, isPublisher := n.localPublishers[evt.Topic]
		added := false
		if isPublisher {
			added = n.upsertRemoteSubscriberLocked(evt.Topic, RemoteEndpoint{
				NodeID: evt.NodeID,
				IP:     evt.IP,
				Port:   int(evt.DataPort),
			})
		}
		hook := n.onPeerDiscovered
		n.mu.Unlock()
		if added && hook != nil {
			hook()
		}

	case discovery.PubAnnounce:
		n.mu.Lock()
		_, subscribed := n.localSubscribedTopics[evt.Topic]
		n.mu.Unlock()
		if subscribed {
			n.announce(discovery.SubAnnounce, evt.Topic)
		}
	}
}

// upsertRemoteSubscriberLocked must be called with n.mu held. Reports
// whether ep was newly added (false for a duplicate node_id).
func (n *Node) upsertRemoteSubscriberLocked(topic string, ep RemoteEndpoint) bool {
	list := n.remoteSubscribers[topic]
	for _, existing := range list {
		if existing.NodeID == ep.NodeID {
			return false
		}
	}
	n.remoteSubscribers[topic] = append(list, ep)
	return true
}

func (n *Node) handleDataMessage(msg transport.TopicMessage) {
	n.mu.Lock()
	callbacks := append([]DataCallback(nil), n.localSubscribers[msg.Topic]...)
	n.mu.Unlock()

	for _, cb := range callbacks {
		cb(msg.Topic, msg.Payload)
	}
}

// Stats returns a point-in-time snapshot of Node bookkeeping, suitable for
// feeding a telemetry reporter.
func (n *Node) Stats() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()

	remoteCount := 0
	for _, eps := range n.remoteSubscribers {
		remoteCount += len(eps)
	}

	return map[string]any{
		"node_id":            n.nodeID,
		"node_name":          n.nodeName,
		"local_publishers":   len(n.localPublishers),
		"local_subscribers":  len(n.localSubscribers),
		"remote_subscribers": remoteCount,
		"data_port":          n.transport.LocalPort(),
	}
}

func generateNodeID(nodeName string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", nodeName, hex.EncodeToString(buf)), nil
}
