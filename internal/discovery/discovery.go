// Package discovery implements multicast peer-discovery announce/listen for
// the mesh runtime: a single UDP socket joined to a multicast group,
// exchanging JSON-encoded PUB_ANNOUNCE/SUB_ANNOUNCE events.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// Message types, per the wire contract.
const (
	PubAnnounce = "PUB_ANNOUNCE"
	SubAnnounce = "SUB_ANNOUNCE"
)

// Default network parameters (spec §6): link-local multicast, fixed port.
const (
	DefaultGroup        = "239.255.0.1"
	DefaultPort         = 7500
	maxDiscoveryMessage = 4096
)

// Event is a single discovery announcement, encoded verbatim as JSON on the
// wire.
type Event struct {
	MsgType  string `json:"msg_type"`
	Topic    string `json:"topic"`
	NodeID   string `json:"node_id"`
	IP       string `json:"ip"`
	DataPort uint16 `json:"data_port"`
}

// EventFunc is invoked once per well-formed inbound event, on the
// discovery's single receive goroutine, after IP substitution has been
// applied.
type EventFunc func(Event)

// Discovery manages the multicast announce/listen socket.
type Discovery struct {
	group string
	port  int

	conn *net.UDPConn

	running atomic.Bool
	done    chan struct{}

	logger *slog.Logger

	onPeerEvent func()
	onMalformed func()
}

// SetHooks wires optional counters into the discovery receive path. Either
// argument may be nil. Must be called before Start to take effect.
func (d *Discovery) SetHooks(onPeerEvent, onMalformed func()) {
	d.onPeerEvent = onPeerEvent
	d.onMalformed = onMalformed
}

// New creates a Discovery bound to the given multicast group/port. An empty
// group or zero port falls back to the spec defaults.
func New(group string, port int, logger *slog.Logger) *Discovery {
	if group == "" {
		group = DefaultGroup
	}
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		group:  group,
		port:   port,
		done:   make(chan struct{}),
		logger: logger.With("component", "discovery"),
	}
}

// Start joins the multicast group and begins the receive loop, delivering
// well-formed events to fn.
func (d *Discovery) Start(fn EventFunc) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
		IP:   net.ParseIP(d.group),
		Port: d.port,
	})
	if err != nil {
		return fmt.Errorf("discovery: join multicast %s:%d: %w", d.group, d.port, err)
	}
	d.conn = conn
	d.running.Store(true)

	go d.receiveLoop(fn)
	return nil
}

// Stop leaves the multicast group and halts the receive loop. Idempotent.
func (d *Discovery) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.done)
	d.conn.Close()
}

// SendAnnounce encodes and multicasts a discovery event. May be called from
// any goroutine.
func (d *Discovery) SendAnnounce(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("discovery: marshal event: %w", err)
	}

	if d.conn == nil || !d.running.Load() {
		return fmt.Errorf("discovery: not started")
	}

	// ListenMulticastUDP turns multicast loopback off on the listening
	// socket, so announces go out through a separate socket that keeps the
	// default (loopback on) and so also reach nodes on this host.
	dst := &net.UDPAddr{IP: net.ParseIP(d.group), Port: d.port}
	out, err := net.DialUDP("udp4", nil, dst)
	if err == nil {
		defer out.Close()
		_, err = out.Write(data)
	}
	if err != nil {
		d.logger.Error("announce send failed", "error", err)
		return fmt.Errorf("discovery: send announce: %w", err)
	}
	return nil
}

func (d *Discovery) receiveLoop(fn EventFunc) {
	buf := make([]byte, maxDiscoveryMessage)
	for d.running.Load() {
		d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if !d.running.Load() {
				return
			}
			continue
		}

		evt, ok := decode(buf[:n])
		if !ok {
			d.logger.Warn("dropped malformed discovery datagram", "from", remote, "bytes", n)
			if d.onMalformed != nil {
				d.onMalformed()
			}
			continue
		}

		// The sender may leave ip blank or "0.0.0.0" and rely on the
		// receiver substituting the observed source address.
		if evt.IP == "" || evt.IP == "0.0.0.0" {
			evt.IP = remote.IP.String()
		}
		if d.onPeerEvent != nil {
			d.onPeerEvent()
		}
		fn(evt)
	}
}

func decode(data []byte) (Event, bool) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, false
	}
	if evt.MsgType == "" || evt.Topic == "" || evt.NodeID == "" {
		return Event{}, false
	}
	return evt, true
}
