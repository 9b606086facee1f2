// Package transport implements the unicast UDP data plane: length-prefixed
// topic framing over a single OS-assigned socket.
package transport

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// MaxDatagramSize is the largest UDP datagram this transport will send or
// accept, including the topic-length header and topic bytes.
const MaxDatagramSize = 65535

// headerSize is the width of the little-endian topic-length prefix.
const headerSize = 4

// TopicMessage is an inbound data datagram, decoded and attributed to its
// sender.
type TopicMessage struct {
	Topic      string
	Payload    []byte
	RemoteIP   string
	RemotePort int
}

// ReceiveFunc is invoked once per successfully decoded inbound datagram, on
// the transport's single receive goroutine.
type ReceiveFunc func(TopicMessage)

// Transport is a UDP endpoint bound to an OS-assigned (or explicit) port.
// Send may be called from any goroutine; the receive loop runs on one
// goroutine spawned by Start.
type Transport struct {
	conn      *net.UDPConn
	localPort int

	running atomic.Bool
	done    chan struct{}

	logger *slog.Logger

	onSend      func()
	onReceive   func()
	onMalformed func()
}

// SetHooks wires optional counters into the transport's send/receive path.
// Any of onSend, onReceive, onMalformed may be nil. Must be called before
// Start to observe the receive-side hooks.
func (t *Transport) SetHooks(onSend, onReceive, onMalformed func()) {
	t.onSend = onSend
	t.onReceive = onReceive
	t.onMalformed = onMalformed
}

// New binds a UDP socket on the given port (0 for an ephemeral port).
func New(port int, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	return &Transport{
		conn:      conn,
		localPort: conn.LocalAddr().(*net.UDPAddr).Port,
		done:      make(chan struct{}),
		logger:    logger.With("component", "transport"),
	}, nil
}

// LocalPort returns the bound UDP port.
func (t *Transport) LocalPort() int {
	return t.localPort
}

// Start begins the receive loop, delivering decoded messages to fn on a
// single dedicated goroutine until Stop is called.
func (t *Transport) Start(fn ReceiveFunc) {
	t.running.Store(true)
	go t.receiveLoop(fn)
}

// Stop halts the receive loop and closes the socket. Idempotent.
func (t *Transport) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.done)
	t.conn.Close()
}

// SendTo encodes topic+payload and sends a single datagram. Safe to call
// concurrently with Start/receiveLoop and from any goroutine.
func (t *Transport) SendTo(ip string, port int, topic string, payload []byte) error {
	buf, err := encode(topic, payload)
	if err != nil {
		return err
	}

	dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if _, err := t.conn.WriteToUDP(buf, dst); err != nil {
		t.logger.Error("send failed", "topic", topic, "dst", dst, "error", err)
		return fmt.Errorf("transport: send to %s: %w", dst, err)
	}
	if t.onSend != nil {
		t.onSend()
	}
	return nil
}

func (t *Transport) receiveLoop(fn ReceiveFunc) {
	buf := make([]byte, MaxDatagramSize)
	for t.running.Load() {
		t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if !t.running.Load() {
				return
			}
			continue
		}

		msg, ok := decode(buf[:n])
		if !ok {
			t.logger.Warn("dropped malformed datagram", "from", remote, "bytes", n)
			if t.onMalformed != nil {
				t.onMalformed()
			}
			continue
		}
		msg.RemoteIP = remote.IP.String()
		msg.RemotePort = remote.Port
		if t.onReceive != nil {
			t.onReceive()
		}
		fn(msg)
	}
}

// encode produces the wire frame: u32 LE topic length, topic bytes, payload.
func encode(topic string, payload []byte) ([]byte, error) {
	topicBytes := []byte(topic)
	total := headerSize + len(topicBytes) + len(payload)
	if total > MaxDatagramSize {
		return nil, fmt.Errorf("transport: frame too large: %d bytes", total)
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf, uint32(len(topicBytes)))
	copy(buf[headerSize:], topicBytes)
	copy(buf[headerSize+len(topicBytes):], payload)
	return buf, nil
}

// decode parses the wire frame produced by encode. A datagram shorter than
// the header, or whose declared topic length overruns the buffer, is
// reported as malformed via the second return value.
func decode(data []byte) (TopicMessage, bool) {
	if len(data) < headerSize {
		return TopicMessage{}, false
	}

	topicLen := binary.LittleEndian.Uint32(data)
	if int(topicLen) > len(data)-headerSize {
		return TopicMessage{}, false
	}

	topic := string(data[headerSize : headerSize+int(topicLen)])
	payload := make([]byte, len(data)-headerSize-int(topicLen))
	copy(payload, data[headerSize+int(topicLen):])

	return TopicMessage{Topic: topic, Payload: payload}, true
}
