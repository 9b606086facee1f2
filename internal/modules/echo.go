// Package modules holds the example registry.Module implementations shipped
// with cmd/meshd, analogous to the source's excomm_pub/excomm_sub sandbox
// applications: a periodic publisher and a logging subscriber.
package modules

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelmesh/meshrt/internal/node"
	"github.com/kestrelmesh/meshrt/internal/registry"
	"github.com/kestrelmesh/meshrt/internal/scheduler"
)

// EchoPublisher publishes an incrementing counter on Topic every Interval.
type EchoPublisher struct {
	topic    string
	interval time.Duration
	node     *node.Node
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// NewEchoPublisher constructs an EchoPublisher registry.Creator bound to n
// and sched.
func NewEchoPublisher(n *node.Node, sched *scheduler.Scheduler, logger *slog.Logger) registry.Creator {
	return func(cfg registry.Config) (registry.Module, error) {
		topic, _ := cfg["topic"].(string)
		if topic == "" {
			topic = "echo"
		}
		interval := 1000 * time.Millisecond
		if ms, ok := cfg["interval_ms"].(int); ok && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
		if logger == nil {
			logger = slog.Default()
		}
		return &EchoPublisher{topic: topic, interval: interval, node: n, sched: sched, logger: logger.With("module", "echo-publisher")}, nil
	}
}

func (m *EchoPublisher) Name() string { return "echo-publisher" }

// Run registers a publisher and a periodic task, returning immediately; the
// publishing happens on the Scheduler's own goroutine.
func (m *EchoPublisher) Run() error {
	pub := m.node.CreatePublisher(m.topic)

	var counter uint64
	m.sched.AddPeriodic("echo-publish:"+m.topic, m.interval, func() {
		counter++
		payload := []byte(fmt.Sprintf("%d", counter))
		m.logger.Debug("publishing", "topic", m.topic, "seq", counter)
		pub.Publish(payload)
	})
	return nil
}

// EchoSubscriber logs every payload received on Topic.
type EchoSubscriber struct {
	topic  string
	node   *node.Node
	logger *slog.Logger
}

// NewEchoSubscriber constructs an EchoSubscriber registry.Creator bound to n.
func NewEchoSubscriber(n *node.Node, logger *slog.Logger) registry.Creator {
	return func(cfg registry.Config) (registry.Module, error) {
		topic, _ := cfg["topic"].(string)
		if topic == "" {
			topic = "echo"
		}
		if logger == nil {
			logger = slog.Default()
		}
		return &EchoSubscriber{topic: topic, node: n, logger: logger.With("module", "echo-subscriber")}, nil
	}
}

func (m *EchoSubscriber) Name() string { return "echo-subscriber" }

// Run registers the subscriber callback and returns immediately; delivery
// happens on the Node's data-transport receive goroutine.
func (m *EchoSubscriber) Run() error {
	m.node.CreateSubscriber(m.topic, func(topic string, payload []byte) {
		m.logger.Info("received", "topic", topic, "payload", string(payload))
	})
	return nil
}
