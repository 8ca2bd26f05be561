package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS adapts a NATS connection to the Bus interface so external
// control stacks can reach the bridge over the network. Advertise is
// bookkeeping only; NATS needs no registration to publish. Handlers run
// on the connection's delivery goroutine.
type NATS struct {
	conn *nats.Conn

	mu         sync.Mutex
	advertised map[string]string
	subs       map[string][]*nats.Subscription
	owned      bool
}

// DialNATS connects to url and wraps the connection. Close will close
// the connection.
func DialNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("simbridge"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	n := WrapNATS(conn)
	n.owned = true
	return n, nil
}

// WrapNATS adapts an existing connection without taking ownership of it.
func WrapNATS(conn *nats.Conn) *NATS {
	return &NATS{
		conn:       conn,
		advertised: make(map[string]string),
		subs:       make(map[string][]*nats.Subscription),
	}
}

// subject maps slash-separated topic names onto NATS dot subjects.
func subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

func (n *NATS) Advertise(topic, msgType string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.advertised[topic]; ok && existing != msgType {
		return fmt.Errorf("advertise %s as %s: %w (already %s)", topic, msgType, ErrTypeMismatch, existing)
	}
	n.advertised[topic] = msgType
	return nil
}

func (n *NATS) Unadvertise(topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.advertised, topic)
	return nil
}

func (n *NATS) Publish(topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := n.conn.Publish(subject(topic), data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(topic, msgType string, h Handler) error {
	sub, err := n.conn.Subscribe(subject(topic), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	n.mu.Lock()
	n.subs[topic] = append(n.subs[topic], sub)
	n.mu.Unlock()
	return nil
}

func (n *NATS) Unsubscribe(topic string) error {
	n.mu.Lock()
	subs := n.subs[topic]
	delete(n.subs, topic)
	n.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	for topic, subs := range n.subs {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		delete(n.subs, topic)
	}
	n.mu.Unlock()

	if n.owned {
		return n.conn.Drain()
	}
	return nil
}
