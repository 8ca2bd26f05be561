package bus

import (
	"encoding/json"
	"fmt"
	"sync"
)

type subscription struct {
	msgType string
	handler Handler
}

// Memory is an in-process Bus. Delivery is synchronous on the
// publisher's goroutine; subscriber handlers are snapshotted under the
// lock and invoked outside it.
type Memory struct {
	mu         sync.RWMutex
	advertised map[string]string
	subs       map[string][]subscription
	closed     bool
}

func NewMemory() *Memory {
	return &Memory{
		advertised: make(map[string]string),
		subs:       make(map[string][]subscription),
	}
}

func (m *Memory) Advertise(topic, msgType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if existing, ok := m.advertised[topic]; ok && existing != msgType {
		return fmt.Errorf("advertise %s as %s: %w (already %s)", topic, msgType, ErrTypeMismatch, existing)
	}
	m.advertised[topic] = msgType
	return nil
}

func (m *Memory) Unadvertise(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.advertised, topic)
	return nil
}

func (m *Memory) Subscribe(topic, msgType string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if existing, ok := m.advertised[topic]; ok && existing != msgType {
		return fmt.Errorf("subscribe %s as %s: %w (advertised %s)", topic, msgType, ErrTypeMismatch, existing)
	}
	m.subs[topic] = append(m.subs[topic], subscription{msgType: msgType, handler: h})
	return nil
}

func (m *Memory) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, topic)
	return nil
}

func (m *Memory) Publish(topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	if _, ok := m.advertised[topic]; !ok {
		m.mu.RUnlock()
		return fmt.Errorf("publish %s: %w", topic, ErrNotAdvertised)
	}
	handlers := make([]Handler, 0, len(m.subs[topic]))
	for _, s := range m.subs[topic] {
		handlers = append(handlers, s.handler)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string][]subscription)
	m.advertised = make(map[string]string)
	return nil
}
