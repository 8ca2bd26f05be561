// Package bus is the pub/sub transport boundary. The bridge core only
// sees the Bus interface; payloads are JSON-encoded at this boundary so
// in-process and networked transports carry identical bytes.
package bus

import "errors"

var (
	ErrNotAdvertised = errors.New("topic not advertised")
	ErrTypeMismatch  = errors.New("message type mismatch")
	ErrClosed        = errors.New("bus closed")
)

// Handler receives the encoded payload of one message. Handlers may be
// invoked from transport goroutines; subscribers that feed a control
// loop must latch into their own queue rather than act in place.
type Handler func(data []byte)

type Bus interface {
	// Advertise registers intent to publish msgType on topic.
	Advertise(topic, msgType string) error
	// Unadvertise drops a prior Advertise. Unknown topics are a no-op.
	Unadvertise(topic string) error
	// Publish encodes msg as JSON and delivers it to subscribers.
	Publish(topic string, msg any) error
	// Subscribe registers a handler for topic. The msgType must match
	// what publishers advertise.
	Subscribe(topic, msgType string, h Handler) error
	// Unsubscribe removes all handlers this Bus holds for topic.
	Unsubscribe(topic string) error
	Close() error
}
