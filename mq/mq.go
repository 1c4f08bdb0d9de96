// Package mq contains the interface implemented by message-queue plugins
// and the registry that fans a message out to every configured one. The
// registry shape is a direct descendant of the push-notification plugin
// registry every message node used to reach external push providers:
// same Init/IsReady/Push/Stop lifecycle, repurposed from fan-out
// notifications to fan-out onto a durable queue.
package mq

import (
	"encoding/json"
	"fmt"
)

// Message is one business-significant envelope queued for a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler is implemented by one message-queue backend (e.g. Kafka).
type Handler interface {
	// Init configures the handler from its slice of the JSON config.
	Init(jsonconf string) error
	// IsReady reports whether Init succeeded and Push's channel is live.
	IsReady() bool
	// Push returns the channel the registry sends messages on. The
	// message is dropped if the channel is full; durability for a
	// dropped push still comes from the colocated log node, never from
	// this queue.
	Push() chan<- *Message
	// Stop releases the handler's resources. Messages still queued on
	// its channel are not drained.
	Stop()
}

type configEntry struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

var handlers map[string]Handler

// Register adds hnd under name. Called from a backend package's init().
func Register(name string, hnd Handler) {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	if hnd == nil {
		panic("mq: Register called with a nil handler")
	}
	if _, dup := handlers[name]; dup {
		panic("mq: Register called twice for " + name)
	}
	handlers[name] = hnd
}

// Init parses jsonconf as a list of {name, config} entries and
// initializes every registered handler named in it.
func Init(jsonconf string) error {
	var entries []configEntry
	if err := json.Unmarshal([]byte(jsonconf), &entries); err != nil {
		return fmt.Errorf("mq: parse config: %w", err)
	}
	for _, e := range entries {
		hnd, ok := handlers[e.Name]
		if !ok {
			continue
		}
		if err := hnd.Init(string(e.Config)); err != nil {
			return fmt.Errorf("mq: init %s: %w", e.Name, err)
		}
	}
	return nil
}

// Registry implements msgnode.MQProducer, multicasting every push to
// each ready handler without blocking the caller.
type Registry struct{}

// Push sends msg to every ready handler's channel, dropping it for any
// handler whose channel is currently full.
func (Registry) Push(topic string, payload []byte) error {
	if handlers == nil {
		return nil
	}
	msg := &Message{Topic: topic, Payload: payload}
	for _, hnd := range handlers {
		if !hnd.IsReady() {
			continue
		}
		select {
		case hnd.Push() <- msg:
		default:
		}
	}
	return nil
}

// Stop stops every ready handler.
func Stop() {
	for _, hnd := range handlers {
		if hnd.IsReady() {
			hnd.Stop()
		}
	}
}
