package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaConfig is the {name: "kafka", config: {...}} payload shape.
type kafkaConfig struct {
	Brokers []string `json:"brokers"`
}

// KafkaHandler is the concrete mq.Handler backed by franz-go, producing
// each queued message as one record keyed by nothing (topic alone
// decides partitioning) and fire-and-forget from the caller's
// perspective.
type KafkaHandler struct {
	client *kgo.Client
	ch     chan *Message
	done   chan struct{}
	ready  atomic.Bool
}

func init() {
	Register("kafka", &KafkaHandler{})
}

// Init parses jsonconf and connects to the configured brokers.
func (h *KafkaHandler) Init(jsonconf string) error {
	var cfg kafkaConfig
	if err := json.Unmarshal([]byte(jsonconf), &cfg); err != nil {
		return fmt.Errorf("mq/kafka: parse config: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("mq/kafka: no brokers configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("mq/kafka: new client: %w", err)
	}
	h.client = client
	h.ch = make(chan *Message, 256)
	h.done = make(chan struct{})
	h.ready.Store(true)
	go h.loop()
	return nil
}

// IsReady implements Handler.
func (h *KafkaHandler) IsReady() bool { return h.ready.Load() }

// Push implements Handler.
func (h *KafkaHandler) Push() chan<- *Message { return h.ch }

func (h *KafkaHandler) loop() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.ch:
			record := &kgo.Record{Topic: msg.Topic, Value: msg.Payload}
			h.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
				if err != nil {
					log.Printf("mq/kafka: produce to %s failed: %v", msg.Topic, err)
				}
			})
		}
	}
}

// Stop implements Handler.
func (h *KafkaHandler) Stop() {
	if !h.ready.CompareAndSwap(true, false) {
		return
	}
	close(h.done)
	h.client.Close()
}
