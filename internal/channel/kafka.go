package channel

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaChannel implements Publisher and Subscriber on a Kafka cluster.
// Writers require acks from all replicas; readers use consumer groups and
// commit offsets only after the handler succeeds, which gives the
// at-least-once guarantee the workers rely on.
type KafkaChannel struct {
	brokers []string
	groupID string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaChannel creates a channel backed by the given brokers. groupID
// names the consumer group shared by all worker instances.
func NewKafkaChannel(brokers []string, groupID string) *KafkaChannel {
	return &KafkaChannel{
		brokers: brokers,
		groupID: groupID,
		writers: make(map[string]*kafka.Writer),
	}
}

func (c *KafkaChannel) writer(topic string) *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(c.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 20 * time.Millisecond,
			Compression:  kafka.Snappy,
		}
		c.writers[topic] = w
	}
	return w
}

// Publish delivers an enveloped payload to the topic.
func (c *KafkaChannel) Publish(ctx context.Context, topic string, payload any) error {
	body, err := Encode(payload)
	if err != nil {
		return err
	}
	return c.writer(topic).WriteMessages(ctx, kafka.Message{
		Value: body,
		Time:  time.Now(),
	})
}

// redeliverDelay spaces out retries of a message whose handler keeps
// failing, so a broken downstream is not hammered in a tight loop.
const redeliverDelay = 5 * time.Second

// Subscribe consumes topic with the channel's consumer group, invoking h per
// message. Offsets are committed only after h returns nil. Blocks until ctx
// is canceled.
func (c *KafkaChannel) Subscribe(ctx context.Context, topic string, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokers,
		Topic:          topic,
		GroupID:        c.groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		SessionTimeout: 10 * time.Second,
	})
	defer r.Close()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Channel] fetch error on %s: %v", topic, err)
			continue
		}

		if err := deliver(ctx, topic, h, m.Value, redeliverDelay); err != nil {
			return nil
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			log.Printf("[Channel] commit error on %s: %v", topic, err)
		}
	}
}

// deliver invokes h on one message body until it succeeds, waiting delay
// between attempts. A failed message is retried in place, never skipped:
// consumer-group commits are cumulative, so committing any later offset
// would mark this one consumed too and it would never come back. Returns
// non-nil only when ctx is canceled.
func deliver(ctx context.Context, topic string, h Handler, body []byte, delay time.Duration) error {
	for {
		err := h(ctx, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[Channel] handler error on %s (retrying in %s): %v", topic, delay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close flushes and closes all topic writers.
func (c *KafkaChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for topic, w := range c.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.writers, topic)
	}
	return first
}
