package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOption tunes the writers created by a KafkaProducer.
type ProducerOption func(*kafka.Writer)

// WithBatchTimeout bounds how long a writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) { w.BatchTimeout = d }
}

// WithRequiredAcks overrides the acknowledgement level. Defaults to all replicas.
func WithRequiredAcks(acks kafka.RequiredAcks) ProducerOption {
	return func(w *kafka.Writer) { w.RequiredAcks = acks }
}

// KafkaProducer owns one synchronous writer per topic, created on first use.
type KafkaProducer struct {
	brokers []string
	opts    []ProducerOption

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for the given brokers.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		opts:    opts,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages blocks until every message is acknowledged or the write fails.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	// Keys are tenant:user or user, so hashing pins each user to one partition.
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 10 * time.Millisecond,
	}
	for _, opt := range p.opts {
		opt(w)
	}
	p.writers[topic] = w
	return w
}

// Close flushes and closes every writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
