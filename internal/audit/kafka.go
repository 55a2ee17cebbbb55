package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"skern/internal/platform/config"
)

const flushTimeout = 10 * time.Second

// KafkaPublisher ships audit events to a Kafka topic through a buffered
// channel and a single producer goroutine. When the buffer fills, events are
// dropped and counted rather than blocking the verification path.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

type KafkaOption func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

func NewKafkaPublisher(cfg config.KafkaConfig, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}

	p := &KafkaPublisher{
		client: client,
		topic:  cfg.Topic,
		events: make(chan Event, 1024),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Publish enqueues the event. Never blocks; a full buffer drops the event.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	select {
	case p.events <- event:
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if p.logger != nil && n%100 == 1 {
			p.logger.Warn("audit event buffer full, dropping", "dropped_total", n)
		}
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (p *KafkaPublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *KafkaPublisher) run() {
	defer p.wg.Done()
	ctx := context.Background()

	for {
		select {
		case event := <-p.events:
			p.produce(ctx, event)
		case <-p.done:
			// Drain what is already queued before shutting down.
			for {
				select {
				case event := <-p.events:
					p.produce(ctx, event)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) produce(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("marshal audit event", "error", err)
		}
		return
	}

	record := &kgo.Record{
		Key:   []byte(event.CertificateID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Error("produce audit event", "error", err, "type", string(event.Type))
		}
	})
}

// Close stops the producer goroutine, drains the queue, and flushes the
// client.
func (p *KafkaPublisher) Close() error {
	close(p.done)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
