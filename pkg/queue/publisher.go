package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Publisher puts jobs on the queue. It implements engine.Queue.
type Publisher struct {
	cfg            Config
	publisher      message.Publisher
	subscriber     message.Subscriber
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
	logger         zerolog.Logger
}

var _ engine.Queue = (*Publisher)(nil)

// Open creates a publisher for the configured backend.
func Open(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryPublisher(cfg, logger), nil
	default:
		return NewNATSPublisher(cfg, logger)
	}
}

// NewNATSPublisher creates a publisher on NATS JetStream.
func NewNATSPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	wmLogger := NewLoggerAdapter(logger.With().Str("component", "nats").Logger())

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: cfg.AutoProvision,
			TrackMsgId:    cfg.TrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create nats publisher: %w", err)
	}

	return newPublisher(cfg, pub, nil, logger), nil
}

// NewMemoryPublisher creates an in-process publisher for embedding and tests.
// Jobs published while nothing subscribes are dropped unless
// MemoryPersistent is set.
func NewMemoryPublisher(cfg Config, logger zerolog.Logger) *Publisher {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
		Persistent:          cfg.MemoryPersistent,
	}, NewLoggerAdapter(logger.With().Str("component", "memory_queue").Logger()))
	return newPublisher(cfg, pubSub, pubSub, logger)
}

func newPublisher(cfg Config, pub message.Publisher, sub message.Subscriber, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		cfg:        cfg,
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}
	if cfg.Breaker.Enabled {
		p.circuitBreaker = NewCircuitBreaker("queue-publish", cfg.Breaker, logger)
	}
	return p
}

// Enqueue publishes a job on the topic of the named queue.
func (p *Publisher) Enqueue(ctx context.Context, queueName string, job *engine.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := EncodeJob(job)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)

	if err := p.Publish(p.cfg.Topic(queueName), msg); err != nil {
		return fmt.Errorf("failed to publish job %s to %s: %w", job.ID, queueName, err)
	}

	p.logger.Debug().
		Str("queue", queueName).
		Str("job_id", job.ID).
		Str("command", string(job.Command)).
		Msg("job published")
	return nil
}

// Publish sends a message through the circuit breaker. The message UUID is
// used as Nats-Msg-Id for deduplication when not already set.
func (p *Publisher) Publish(topic string, msg *message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if p.circuitBreaker == nil {
		return p.publisher.Publish(topic, msg)
	}
	_, err := p.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	return err
}

// Subscriber returns the subscriber side of the memory backend, or nil.
func (p *Publisher) Subscriber() message.Subscriber {
	return p.subscriber
}

// Topic returns the topic for a named queue.
func (p *Publisher) Topic(queueName string) string {
	return p.cfg.Topic(queueName)
}

// BreakerState reports the circuit breaker state.
func (p *Publisher) BreakerState() string {
	if p.circuitBreaker == nil {
		return "disabled"
	}
	return p.circuitBreaker.State().String()
}

// Close shuts the publisher down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
