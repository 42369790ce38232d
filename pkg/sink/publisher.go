// Package sink publishes speech turns to Kafka.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chriscow/empathic-go/pkg/metrics"
	"github.com/chriscow/empathic-go/pkg/session"
)

const (
	DefaultTopic     = "emo.transcripts"
	DefaultQueueSize = 256
	publishTimeout   = 10 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	// QueueSize bounds turns waiting to be written; further turns are
	// dropped.
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Record is the published event.
type Record struct {
	SessionID string       `json:"session_id"`
	Turn      session.Turn `json:"turn"`
}

// Publisher writes turns from a background worker so listeners never block
// on the broker.
type Publisher struct {
	writer  MessageWriter
	topic   string
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue chan Record
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a publisher writing to the configured brokers. Without brokers
// it logs turns only.
func New(cfg Config) *Publisher {
	var writer MessageWriter
	if len(cfg.Brokers) > 0 {
		if cfg.Topic == "" {
			cfg.Topic = DefaultTopic
		}
		dialer := &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: publishTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		}
	}
	return NewWithWriter(writer, cfg)
}

// NewWithWriter creates a publisher over writer. A nil writer logs only.
func NewWithWriter(writer MessageWriter, cfg Config) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Publisher{
		writer:  writer,
		topic:   cfg.Topic,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		queue:   make(chan Record, cfg.QueueSize),
	}

	if writer == nil {
		p.logger.Info("Kafka disabled, using log-only mode")
	} else {
		p.logger.Info("Kafka publisher initialized",
			slog.Any("brokers", cfg.Brokers),
			slog.String("topic", cfg.Topic))
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Listener returns a session listener that queues each turn for sessionID.
func (p *Publisher) Listener(sessionID string) session.Listener {
	return func(turn session.Turn) {
		p.Enqueue(Record{SessionID: sessionID, Turn: turn})
	}
}

// Enqueue queues rec, dropping it when the queue is full or closed.
func (p *Publisher) Enqueue(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- rec:
	default:
		p.metrics.PublishErrors.Inc()
		p.logger.Warn("Transcript queue full, dropping turn", slog.String("session_id", rec.SessionID))
	}
}

// Publish writes rec synchronously.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	p.logger.Debug("Publishing turn",
		slog.String("topic", p.topic),
		slog.String("session_id", rec.SessionID),
		slog.String("role", rec.Turn.Role))

	if p.writer == nil {
		p.metrics.PublishTotal.WithLabelValues(rec.Turn.Role).Inc()
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("speech_turn")},
			{Key: "role", Value: []byte(rec.Turn.Role)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.PublishErrors.Inc()
		p.logger.Error("Failed to write to Kafka",
			slog.String("topic", p.topic),
			slog.String("error", err.Error()))
		return err
	}
	p.metrics.PublishTotal.WithLabelValues(rec.Turn.Role).Inc()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for rec := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		p.Publish(ctx, rec)
		cancel()
	}
}

// Close drains queued turns and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Error closing Kafka writer", slog.String("error", err.Error()))
		return err
	}
	return nil
}
