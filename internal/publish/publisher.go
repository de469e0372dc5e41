// v1
// internal/publish/publisher.go

// Package publish delivers accepted-telemetry events to Kafka for
// downstream consumers. Delivery is asynchronous: accepted submissions
// are acknowledged to the device regardless of broker health.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
)

// EventTypeTelemetryAccepted labels events for submissions that passed
// every trust check.
const EventTypeTelemetryAccepted = "telemetry.accepted"

// Event is the payload written to the telemetry topic.
type Event struct {
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schemaVersion"`
	TokenAddress  string          `json:"tokenAddress"`
	LeafHash      string          `json:"leafHash"`
	Timestamp     int64           `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Config encapsulates the runtime options for the telemetry publisher.
type Config struct {
	Enabled       bool
	Topic         string
	Brokers       []string
	Acks          int
	SchemaVersion string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type writeCloser interface {
	Close() error
}

// Metrics receives publisher health signals. *observability.Metrics
// satisfies this.
type Metrics interface {
	IncPublish(outcome string)
	SetPublishQueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncPublish(string)        {}
func (noopMetrics) SetPublishQueueDepth(int) {}

type publishRequest struct {
	key   []byte
	value []byte
}

// Publisher asynchronously publishes accepted telemetry to the
// configured Kafka topic, keyed by device token address.
type Publisher struct {
	cfg       Config
	log       *slog.Logger
	writer    messageWriter
	closer    writeCloser
	metrics   Metrics
	enabled   bool
	queue     chan publishRequest
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

const publisherQueueSize = 256

var (
	errNilLogger  = errors.New("publisher requires a logger")
	errNilWriter  = errors.New("publisher requires a writer")
	errNotStarted = errors.New("telemetry publisher not started")
	errStopped    = errors.New("telemetry publisher stopped")
)

// NewPublisher constructs a Publisher backed by a Kafka writer.
func NewPublisher(cfg Config, log *slog.Logger, metrics Metrics) (*Publisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if !cfg.Enabled {
		log.Info("telemetry_publisher_disabled")
		return &Publisher{cfg: cfg, log: log, metrics: noopMetrics{}, enabled: false}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("telemetry topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return newPublisherWithWriter(cfg, log, metrics, writer, writer)
}

// newPublisherWithWriter wires the provided writer into the publisher. It is used in tests.
func newPublisherWithWriter(cfg Config, log *slog.Logger, metrics Metrics, writer messageWriter, closer writeCloser) (*Publisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if writer == nil {
		return nil, errNilWriter
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	p := &Publisher{
		cfg:     cfg,
		log:     log.With(slog.String("component", "telemetry_publisher")),
		writer:  writer,
		closer:  closer,
		metrics: metrics,
		enabled: cfg.Enabled,
	}
	if p.enabled {
		p.queue = make(chan publishRequest, publisherQueueSize)
		p.metrics.SetPublishQueueDepth(0)
	}
	return p, nil
}

// Start launches the background publishing loop.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.log.Info("telemetry_publisher_started", slog.String("topic", p.cfg.Topic))
	})
	if !p.started.Load() {
		return errNotStarted
	}
	return nil
}

// Stop requests shutdown and waits for in-flight messages to drain.
func (p *Publisher) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if p.closer != nil {
			if err := p.closer.Close(); err != nil {
				p.log.Error("telemetry_publisher_close_err", slog.Any("err", err))
			}
		}
		p.metrics.SetPublishQueueDepth(0)
		p.log.Info("telemetry_publisher_stopped")
	})
	return stopErr
}

// Publish queues an accepted submission for asynchronous delivery.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if !p.enabled {
		return nil
	}
	if !p.started.Load() {
		p.log.Error("telemetry_publish_not_started")
		return errNotStarted
	}
	if strings.TrimSpace(ev.TokenAddress) == "" {
		p.metrics.IncPublish("fail")
		return errors.New("tokenAddress is required for the message key")
	}
	ev.Type = EventTypeTelemetryAccepted
	if strings.TrimSpace(ev.SchemaVersion) == "" {
		ev.SchemaVersion = strings.TrimSpace(p.cfg.SchemaVersion)
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.metrics.IncPublish("fail")
		p.log.Error("telemetry_publish_encode_err", slog.Any("err", err), slog.String("token", ev.TokenAddress))
		return err
	}
	req := publishRequest{key: []byte(ev.TokenAddress), value: value}
	select {
	case p.queue <- req:
		p.metrics.SetPublishQueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		p.metrics.IncPublish("fail")
		p.log.Error("telemetry_publish_ctx_err", slog.Any("err", ctx.Err()), slog.String("token", ev.TokenAddress))
		return ctx.Err()
	case <-p.runCtx.Done():
		p.metrics.IncPublish("fail")
		p.log.Error("telemetry_publish_stopped", slog.String("token", ev.TokenAddress))
		return errStopped
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			return
		case req := <-p.queue:
			p.metrics.SetPublishQueueDepth(len(p.queue))
			p.deliver(req)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case req := <-p.queue:
			p.metrics.SetPublishQueueDepth(len(p.queue))
			p.deliver(req)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(req publishRequest) {
	err := p.writer.WriteMessages(context.Background(), kafka.Message{Key: req.key, Value: req.value})
	if err != nil {
		p.metrics.IncPublish("fail")
		p.log.Error("telemetry_publish_err", slog.Any("err", err), slog.String("token", string(req.key)))
		return
	}
	p.metrics.IncPublish("ok")
}
