// Package stream implements the Stream Consumer (C1): durable JetStream
// pull-consumer membership, batched fetch, ack/nak/DLQ routing, and
// cooperative shutdown.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/meridianrag/ingestcore/internal/domain"
	"github.com/meridianrag/ingestcore/internal/router"
	"github.com/meridianrag/ingestcore/pkg/metrics"
	"github.com/meridianrag/ingestcore/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// retryCountHeader names a message header for an attempt count. The
// consumer does not read it: the retry count passed to Handler always
// comes from JetStream's delivery count (see deliveryCount).
const retryCountHeader = "X-Retry-Count"

// pendingIdleWindow is the broker-side AckWait: a pending entry idle past
// this long is considered abandoned and redelivered (spec §4.1).
const pendingIdleWindow = 15 * time.Minute

// Handler processes one decoded event and returns an error to route
// through the classifier; nil means the event completed successfully and
// should be acked.
type Handler func(ctx context.Context, event domain.RawEvent, retryCount int) error

// Config configures the consumer's broker-facing behavior (spec §4.1 /
// §6). When zero, BatchSize, BlockTimeout, MaxRetries and MaxParallelJobs
// fall back to 16, 2s, 3 and 4; the name fields have no defaults.
type Config struct {
	StreamName      string
	ConsumerGroup   string
	DLQSubject      string
	ServiceName     string
	BatchSize       int
	BlockTimeout    time.Duration
	MaxRetries      int
	MaxParallelJobs int
}

// Consumer pulls events off a durable JetStream consumer and dispatches
// each message to its own Handler call, at most MaxParallelJobs at once,
// with broker-driven retry and DLQ
// routing on terminal failure.
type Consumer struct {
	js       jetstream.JetStream
	nc       *nats.Conn
	cfg      Config
	log      *slog.Logger
	handler  Handler
	consumer jetstream.Consumer

	shutdownGrace time.Duration
	inflight      sync.WaitGroup

	// sem bounds concurrent Handler calls to cfg.MaxParallelJobs.
	// Acquiring a slot blocks the batch-dispatch loop, and therefore the
	// next Fetch, once messages_inflight reaches the cap (spec §5
	// backpressure).
	sem chan struct{}
}

// New builds a Consumer bound to an already-connected *nats.Conn. The
// durable consumer itself is created lazily on Run so construction never
// performs I/O.
func New(nc *nats.Conn, cfg Config, handler Handler, log *slog.Logger) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("stream: jetstream context: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxParallelJobs <= 0 {
		cfg.MaxParallelJobs = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		js:            js,
		nc:            nc,
		cfg:           cfg,
		log:           log,
		handler:       handler,
		shutdownGrace: 30 * time.Second,
		sem:           make(chan struct{}, cfg.MaxParallelJobs),
	}, nil
}

// durableName is stable across restarts so pending entries can be
// claimed by whichever process instance comes back up (spec §4.1).
func (c *Consumer) durableName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", c.cfg.ServiceName, host)
}

// Run blocks, pulling batches and dispatching them to Handler, until ctx
// is cancelled. On cancellation it stops pulling new batches and waits
// up to the shutdown grace period for in-flight events to finish before
// returning.
func (c *Consumer) Run(ctx context.Context) error {
	str, err := c.js.Stream(ctx, c.cfg.StreamName)
	if err != nil {
		return fmt.Errorf("stream: bind stream %s: %w", c.cfg.StreamName, err)
	}

	cons, err := str.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.durableName(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       pendingIdleWindow,
		MaxDeliver:    c.cfg.MaxRetries + 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("stream: create consumer %s: %w", c.durableName(), err)
	}
	c.consumer = cons

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		default:
		}

		batch, err := cons.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(c.cfg.BlockTimeout))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			c.log.Error("stream.fetch_error", "error", err)
			continue
		}

		for msg := range batch.Messages() {
			msg := msg
			c.sem <- struct{}{}
			c.inflight.Add(1)
			go func() {
				defer func() { <-c.sem; c.inflight.Done() }()
				c.handle(ctx, msg)
			}()
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.log.Warn("stream.batch_error", "error", err)
		}
	}
}

// drain waits for in-flight handlers to finish, up to shutdownGrace, so a
// cancelled context doesn't abandon a job mid-pipeline.
func (c *Consumer) drain() {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.shutdownGrace):
		c.log.Warn("stream.shutdown_grace_exceeded")
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	metrics.MessagesInflight.Inc()
	defer metrics.MessagesInflight.Dec()
	metrics.MessagesTotal.Inc()

	start := time.Now()
	defer func() {
		metrics.AckLatencySeconds.Observe(time.Since(start).Seconds())
	}()

	var event domain.RawEvent
	retryCount := deliveryCount(msg)

	if err := decodeEvent(msg, &event); err != nil {
		c.log.Error("stream.decode_error", "error", err)
		metrics.FailuresTotal.WithLabelValues("decode_error").Inc()
		c.terminate(msg, event, router.WithStage(router.StageParse, err), retryCount)
		return
	}

	err := c.handler(ctx, event, retryCount)
	if err == nil {
		_ = msg.Ack()
		return
	}

	class := router.ClassifyErr(err, retryCount, c.cfg.MaxRetries)
	metrics.FailuresTotal.WithLabelValues(string(class.Code)).Inc()

	if class.Retryable {
		metrics.RetriesTotal.WithLabelValues(string(class.Code)).Inc()
		_ = msg.Nak()
		return
	}

	c.terminate(msg, event, err, retryCount)
}

// terminate routes a non-retryable (or undecodable) event to the DLQ and
// acks the original message so the broker never redelivers it.
func (c *Consumer) terminate(msg jetstream.Msg, event domain.RawEvent, cause error, retryCount int) {
	class := router.ClassifyErr(cause, retryCount, c.cfg.MaxRetries)
	record := domain.DLQRecord{
		Event:           event,
		ErrorCode:       string(class.Code),
		ErrorMessage:    cause.Error(),
		RemediationHint: class.RemediationHint,
		FailedAt:        time.Now().UTC(),
		AttemptCount:    retryCount,
		TraceID:         event.Metadata["trace_id"],
	}
	if err := natsutil.Publish(context.Background(), c.nc, c.cfg.DLQSubject, record); err != nil {
		c.log.Error("stream.dlq_publish_failed", "error", err, "external_event_id", event.ExternalEventID)
	} else {
		metrics.DLQPublishedTotal.Inc()
	}
	_ = msg.Term()
}

func deliveryCount(msg jetstream.Msg) int {
	meta, err := msg.Metadata()
	if err != nil {
		return 0
	}
	return int(meta.NumDelivered) - 1
}

func decodeEvent(msg jetstream.Msg, out *domain.RawEvent) error {
	return json.Unmarshal(msg.Data(), out)
}
