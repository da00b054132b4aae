// Package kafka carries the cluster bus over Kafka: one topic per node,
// one record per envelope. Subscribers poll their node's topic directly,
// without consumer groups, so every worker process of a node observes
// every message addressed to it.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error wraps all failures reported by this package.
var Error = errs.Class("kafka")

// DefaultTopicPrefix prefixes per-node topic names.
const DefaultTopicPrefix = "schemat.node."

// Options configures the bus.
type Options struct {
	// Brokers seeds the Kafka client. At least one is required.
	Brokers []string
	// TopicPrefix overrides DefaultTopicPrefix.
	TopicPrefix string
	// NodeID and WorkerID identify this process in the client id.
	NodeID   int64
	WorkerID int
	Logger   *zap.Logger
}

// Bus publishes to and subscribes on per-node topics.
type Bus struct {
	brokers  []string
	prefix   string
	clientID string
	logger   *zap.Logger

	mu       sync.Mutex
	producer *kgo.Client
	subs     []func()
	closed   bool
}

func New(opts Options) (*Bus, error) {
	if len(opts.Brokers) == 0 {
		return nil, Error.New("at least one broker is required")
	}
	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID := fmt.Sprintf("node-%d-worker-%d", opts.NodeID, opts.WorkerID)

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ClientID(clientID),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Bus{
		brokers:  opts.Brokers,
		prefix:   prefix,
		clientID: clientID,
		logger:   logger,
		producer: producer,
	}, nil
}

// Topic names the topic of one node.
func (b *Bus) Topic(node int64) string {
	return fmt.Sprintf("%s%d", b.prefix, node)
}

// ClientID exposes the process identity used on the wire.
func (b *Bus) ClientID() string { return b.clientID }

// Publish produces one envelope onto the node's topic and waits for the
// broker acknowledgment.
func (b *Bus) Publish(ctx context.Context, node int64, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Error.New("bus is closed")
	}
	producer := b.producer
	b.mu.Unlock()

	record := &kgo.Record{Topic: b.Topic(node), Value: payload}
	if err := producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Subscribe starts a poll loop over the node's topic, delivering each
// record's value to the handler. New subscribers start at the end of
// the topic; envelopes are transient.
func (b *Bus) Subscribe(node int64, handler func(payload []byte)) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, Error.New("bus is closed")
	}
	b.mu.Unlock()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ClientID(b.clientID),
		kgo.ConsumeTopics(b.Topic(node)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go b.poll(ctx, consumer, handler)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			consumer.Close()
		})
	}
	b.mu.Lock()
	b.subs = append(b.subs, unsubscribe)
	b.mu.Unlock()
	return unsubscribe, nil
}

func (b *Bus) poll(ctx context.Context, consumer *kgo.Client, handler func([]byte)) {
	for {
		if ctx.Err() != nil {
			return
		}

		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		for _, err := range fetches.Errors() {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka fetch failed",
				zap.String("topic", err.Topic), zap.Error(err.Err))
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				handler(record.Value)
			}
		})
	}
}

// Close stops every subscription and releases the producer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	producer := b.producer
	b.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	producer.Close()
	return nil
}
