package accounting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/Shopify/sarama"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/bss"
	"github.com/radio-control/apd/internal/config"
)

// ErrQueueFull is returned when the broker falls behind by more than the
// queue size.
var ErrQueueFull = errors.New("accounting queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("accounting sink closed")

// ProducerFactory opens a producer; sarama.NewSyncProducer in production.
type ProducerFactory func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)

// KafkaSink publishes accounting records keyed by station address. Sends
// happen on a worker goroutine so callers never wait on the broker.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan *sarama.ProducerMessage
	wg     sync.WaitGroup
}

var _ bss.Accounting = (*KafkaSink)(nil)

// NewKafkaSink wraps an open producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string, queueSize int) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	k := &KafkaSink{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		queue:    make(chan *sarama.ProducerMessage, queueSize),
	}
	k.wg.Add(1)
	go k.run()
	return k
}

// ProducerConfig returns the sarama configuration used for accounting.
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "apd"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	return cfg
}

// DialKafka connects to the brokers of cfg, retrying with linear backoff
// up to cfg.DialAttempts times.
func DialKafka(ctx context.Context, cfg config.AccountingConfig, open ProducerFactory) (*KafkaSink, error) {
	if open == nil {
		open = sarama.NewSyncProducer
	}
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}

	var producer sarama.SyncProducer
	err := retry.Retry(func(attempt uint) error {
		p, err := open(cfg.Brokers, ProducerConfig())
		if err != nil {
			klog.Warningf("accounting: kafka dial attempt %d/%d failed: %v", attempt+1, attempts, err)
			return err
		}
		producer = p
		return nil
	},
		strategy.Limit(uint(attempts)),
		strategy.Backoff(backoff.Linear(cfg.DialBackoff)),
		func(uint) bool { return ctx.Err() == nil },
	)
	if err := ctx.Err(); err != nil && producer == nil {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka brokers %v: %w", cfg.Brokers, err)
	}
	klog.Infof("accounting: publishing to kafka topic %s via %v", cfg.Topic, cfg.Brokers)
	return NewKafkaSink(producer, cfg.Topic, 0), nil
}

func (k *KafkaSink) run() {
	defer k.wg.Done()
	for msg := range k.queue {
		if _, _, err := k.producer.SendMessage(msg); err != nil {
			klog.Errorf("accounting: failed to publish record for %s: %v", msg.Key, err)
		}
	}
}

func (k *KafkaSink) publish(event string, s bss.Session) error {
	b, err := newRecord(event, s, k.now()).Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(s.Station.String()),
		Value: sarama.ByteEncoder(b),
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	select {
	case k.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (k *KafkaSink) SessionStarted(_ context.Context, s bss.Session) error {
	return k.publish(EventStart, s)
}

func (k *KafkaSink) SessionFailed(_ context.Context, s bss.Session) error {
	return k.publish(EventFail, s)
}

func (k *KafkaSink) SessionStopped(_ context.Context, s bss.Session) error {
	return k.publish(EventStop, s)
}

// Close sends the queued records and closes the producer.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.queue)
	k.mu.Unlock()

	k.wg.Wait()
	return k.producer.Close()
}
