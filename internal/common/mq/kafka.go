package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
)

// KafkaConfig defines configuration for the Kafka implementation.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`
	GroupID  string   `yaml:"groupID"`

	// Producer settings
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`

	// Consumer settings
	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	// Dialer settings
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// KafkaQueue implements MessageQueue using Kafka.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

type kafkaSubscription struct {
	topic   string
	handler HandlerFunc
	baseCtx context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish publishes a message to the topic.
func (q *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if message == nil {
		return errors.New("message is nil")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	headers := []kafka.Header{
		{Key: headerID, Value: []byte(message.ID)},
		{Key: headerTimestamp, Value: []byte(strconv.FormatInt(message.Timestamp.UnixMilli(), 10))},
		{Key: headerRetryCount, Value: []byte(strconv.Itoa(message.RetryCount))},
		{Key: headerMaxRetries, Value: []byte(strconv.Itoa(message.MaxRetries))},
	}
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return q.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
	})
}

// Subscribe registers a handler for a topic.
func (q *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue is closed")
	}
	if q.started {
		return errors.New("cannot subscribe after start")
	}
	q.subscriptions = append(q.subscriptions, &kafkaSubscription{
		topic:   topic,
		handler: handler,
		baseCtx: ctx,
	})
	return nil
}

// Start launches one consumer loop per subscription.
func (q *KafkaQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue is closed")
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subscriptions {
		sub.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.config.Brokers,
			GroupID:  q.config.GroupID,
			Topic:    sub.topic,
			Dialer:   q.dialer,
			MinBytes: q.config.MinBytes,
			MaxBytes: q.config.MaxBytes,
			MaxWait:  q.config.MaxWait,
		})
		ctx, cancel := context.WithCancel(sub.baseCtx)
		sub.cancel = cancel
		sub.wg.Add(1)
		go q.consume(ctx, sub)
	}
	q.started = true
	return nil
}

func (q *KafkaQueue) consume(ctx context.Context, sub *kafkaSubscription) {
	defer sub.wg.Done()
	for {
		kafkaMsg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			continue
		}

		msg := decodeMessage(&kafkaMsg)
		if err := sub.handler(ctx, msg); err != nil {
			if msg.RetryCount < msg.MaxRetries {
				msg.RetryCount++
				_ = q.Publish(ctx, sub.topic, msg)
			}
		}
		_ = sub.reader.CommitMessages(ctx, kafkaMsg)
	}
}

func decodeMessage(kafkaMsg *kafka.Message) *Message {
	msg := &Message{
		Body:    kafkaMsg.Value,
		Headers: make(map[string]string),
	}
	for _, h := range kafkaMsg.Headers {
		switch h.Key {
		case headerID:
			msg.ID = string(h.Value)
		case headerTimestamp:
			if millis, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				msg.Timestamp = time.UnixMilli(millis)
			}
		case headerRetryCount:
			msg.RetryCount, _ = strconv.Atoi(string(h.Value))
		case headerMaxRetries:
			msg.MaxRetries, _ = strconv.Atoi(string(h.Value))
		default:
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	if msg.ID == "" {
		msg.ID = string(kafkaMsg.Key)
	}
	return msg
}

// Stop stops all consumer loops and waits for them to drain.
func (q *KafkaQueue) Stop() error {
	q.mu.Lock()
	subs := q.subscriptions
	q.started = false
	q.mu.Unlock()

	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
		sub.wg.Wait()
		if sub.reader != nil {
			_ = sub.reader.Close()
		}
	}
	return nil
}

// Ping verifies the broker is reachable.
func (q *KafkaQueue) Ping(ctx context.Context) error {
	if len(q.config.Brokers) == 0 {
		return errors.New("no brokers configured")
	}
	conn, err := q.dialer.DialContext(ctx, "tcp", q.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker failed: %w", err)
	}
	return conn.Close()
}

// Close stops consumers and closes the producer.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	_ = q.Stop()
	return q.writer.Close()
}
