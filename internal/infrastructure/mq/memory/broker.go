package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"VectorLink/internal/infrastructure/mq"
	"VectorLink/pkg/zlog"

	"go.uber.org/zap"
)

// Broker 进程内消息队列，实现与 Kafka 适配层相同的 mq 契约。
// 用于未配置 broker 的单机部署与测试环境；多个消费者
// 共享同一 topic channel，构成竞争消费。
type Broker struct {
	mu     sync.Mutex
	topics map[string]chan mq.Message
	offset map[string]int64
	buffer int
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Broker{
		topics: make(map[string]chan mq.Message),
		offset: make(map[string]int64),
		buffer: buffer,
	}
}

func (b *Broker) channel(topic string) chan mq.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan mq.Message, b.buffer)
		b.topics[topic] = ch
	}
	return ch
}

// Close 之后的 Publish 直接报错，已入队的消息仍可被消费
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Broker) Publisher() mq.Publisher {
	return &memoryPublisher{b: b}
}

func (b *Broker) Consumer(topics ...string) mq.Consumer {
	return &memoryConsumer{b: b, topics: topics}
}

type memoryPublisher struct {
	b *Broker
}

func (p *memoryPublisher) Publish(ctx context.Context, msg mq.Message) (mq.PublishResult, error) {
	topic := strings.TrimSpace(msg.Topic)
	if topic == "" {
		return mq.PublishResult{}, errors.New("topic is empty")
	}

	p.b.mu.Lock()
	if p.b.closed {
		p.b.mu.Unlock()
		return mq.PublishResult{}, errors.New("broker is closed")
	}
	off := p.b.offset[topic]
	p.b.offset[topic] = off + 1
	p.b.mu.Unlock()

	ch := p.b.channel(topic)
	select {
	case ch <- msg:
		return mq.PublishResult{Partition: 0, Offset: off}, nil
	case <-ctx.Done():
		return mq.PublishResult{}, ctx.Err()
	}
}

func (p *memoryPublisher) Close() error { return nil }

type memoryConsumer struct {
	b      *Broker
	topics []string
}

func (c *memoryConsumer) Run(ctx context.Context, handler mq.Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	if len(c.topics) == 0 {
		return errors.New("topics is empty")
	}

	// 单 topic 为主路径；多 topic 时为每个 topic 起一个接收循环
	if len(c.topics) == 1 {
		return c.consume(ctx, c.topics[0], handler)
	}

	errCh := make(chan error, len(c.topics))
	for _, t := range c.topics {
		topic := t
		go func() {
			errCh <- c.consume(ctx, topic, handler)
		}()
	}
	return <-errCh
}

func (c *memoryConsumer) consume(ctx context.Context, topic string, handler mq.Handler) error {
	ch := c.b.channel(topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := handler.Handle(ctx, msg); err != nil {
				// 处理失败重投，对齐 Kafka 不 ack 即重投的语义
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				select {
				case ch <- msg:
				default:
					// channel 已满，重投失败会丢消息，留日志便于排查
					zlog.Warn("memory broker redelivery dropped",
						zap.String("topic", topic),
						zap.ByteString("key", msg.Key))
				}
			}
		}
	}
}

func (c *memoryConsumer) Close() error { return nil }
