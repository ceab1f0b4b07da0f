package mq

import "context"

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Consumer 阻塞消费循环；Handle 返回非 nil 时消息不被确认，
// 由实现方负责重投
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}
