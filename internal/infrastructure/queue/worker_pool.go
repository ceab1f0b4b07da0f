package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"VectorLink/internal/infrastructure/mq"
	"VectorLink/pkg/zlog"

	"go.uber.org/zap"
)

// WorkerPool 管理一组消费循环。Start 只生效一次，重复调用为空操作；
// Stop 取消上下文并在宽限期内等待在途任务收尾。
type WorkerPool struct {
	handler     mq.Handler
	consumers   []mq.Consumer
	shutdownMax time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

func NewWorkerPool(handler mq.Handler, consumers []mq.Consumer, shutdownGrace time.Duration) *WorkerPool {
	if shutdownGrace <= 0 {
		shutdownGrace = 30 * time.Second
	}
	return &WorkerPool{
		handler:     handler,
		consumers:   consumers,
		shutdownMax: shutdownGrace,
	}
}

func (p *WorkerPool) Start(ctx context.Context) error {
	if p.handler == nil {
		return errors.New("handler is nil")
	}
	if len(p.consumers) == 0 {
		return errors.New("no consumers")
	}

	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.started = true

		for i := range p.consumers {
			c := p.consumers[i]
			idx := i
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				err := c.Run(runCtx, p.handler)
				if err != nil && !errors.Is(err, context.Canceled) {
					zlog.Warn("worker consumer exited", zap.Int("worker", idx), zap.Error(err))
				}
			}()
		}
		zlog.Info("worker pool started", zap.Int("workers", len(p.consumers)))
	})
	return nil
}

// Stop 等待在途任务完成，超过宽限期直接返回，任务交由回收器补发
func (p *WorkerPool) Stop() {
	if !p.started {
		return
	}
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		for i := range p.consumers {
			_ = p.consumers[i].Close()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			zlog.Info("worker pool stopped")
		case <-time.After(p.shutdownMax):
			zlog.Warn("worker pool shutdown grace exceeded")
		}
	})
}
