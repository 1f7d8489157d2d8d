package reconciler

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 按机器人ID分片的串行工作池
// 同一机器人的遥测固定落在同一个分片上按到达顺序执行，
// 不同机器人全量并行；队列写满时丢弃新消息（背压隔离，
// 慢的下游不能堵住总线回调线程）
type WorkerPool struct {
	queues []chan func()
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool 创建工作池
func NewWorkerPool(poolSize, queueSize int, logger *zap.Logger) *WorkerPool {
	if poolSize <= 0 {
		poolSize = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	queues := make([]chan func(), poolSize)
	for i := range queues {
		queues[i] = make(chan func(), queueSize)
	}

	return &WorkerPool{
		queues: queues,
		logger: logger,
	}
}

// Start 启动各分片的串行消费循环
func (p *WorkerPool) Start(ctx context.Context) {
	for i, queue := range p.queues {
		p.wg.Add(1)
		go func(shard int, jobs <-chan func()) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-jobs:
					job()
				}
			}
		}(i, queue)
	}

	p.logger.Info("Worker pool started",
		zap.Int("pool_size", len(p.queues)),
		zap.Int("queue_size", cap(p.queues[0])),
	)
}

// Submit 按 key 分片投递任务，队列满时丢弃并返回 false
func (p *WorkerPool) Submit(key string, job func()) bool {
	shard := p.shardFor(key)

	select {
	case p.queues[shard] <- job:
		return true
	default:
		p.logger.Warn("Worker queue full, dropping message",
			zap.String("key", key),
			zap.Int("shard", shard),
		)
		return false
	}
}

// Wait 等待所有分片退出（上下文取消后调用）
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
