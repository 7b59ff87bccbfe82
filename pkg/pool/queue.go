package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

// Queue 多生产者单消费者的结果队列，只关闭一次，关闭后不再投递任何标记
type Queue struct {
	ch      chan *response.Store
	mu      sync.RWMutex
	closed  bool
	aborted atomic.Bool
}

// NewQueue 创建容量为 size 的队列；容量不小于生产者总数时 Put 不会阻塞
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan *response.Store, size)}
}

// Put 投递结果，队列已关闭或已满时返回 ErrQueue
func (q *Queue) Put(s *response.Store) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errdefs.QueueError("put on closed queue")
	}
	select {
	case q.ch <- s:
		return nil
	default:
		return errdefs.QueueError("queue is full")
	}
}

// Get 阻塞获取下一个结果，队列关闭且取空后 ok 为 false
func (q *Queue) Get(ctx context.Context) (*response.Store, bool, error) {
	select {
	case s, ok := <-q.ch:
		if !ok || q.aborted.Load() {
			return nil, false, nil
		}
		return s, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close 关闭队列，可重复调用
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Abort 关闭队列并丢弃尚未取走的结果，返回丢弃数量
func (q *Queue) Abort() int {
	q.aborted.Store(true)
	q.Close()
	n := 0
	for range q.ch {
		n++
	}
	return n
}

// Closed 是否已关闭
func (q *Queue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Len 已缓存的结果数
func (q *Queue) Len() int { return len(q.ch) }
