package pool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/response"
	"github.com/sshcollectorpro/netcomm/pkg/session"
)

// DefaultSize 默认并发数
const DefaultSize = 10

// ErrDone 结果已全部取完
var ErrDone = errors.New("no more results")

// Target 一台设备及其覆盖参数
type Target struct {
	Endpoint string
	Override session.Config
}

// Options 并发执行参数
type Options struct {
	// Size 并发数，<=0 时为 DefaultSize
	Size int
	// Delay 相邻两台设备的派发间隔，避免连接风暴
	Delay time.Duration
	// Base 所有设备共用的会话参数
	Base       session.Config
	Subscriber response.Subscriber
}

// Stats 执行进度
type Stats struct {
	Total      int  `json:"total"`
	Dispatched int  `json:"dispatched"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Running    bool `json:"running"`
	Killed     bool `json:"killed"`
}

// Pool 将同一批命令并发发送到多台设备，单台失败不影响其他设备
type Pool struct {
	targets []Target
	cmds    []*command.Command
	opts    Options
	queue   *Queue
	done    chan struct{}
	log     *logrus.Entry

	mu      sync.Mutex
	started bool
	killed  bool
	cancel  context.CancelFunc

	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
}

// New 创建任务池，不会立即执行
func New(targets []Target, cmds []*command.Command, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	return &Pool{
		targets: append([]Target(nil), targets...),
		cmds:    append([]*command.Command(nil), cmds...),
		opts:    opts,
		queue:   NewQueue(len(targets)),
		done:    make(chan struct{}),
		log:     logger.Component("pool"),
	}
}

// Targets 从地址列表构造 Target
func Targets(endpoints ...string) []Target {
	out := make([]Target, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, Target{Endpoint: ep})
	}
	return out
}

// Start 后台开始派发，立即返回；重复调用返回错误
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	if p.killed {
		p.cancel()
	}

	p.log.WithFields(logrus.Fields{
		"targets":  len(p.targets),
		"commands": len(p.cmds),
		"size":     p.opts.Size,
	}).Info("pool started")
	go p.dispatch(ctx)
	return nil
}

func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.done)
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(p.opts.Size)
	for i, t := range p.targets {
		if i > 0 && p.opts.Delay > 0 {
			timer := time.NewTimer(p.opts.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.work(ctx, t)
			return nil
		})
		p.dispatched.Add(1)
	}
	_ = g.Wait()
	p.queue.Close()

	p.log.WithFields(logrus.Fields{
		"completed": p.completed.Load(),
		"failed":    p.failed.Load(),
		"elapsed":   time.Since(started).String(),
	}).Info("pool finished")
}

// work 一台设备的完整流程，任何建立会话的错误或 panic 都转换为失败结果
func (p *Pool) work(ctx context.Context, t Target) {
	host := t.Endpoint
	var store *response.Store
	defer func() {
		if r := recover(); r != nil {
			store = response.Failed(host, fmt.Errorf("worker panic: %v", r))
		}
		if store == nil || ctx.Err() != nil {
			return
		}
		p.completed.Add(1)
		if store.Status() == response.StatusFailed {
			p.failed.Add(1)
		}
		if err := p.queue.Put(store); err != nil {
			p.log.WithError(err).WithField("host", host).Warn("result dropped")
		}
	}()

	cfg := p.opts.Base.Merge(t.Override)
	if t.Endpoint != "" {
		cfg.Endpoint = t.Endpoint
	}
	s, err := session.New(cfg)
	if err != nil {
		store = response.Failed(host, err)
		return
	}
	host = s.Host()
	defer s.Close()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	if err := s.Connect(ctx); err != nil {
		store = response.Failed(host, err)
		return
	}
	var opts []session.ExecOption
	if p.opts.Subscriber != nil {
		opts = append(opts, session.WithSubscriber(p.opts.Subscriber))
	}
	out, err := s.Execute(ctx, p.cmds, opts...)
	if err != nil {
		store = response.Failed(host, err)
		return
	}
	store = out
}

// Results 按完成顺序产出结果；未启动时以 context.Background 启动
func (p *Pool) Results() iter.Seq[*response.Store] {
	p.ensureStarted()
	return func(yield func(*response.Store) bool) {
		for {
			s, ok, _ := p.queue.Get(context.Background())
			if !ok || !yield(s) {
				return
			}
		}
	}
}

// Next 获取下一个结果，全部取完返回 ErrDone
func (p *Pool) Next(ctx context.Context) (*response.Store, error) {
	p.ensureStarted()
	s, ok, err := p.queue.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDone
	}
	return s, nil
}

// Run 启动并阻塞收集全部结果
func (p *Pool) Run(ctx context.Context) []*response.Store {
	_ = p.Start(ctx)
	out := make([]*response.Store, 0, len(p.targets))
	for s := range p.Results() {
		out = append(out, s)
	}
	return out
}

// Wait 等待所有设备处理完成，不消费结果
func (p *Pool) Wait() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

// Done 全部处理完成后关闭
func (p *Pool) Done() <-chan struct{} { return p.done }

// Kill 取消所有设备并丢弃未取走的结果，可重复调用
func (p *Pool) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	n := p.queue.Abort()
	p.log.WithField("discarded", n).Warn("pool killed")
}

// Stats 当前进度
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	started, killed := p.started, p.killed
	p.mu.Unlock()
	running := started
	select {
	case <-p.done:
		running = false
	default:
	}
	return Stats{
		Total:      len(p.targets),
		Dispatched: int(p.dispatched.Load()),
		Completed:  int(p.completed.Load()),
		Failed:     int(p.failed.Load()),
		Running:    running && !killed,
		Killed:     killed,
	}
}

func (p *Pool) ensureStarted() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		_ = p.Start(context.Background())
	}
}
