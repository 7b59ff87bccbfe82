// Package netcomm 对外的简化接口：单台执行、配置下发与多台并发
package netcomm

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/pool"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
	"github.com/sshcollectorpro/netcomm/pkg/response"
	"github.com/sshcollectorpro/netcomm/pkg/session"
)

// Option 调用参数
type Option func(*settings)

type settings struct {
	session    session.Config
	poolSize   int
	delay      time.Duration
	subscriber response.Subscriber
}

var (
	defaultsMu sync.RWMutex
	defaults   []Option
)

// SetDefaults 设置进程级默认参数，先于调用方参数生效
func SetDefaults(opts ...Option) {
	defaultsMu.Lock()
	defaults = append([]Option(nil), opts...)
	defaultsMu.Unlock()
}

func build(opts []Option) *settings {
	s := &settings{}
	defaultsMu.RLock()
	for _, opt := range defaults {
		opt(s)
	}
	defaultsMu.RUnlock()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithProtocol ssh、eapi、mock，可带 +transport
func WithProtocol(name string) Option {
	return func(s *settings) { s.session.Protocol = name }
}

// WithCredentials 登录凭据
func WithCredentials(username, password string) Option {
	return func(s *settings) {
		s.session.Credentials.Username = username
		s.session.Credentials.Password = password
	}
}

// WithAuthorize 登录后使用 secret 提权
func WithAuthorize(secret string) Option {
	return func(s *settings) { s.session.Credentials.Secret = secret }
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.session.Options.Timeout = d }
}

func WithPort(port int) Option {
	return func(s *settings) { s.session.Options.Port = port }
}

// WithEncoding 终端为设备字符集，eAPI 为 text 或 json
func WithEncoding(enc string) Option {
	return func(s *settings) { s.session.Options.Encoding = enc }
}

func WithVerify(v bool) Option {
	return func(s *settings) { s.session.Options.Verify = v }
}

func WithPlatform(name string) Option {
	return func(s *settings) { s.session.Options.Platform = name }
}

func WithPoolSize(n int) Option {
	return func(s *settings) { s.poolSize = n }
}

func WithDelay(d time.Duration) Option {
	return func(s *settings) { s.delay = d }
}

func WithContinueOnError(v bool) Option {
	return func(s *settings) { s.session.ContinueOnError = v }
}

func WithSubscriber(fn response.Subscriber) Option {
	return func(s *settings) { s.subscriber = fn }
}

// WithFactory 指定适配器，主要用于测试
func WithFactory(f protocol.Factory) Option {
	return func(s *settings) { s.session.Factory = f }
}

// Commands 将文本命令规范化
func Commands(lines ...string) []*command.Command {
	return command.Normalize(lines...)
}

func (s *settings) config(endpoint string) session.Config {
	cfg := s.session
	cfg.Endpoint = endpoint
	return cfg
}

// Connect 建立会话并按需提权
func Connect(ctx context.Context, endpoint string, opts ...Option) (*session.Session, error) {
	s := build(opts)
	sess, err := session.New(s.config(endpoint))
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Execute 连接一台设备执行命令后关闭
func Execute(ctx context.Context, endpoint string, cmds []*command.Command, opts ...Option) (*response.Store, error) {
	sess, err := Connect(ctx, endpoint, opts...)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return ExecuteSession(ctx, sess, cmds, opts...)
}

// ExecuteSession 在已有会话上执行
func ExecuteSession(ctx context.Context, sess *session.Session, cmds []*command.Command, opts ...Option) (*response.Store, error) {
	s := build(opts)
	var eopts []session.ExecOption
	if s.session.ContinueOnError {
		eopts = append(eopts, session.WithContinueOnError(true))
	}
	if s.subscriber != nil {
		eopts = append(eopts, session.WithSubscriber(s.subscriber))
	}
	return sess.Execute(ctx, cmds, eopts...)
}

// Configure 以 configure ... end 包裹后执行
func Configure(ctx context.Context, endpoint string, cmds []*command.Command, opts ...Option) (*response.Store, error) {
	return Execute(ctx, endpoint, command.Wrap("configure", "end", cmds), opts...)
}

// Background 后台并发执行，返回已启动的任务池
func Background(ctx context.Context, endpoints []string, cmds []*command.Command, opts ...Option) (*pool.Pool, error) {
	p := newPool(endpoints, cmds, build(opts))
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Batch 并发执行并按完成顺序产出结果；提前结束迭代会终止剩余设备
func Batch(ctx context.Context, endpoints []string, cmds []*command.Command, opts ...Option) iter.Seq[*response.Store] {
	return func(yield func(*response.Store) bool) {
		p, err := Background(ctx, endpoints, cmds, opts...)
		if err != nil {
			return
		}
		for s := range p.Results() {
			if !yield(s) {
				p.Kill()
				return
			}
		}
	}
}

func newPool(endpoints []string, cmds []*command.Command, s *settings) *pool.Pool {
	base := s.config("")
	return pool.New(pool.Targets(endpoints...), cmds, pool.Options{
		Size:       s.poolSize,
		Delay:      s.delay,
		Base:       base,
		Subscriber: s.subscriber,
	})
}
