package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/endpoint"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

// State 会话状态
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateAuthorized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateAuthorized:
		return "authorized"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config 会话参数
type Config struct {
	// Endpoint 主机名或 protocol[+transport]://user:pass@host:port
	Endpoint        string
	Protocol        string
	Credentials     protocol.Credentials
	Options         protocol.Options
	ContinueOnError bool
	// Factory 非空时忽略 Protocol，直接使用该适配器
	Factory protocol.Factory
}

// Merge 非零字段覆盖
func (c Config) Merge(o Config) Config {
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.Protocol != "" {
		c.Protocol = o.Protocol
	}
	c.Credentials = c.Credentials.Merge(o.Credentials)
	c.Options = c.Options.Merge(o.Options)
	if o.ContinueOnError {
		c.ContinueOnError = true
	}
	if o.Factory != nil {
		c.Factory = o.Factory
	}
	return c
}

// Session 一台设备的连接、提权与命令执行
type Session struct {
	cfg      Config
	host     string
	protocol string
	creds    protocol.Credentials
	opts     protocol.Options
	factory  protocol.Factory

	mu      sync.Mutex
	state   State
	adapter protocol.Adapter
	log     *logrus.Entry

	// active 供 Close 在执行中途打断读取，不经过 mu
	activeMu sync.Mutex
	active   protocol.Adapter
}

// New 解析地址并选择协议，不建立连接
func New(cfg Config) (*Session, error) {
	ep, err := endpoint.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	proto, transport := cfg.Protocol, cfg.Options.Transport
	if p, t, ok := strings.Cut(proto, "+"); ok {
		proto, transport = p, t
	}
	if ep.Protocol != "" {
		proto = ep.Protocol
		if ep.Transport != "" {
			transport = ep.Transport
		}
	}
	if proto == "" {
		proto = DefaultProtocol
	}

	factory := cfg.Factory
	if factory == nil {
		f, ok := Lookup(proto)
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q (available: %s)", proto, strings.Join(Protocols(), ", "))
		}
		factory = f
	}

	opts := cfg.Options
	opts.Transport = transport
	if ep.Port != 0 {
		opts.Port = ep.Port
	}
	creds := cfg.Credentials.Merge(protocol.Credentials{Username: ep.Username, Password: ep.Password})

	return &Session{
		cfg:      cfg,
		host:     ep.Hostname,
		protocol: proto,
		creds:    creds,
		opts:     opts,
		factory:  factory,
		log: logger.Component("session").WithFields(logrus.Fields{
			"host":     ep.Hostname,
			"protocol": proto,
		}),
	}, nil
}

// Host 设备主机名
func (s *Session) Host() string { return s.host }

// Protocol 解析后的协议名称
func (s *Session) Protocol() string { return s.protocol }

// Config 创建会话时的参数
func (s *Session) Config() Config { return s.cfg }

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected 已连接（含已提权）
func (s *Session) Connected() bool {
	st := s.State()
	return st == StateConnected || st == StateAuthorized
}

// Authorized 已提权
func (s *Session) Authorized() bool { return s.State() == StateAuthorized }

// Connect 建立连接，凭据带有 secret 时自动提权
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return errdefs.ErrSessionClosed
	case StateConnected, StateAuthorized:
		return nil
	}

	adapter := s.factory()
	if err := adapter.Connect(ctx, s.host, s.creds, s.opts); err != nil {
		_ = adapter.Close()
		s.log.WithError(err).Warn("connect failed")
		return err
	}
	s.adapter = adapter
	s.setActive(adapter)
	s.state = StateConnected
	s.log.Info("session connected")

	if s.creds.HasSecret() {
		if err := s.authorize(ctx, s.creds.Secret, s.creds.Username); err != nil {
			_ = adapter.Close()
			s.adapter = nil
			s.setActive(nil)
			s.state = StateUnconnected
			return err
		}
	}
	return nil
}

// Authorize 提权，适配器不支持时视为成功
func (s *Session) Authorize(ctx context.Context, secret, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.authorize(ctx, secret, username)
}

func (s *Session) authorize(ctx context.Context, secret, username string) error {
	if err := s.adapter.Authorize(ctx, secret, username); err != nil {
		if !errors.Is(err, errdefs.ErrAuthorizationFailed) {
			err = errdefs.AuthorizationFailed(s.host, err)
		}
		s.log.WithError(err).Warn("authorize failed")
		return err
	}
	s.state = StateAuthorized
	return nil
}

// ExecOption Execute 的可选参数
type ExecOption func(*execOptions)

type execOptions struct {
	continueOnError *bool
	subscribers     []response.Subscriber
}

// WithContinueOnError 覆盖 Config.ContinueOnError
func WithContinueOnError(v bool) ExecOption {
	return func(o *execOptions) { o.continueOnError = &v }
}

// WithSubscriber 为本次结果集合注册回调
func WithSubscriber(fn response.Subscriber) ExecOption {
	return func(o *execOptions) {
		if fn != nil {
			o.subscribers = append(o.subscribers, fn)
		}
	}
}

// Execute 顺序执行命令，每条结果对应一条 Response
//
// 命令失败记录为失败的 Response，默认停止剩余命令。
// 只有会话未连接或已关闭时返回错误。
func (s *Session) Execute(ctx context.Context, cmds []*command.Command, opts ...ExecOption) (*response.Store, error) {
	o := execOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	cont := s.cfg.ContinueOnError
	if o.continueOnError != nil {
		cont = *o.continueOnError
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	store := response.NewStore(s.host)
	for _, fn := range o.subscribers {
		store.Subscribe(fn)
	}
	if len(cmds) == 0 {
		return store, nil
	}

	results, err := s.adapter.Send(ctx, cmds, protocol.SendOptions{ContinueOnError: cont})
	for _, r := range results {
		store.Append(response.New(r.Command, r.Output, r.Errored))
	}
	if err != nil {
		var ef *errdefs.ExecuteFailed
		switch {
		case errors.As(err, &ef) && ef.Command != nil:
			msg := ef.Output
			if msg == "" {
				msg = err.Error()
			}
			store.Append(response.New(ef.Command, msg, true))
		case len(results) < len(cmds):
			store.Append(response.New(cmds[len(results)], fmt.Sprintf("%s: %v", errdefs.Name(err), err), true))
		}
		s.log.WithError(err).Warn("execute aborted")
	}
	return store, nil
}

// Clone 以当前配置为基础创建并连接新会话
func (s *Session) Clone(ctx context.Context, override Config) (*Session, error) {
	base := s.cfg
	if override.Endpoint == "" && base.Endpoint == "" {
		base.Endpoint = s.host
	}
	clone, err := New(base.Merge(override))
	if err != nil {
		return nil, err
	}
	if err := clone.Connect(ctx); err != nil {
		return nil, err
	}
	return clone, nil
}

// Close 关闭会话，可重复调用，关闭后不可再用；会打断进行中的执行
func (s *Session) Close() error {
	s.activeMu.Lock()
	active := s.active
	s.active = nil
	s.activeMu.Unlock()
	if active != nil {
		_ = active.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.adapter == nil {
		return nil
	}
	err := s.adapter.Close()
	s.adapter = nil
	s.log.Debug("session closed")
	return err
}

func (s *Session) setActive(a protocol.Adapter) {
	s.activeMu.Lock()
	s.active = a
	s.activeMu.Unlock()
}

func (s *Session) ready() error {
	switch s.state {
	case StateClosed:
		return errdefs.ErrSessionClosed
	case StateUnconnected:
		return fmt.Errorf("%s: %w", s.host, errdefs.ErrNotConnected)
	}
	return nil
}
