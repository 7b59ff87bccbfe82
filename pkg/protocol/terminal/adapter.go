package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/internal/util"
	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
	"github.com/sshcollectorpro/netcomm/pkg/ssh"
)

// DefaultTimeout 单次读取默认超时
const DefaultTimeout = 30 * time.Second

// Dialer 打开到设备的交互式通道
type Dialer interface {
	Dial(ctx context.Context, host string, creds protocol.Credentials, opts protocol.Options) (io.ReadWriteCloser, error)
}

// SSHDialer 基于 pkg/ssh 的 PTY Shell
type SSHDialer struct {
	Config ssh.Config
}

type sshConn struct {
	*ssh.Shell
	client *ssh.Client
}

func (c *sshConn) Close() error {
	err := c.Shell.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dial 实现 Dialer，拨号失败映射为 ConnectFailed，认证失败映射为 AuthenticationFailed
func (d SSHDialer) Dial(ctx context.Context, host string, creds protocol.Credentials, opts protocol.Options) (io.ReadWriteCloser, error) {
	cfg := d.Config
	if cfg.Timeout == 0 {
		cfg.Timeout = opts.TimeoutOr(DefaultTimeout)
	}
	client := ssh.NewClient(&cfg)
	info := &ssh.ConnectionInfo{
		Host:     host,
		Port:     opts.Port,
		Username: creds.Username,
		Password: creds.Password,
		KeyFile:  opts.Extra["key_file"],
	}
	if err := client.Connect(ctx, info); err != nil {
		if errors.Is(err, ssh.ErrAuth) {
			return nil, errdefs.AuthenticationFailed(host, err)
		}
		return nil, errdefs.ConnectFailed(host, err)
	}
	shell, err := client.OpenShell(ctx)
	if err != nil {
		client.Close()
		return nil, errdefs.ConnectFailed(host, err)
	}
	return &sshConn{Shell: shell, client: client}, nil
}

// Adapter 交互式终端协议适配器
type Adapter struct {
	dialer Dialer

	mu        sync.Mutex
	host      string
	conn      io.ReadWriteCloser
	stream    *Stream
	live      atomic.Pointer[Stream]
	automaton *Automaton
	profile   Profile
	timeout   time.Duration
	banner    string
	closed    bool
	log       *logrus.Entry
}

// New 使用 SSH 的终端适配器，拨号参数取自 SetDefaults
func New() protocol.Adapter {
	return NewWithDialer(SSHDialer{Config: currentSettings().SSH})
}

// NewWithDialer 指定通道来源，便于测试
func NewWithDialer(d Dialer) *Adapter {
	return &Adapter{dialer: d, log: logger.Component("terminal")}
}

// Connect 建立通道，读取登录横幅并执行平台初始化命令
func (a *Adapter) Connect(ctx context.Context, host string, creds protocol.Credentials, opts protocol.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errdefs.ErrSessionClosed
	}

	st := currentSettings()
	patterns, err := compilePatterns(st.PromptPatterns, st.ErrorPatterns, st.PasswordPattern)
	if err != nil {
		return err
	}
	a.profile = GetProfile(opts.Platform)
	if patterns, err = patterns.withProfile(a.profile); err != nil {
		return err
	}
	enc, err := util.LookupEncoding(opts.Encoding)
	if err != nil {
		return err
	}

	a.host = host
	a.timeout = opts.TimeoutOr(DefaultTimeout)
	a.log = a.log.WithField("host", host)

	conn, err := a.dialer.Dial(ctx, host, creds, opts)
	if err != nil {
		return err
	}
	a.conn = conn
	a.stream = NewStream(conn, util.NewStreamDecoder(enc))
	a.live.Store(a.stream)
	a.automaton = NewAutomaton(patterns, st.Window, st.LineTerminator)

	banner, err := a.automaton.ReadBanner(ctx, a.stream, a.timeout)
	if err != nil {
		a.release()
		return errdefs.ConnectFailed(host, err)
	}
	a.banner = banner

	for _, expr := range a.profile.SetupCommands {
		if _, err := a.automaton.Run(ctx, a.stream, command.Plain(expr), a.timeout); err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				a.release()
				return errdefs.ConnectFailed(host, err)
			}
			a.log.WithError(err).Debug("setup command ignored")
		}
	}
	a.log.WithField("platform", a.profile.Name).Info("terminal connected")
	return nil
}

// Authorize 发送 enable 并在密码提示时回答口令
func (a *Adapter) Authorize(ctx context.Context, secret, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	cmd, err := command.NewWithPatterns(a.profile.EnableCommand, []*regexp.Regexp{a.automaton.patterns.Password}, []string{secret})
	if err != nil {
		return err
	}
	if _, err := a.automaton.Run(ctx, a.stream, cmd, a.timeout); err != nil {
		return errdefs.AuthorizationFailed(a.host, err)
	}
	a.automaton.SetPrivileged(true)
	a.log.Debug("privileged mode entered")
	return nil
}

// Send 顺序执行命令
func (a *Adapter) Send(ctx context.Context, cmds []*command.Command, so protocol.SendOptions) ([]protocol.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return nil, err
	}

	results := make([]protocol.Result, 0, len(cmds))
	for _, cmd := range cmds {
		out, err := a.automaton.Run(ctx, a.stream, cmd, a.timeout)
		var ef *errdefs.ExecuteFailed
		switch {
		case err == nil:
			results = append(results, protocol.Result{Command: cmd, Output: out})
			logger.DebugOutput(a.log, cmd.Expression(), out, false)
		case errors.As(err, &ef):
			results = append(results, protocol.Result{Command: cmd, Output: ef.Output, Errored: true})
			logger.DebugOutput(a.log, cmd.Expression(), ef.Output, true)
			if !so.ContinueOnError {
				return results, nil
			}
		default:
			return results, errdefs.NewExecuteFailed(cmd, "", err)
		}
	}
	return results, nil
}

// Banner 登录横幅
func (a *Adapter) Banner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.banner
}

// Privileged 当前是否处于特权模式
func (a *Adapter) Privileged() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.automaton != nil && a.automaton.Privileged()
}

// Close 尝试退出后关闭通道，可重复调用；会打断进行中的读取
func (a *Adapter) Close() error {
	if s := a.live.Load(); s != nil {
		s.Close()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.conn != nil && a.profile.ExitCommand != "" {
		_, _ = io.WriteString(a.conn, a.profile.ExitCommand+a.automaton.terminator)
	}
	return a.release()
}

func (a *Adapter) release() error {
	var err error
	if a.stream != nil {
		a.stream.Close()
		a.stream = nil
		a.live.Store(nil)
	}
	if a.conn != nil {
		err = a.conn.Close()
		a.conn = nil
	}
	return err
}

func (a *Adapter) ready() error {
	if a.closed {
		return errdefs.ErrSessionClosed
	}
	if a.stream == nil {
		return fmt.Errorf("%s: %w", a.host, errdefs.ErrNotConnected)
	}
	return nil
}
