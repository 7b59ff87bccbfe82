// Package mock 提供行为确定的模拟设备适配器，用于测试与演练
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
)

// Version show version 的固定输出
const Version = "netcomm mock device\nSoftware image version: 1.0.0\nArchitecture: x86_64"

// Restricted 特权命令的输出
const Restricted = "Drink more Ovaltine"

// Adapter 模拟适配器
type Adapter struct {
	mu         sync.Mutex
	host       string
	connected  bool
	authorized bool
	closed     bool
	now        func() time.Time
}

// New 创建模拟适配器
func New() protocol.Adapter {
	return &Adapter{now: time.Now}
}

// Connect 主机以 .invalid 结尾视为不可达，用户名或密码包含 bad 视为认证失败
func (a *Adapter) Connect(ctx context.Context, host string, creds protocol.Credentials, opts protocol.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errdefs.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return errdefs.ConnectFailed(host, err)
	}
	if strings.HasSuffix(host, ".invalid") {
		return errdefs.ConnectFailed(host, fmt.Errorf("dial tcp %s: no such host", host))
	}
	if strings.Contains(creds.Username, "bad") || strings.Contains(creds.Password, "bad") {
		return errdefs.AuthenticationFailed(host, errors.New("invalid username/password"))
	}
	a.host = host
	a.connected = true
	return nil
}

// Authorize 口令包含 bad 视为失败
func (a *Adapter) Authorize(ctx context.Context, secret, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	if strings.Contains(secret, "bad") {
		return errdefs.AuthorizationFailed(a.host, errors.New("invalid authorization"))
	}
	a.authorized = true
	return nil
}

// Send 顺序执行模拟命令
func (a *Adapter) Send(ctx context.Context, cmds []*command.Command, so protocol.SendOptions) ([]protocol.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}
	results := make([]protocol.Result, 0, len(cmds))
	for _, c := range cmds {
		out, errored, err := a.run(ctx, c.Expression())
		if err != nil {
			return results, errdefs.NewExecuteFailed(c, "", err)
		}
		results = append(results, protocol.Result{Command: c, Output: out, Errored: errored})
		if errored && !so.ContinueOnError {
			break
		}
	}
	return results, nil
}

func (a *Adapter) run(ctx context.Context, expr string) (string, bool, error) {
	fields := strings.Fields(expr)
	switch {
	case expr == "show version":
		return Version, false, nil
	case expr == "show clock":
		return a.now().UTC().Format(time.RFC3339), false, nil
	case expr == "show restricted":
		if !a.authorized {
			return "% Command not authorized", true, nil
		}
		return Restricted, false, nil
	case expr == "configure" || expr == "configure terminal" || expr == "end":
		return "", false, nil
	case len(fields) == 2 && fields[0] == "sleep":
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			return "% Invalid input: " + expr, true, nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	default:
		return "% Invalid input: " + expr, true, nil
	}
}

// Close 可重复调用
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

func (a *Adapter) check() error {
	if a.closed {
		return errdefs.ErrSessionClosed
	}
	if !a.connected {
		return errdefs.ErrNotConnected
	}
	return nil
}
