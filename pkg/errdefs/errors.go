package errdefs

import (
	"errors"
	"fmt"

	"github.com/sshcollectorpro/netcomm/pkg/command"
)

// 错误分类哨兵，配合 errors.Is 使用
var (
	ErrConnectFailed        = errors.New("connect failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthorizationFailed  = errors.New("authorization failed")
	ErrExecuteFailed        = errors.New("execute failed")
	ErrQueue                = errors.New("queue error")
	ErrTimeout              = errors.New("timed out")
	ErrSessionClosed        = errors.New("session closed")
	ErrNotConnected         = errors.New("session not connected")
)

// HostError 建立会话阶段的错误（连接、认证、提权）
type HostError struct {
	Kind error
	Host string
	Err  error
}

func (e *HostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Host, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Host, e.Kind, e.Err)
}

// Is 匹配分类哨兵
func (e *HostError) Is(target error) bool {
	return target == e.Kind
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// ConnectFailed 网络或传输层建立失败
func ConnectFailed(host string, err error) error {
	return &HostError{Kind: ErrConnectFailed, Host: host, Err: err}
}

// AuthenticationFailed 登录凭据被拒绝
func AuthenticationFailed(host string, err error) error {
	return &HostError{Kind: ErrAuthenticationFailed, Host: host, Err: err}
}

// AuthorizationFailed 提权口令被拒绝
func AuthorizationFailed(host string, err error) error {
	return &HostError{Kind: ErrAuthorizationFailed, Host: host, Err: err}
}

// ExecuteFailed 命令执行失败或超时，携带出错的命令
type ExecuteFailed struct {
	Command *command.Command
	Output  string
	Err     error
}

// NewExecuteFailed 构造命令执行错误，output 为清理后的设备回显
func NewExecuteFailed(cmd *command.Command, output string, err error) *ExecuteFailed {
	return &ExecuteFailed{Command: cmd, Output: output, Err: err}
}

func (e *ExecuteFailed) Error() string {
	expr := ""
	if e.Command != nil {
		expr = e.Command.Expression()
	}
	switch {
	case e.Err != nil && e.Output != "":
		return fmt.Sprintf("execute failed: %q: %v: %s", expr, e.Err, e.Output)
	case e.Err != nil:
		return fmt.Sprintf("execute failed: %q: %v", expr, e.Err)
	case e.Output != "":
		return fmt.Sprintf("execute failed: %q: %s", expr, e.Output)
	default:
		return fmt.Sprintf("execute failed: %q", expr)
	}
}

// Is 同时匹配 ErrExecuteFailed 与内部错误
func (e *ExecuteFailed) Is(target error) bool {
	return target == ErrExecuteFailed
}

func (e *ExecuteFailed) Unwrap() error {
	return e.Err
}

// QueueError 结果队列不可用
func QueueError(reason string) error {
	return fmt.Errorf("%w: %s", ErrQueue, reason)
}

// Name 返回错误分类名称，用于结果展示
func Name(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectFailed):
		return "ConnectFailed"
	case errors.Is(err, ErrAuthenticationFailed):
		return "AuthenticationFailed"
	case errors.Is(err, ErrAuthorizationFailed):
		return "AuthorizationFailed"
	case errors.Is(err, ErrExecuteFailed):
		return "ExecuteFailed"
	case errors.Is(err, ErrQueue):
		return "QueueError"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	default:
		return "Error"
	}
}
