package protocol

import (
	"context"
	"time"

	"github.com/sshcollectorpro/netcomm/pkg/command"
)

// Adapter 协议适配器，负责单台设备的连接、提权、发送和关闭
//
// Send 保持命令顺序，单条命令失败通过 Result.Errored 表示；
// 不可恢复的传输错误返回已完成的结果和 *errdefs.ExecuteFailed。
type Adapter interface {
	Connect(ctx context.Context, host string, creds Credentials, opts Options) error
	Authorize(ctx context.Context, secret, username string) error
	Send(ctx context.Context, cmds []*command.Command, so SendOptions) ([]Result, error)
	Close() error
}

// Factory 适配器构造函数
type Factory func() Adapter

// Result 单条命令的发送结果
type Result struct {
	Command *command.Command
	Output  string
	Errored bool
}

// SendOptions 发送选项
type SendOptions struct {
	// ContinueOnError 为 false 时在第一条出错命令后停止发送
	ContinueOnError bool
}

// Credentials 登录凭据
type Credentials struct {
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
	Secret   string `json:"-" yaml:"secret" mapstructure:"secret"`
}

// HasSecret 是否携带提权口令
func (c Credentials) HasSecret() bool { return c.Secret != "" }

// Merge 非空字段覆盖
func (c Credentials) Merge(o Credentials) Credentials {
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.Secret != "" {
		c.Secret = o.Secret
	}
	return c
}

// Options 连接选项
type Options struct {
	Port      int
	Transport string
	Timeout   time.Duration
	// Encoding 终端为设备字符集(utf-8/gbk/...)，RPC 为 text/json
	Encoding string
	Verify   bool
	Platform string
	Extra    map[string]string
}

// Merge 非零字段覆盖，Extra 按键合并
func (o Options) Merge(ov Options) Options {
	if ov.Port != 0 {
		o.Port = ov.Port
	}
	if ov.Transport != "" {
		o.Transport = ov.Transport
	}
	if ov.Timeout != 0 {
		o.Timeout = ov.Timeout
	}
	if ov.Encoding != "" {
		o.Encoding = ov.Encoding
	}
	if ov.Verify {
		o.Verify = true
	}
	if ov.Platform != "" {
		o.Platform = ov.Platform
	}
	if len(ov.Extra) > 0 {
		merged := make(map[string]string, len(o.Extra)+len(ov.Extra))
		for k, v := range o.Extra {
			merged[k] = v
		}
		for k, v := range ov.Extra {
			merged[k] = v
		}
		o.Extra = merged
	}
	return o
}

// TimeoutOr 未设置超时时返回默认值
func (o Options) TimeoutOr(def time.Duration) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return def
}
