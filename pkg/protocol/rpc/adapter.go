package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
)

// DefaultTimeout 单次请求默认超时
const DefaultTimeout = 30 * time.Second

var (
	pathMu      sync.RWMutex
	defaultPath = "/command-api"
)

// SetDefaultPath 设置 eAPI 路径，启动时由配置调用
func SetDefaultPath(p string) {
	if p == "" {
		return
	}
	pathMu.Lock()
	defaultPath = p
	pathMu.Unlock()
}

func currentPath() string {
	pathMu.RLock()
	defer pathMu.RUnlock()
	return defaultPath
}

// StatusError 非 200 的 HTTP 响应
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "eapi http status: " + e.Status }

// RemoteError JSON-RPC 错误对象
type RemoteError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  params `json:"params"`
	ID      string `json:"id"`
}

type params struct {
	Version int       `json:"version"`
	Cmds    []cmdItem `json:"cmds"`
	Format  string    `json:"format"`
}

type cmdItem struct {
	Cmd   string `json:"cmd"`
	Input string `json:"input,omitempty"`
}

type reply struct {
	ID     string            `json:"id"`
	Result []json.RawMessage `json:"result"`
	Error  *RemoteError      `json:"error"`
}

// Adapter Arista eAPI 适配器，每次 Send 为一次 runCmds 请求
type Adapter struct {
	client *http.Client
	custom bool

	mu     sync.Mutex
	host   string
	url    string
	creds  protocol.Credentials
	format string
	enable *cmdItem
	ready  bool
	closed bool
	log    *logrus.Entry
}

// New 默认 HTTP 客户端的 eAPI 适配器
func New() protocol.Adapter {
	return &Adapter{log: logger.Component("eapi")}
}

// NewWithClient 指定 HTTP 客户端，超时与 TLS 由调用方负责
func NewWithClient(c *http.Client) *Adapter {
	return &Adapter{client: c, custom: true, log: logger.Component("eapi")}
}

// Connect 组装地址并以 show version 探测，401 视为认证失败
func (a *Adapter) Connect(ctx context.Context, host string, creds protocol.Credentials, opts protocol.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errdefs.ErrSessionClosed
	}

	scheme := opts.Transport
	if scheme == "" {
		scheme = "http"
	}
	if scheme != "http" && scheme != "https" {
		return errdefs.ConnectFailed(host, fmt.Errorf("unsupported eapi transport %q", scheme))
	}
	switch opts.Encoding {
	case "", "text":
		a.format = "text"
	case "json":
		a.format = "json"
	default:
		return fmt.Errorf("unsupported eapi encoding %q", opts.Encoding)
	}

	addr := host
	if opts.Port != 0 {
		addr = net.JoinHostPort(host, strconv.Itoa(opts.Port))
	}
	a.host = host
	a.url = scheme + "://" + addr + currentPath()
	a.creds = creds
	a.log = a.log.WithField("host", host)
	if !a.custom {
		a.client = &http.Client{
			Timeout: opts.TimeoutOr(DefaultTimeout),
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.Verify},
			},
		}
	}

	if _, err := a.call(ctx, []cmdItem{{Cmd: "show version"}}); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return errdefs.AuthenticationFailed(host, err)
		}
		return errdefs.ConnectFailed(host, err)
	}
	a.ready = true
	a.log.WithField("url", a.url).Info("eapi connected")
	return nil
}

// Authorize 记录 enable 命令并立即验证，之后每批命令前都会附带
func (a *Adapter) Authorize(ctx context.Context, secret, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	enable := &cmdItem{Cmd: "enable", Input: secret}
	if _, err := a.call(ctx, []cmdItem{*enable}); err != nil {
		return errdefs.AuthorizationFailed(a.host, err)
	}
	a.enable = enable
	return nil
}

// Send 发送命令；设备报错时失败命令标记为 errored，ContinueOnError 时剩余命令另起一次请求
func (a *Adapter) Send(ctx context.Context, cmds []*command.Command, so protocol.SendOptions) ([]protocol.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}

	results := make([]protocol.Result, 0, len(cmds))
	pending := cmds
	for len(pending) > 0 {
		items := make([]cmdItem, 0, len(pending)+1)
		offset := 0
		if a.enable != nil {
			items = append(items, *a.enable)
			offset = 1
		}
		for _, c := range pending {
			items = append(items, toItem(c))
		}

		rep, err := a.call(ctx, items)
		var re *RemoteError
		if err != nil && !errors.As(err, &re) {
			return results, errdefs.NewExecuteFailed(pending[0], "", err)
		}
		if re == nil {
			for i, c := range pending {
				out, ferr := a.render(rep.Result, i+offset)
				if ferr != nil {
					return results, errdefs.NewExecuteFailed(c, "", ferr)
				}
				results = append(results, protocol.Result{Command: c, Output: out})
			}
			return results, nil
		}

		// data 包含失败命令及其之前的结果
		failed := len(re.Data) - 1 - offset
		if failed < 0 {
			if offset == 1 && len(re.Data) == 1 {
				return results, errdefs.AuthorizationFailed(a.host, re)
			}
			failed = 0
		}
		if failed >= len(pending) {
			failed = len(pending) - 1
		}
		for i := 0; i < failed; i++ {
			out, _ := a.render(re.Data, i+offset)
			results = append(results, protocol.Result{Command: pending[i], Output: out})
		}
		results = append(results, protocol.Result{Command: pending[failed], Output: re.Error(), Errored: true})
		logger.DebugOutput(a.log, pending[failed].Expression(), re.Error(), true)
		if !so.ContinueOnError {
			return results, nil
		}
		pending = pending[failed+1:]
	}
	return results, nil
}

// Close 释放空闲连接，可重复调用
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.ready = false
	if a.client != nil && !a.custom {
		a.client.CloseIdleConnections()
	}
	return nil
}

func (a *Adapter) check() error {
	if a.closed {
		return errdefs.ErrSessionClosed
	}
	if !a.ready {
		return fmt.Errorf("%s: %w", a.host, errdefs.ErrNotConnected)
	}
	return nil
}

func toItem(c *command.Command) cmdItem {
	item := cmdItem{Cmd: c.Expression()}
	if answers := c.Answers(); len(answers) > 0 {
		item.Input = answers[0]
	}
	return item
}

// render 按编码提取第 i 条结果：text 取 output 字段，json 返回紧凑 JSON
func (a *Adapter) render(items []json.RawMessage, i int) (string, error) {
	if i >= len(items) {
		return "", fmt.Errorf("eapi returned %d results, want index %d", len(items), i)
	}
	if a.format == "json" {
		var buf bytes.Buffer
		if err := json.Compact(&buf, items[i]); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	var item struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(items[i], &item); err != nil {
		return "", fmt.Errorf("failed to decode eapi result: %w", err)
	}
	return item.Output, nil
}

// call 发送一次 runCmds；JSON-RPC 错误以 *RemoteError 返回，同时返回解析后的响应
func (a *Adapter) call(ctx context.Context, items []cmdItem) (*reply, error) {
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  "runCmds",
		Params:  params{Version: 1, Cmds: items, Format: a.format},
		ID:      "netcomm-" + uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.creds.Username != "" {
		req.SetBasicAuth(a.creds.Username, a.creds.Password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %v", errdefs.ErrTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode eapi response: %w", err)
	}
	if rep.Error != nil {
		return &rep, rep.Error
	}
	return &rep, nil
}
