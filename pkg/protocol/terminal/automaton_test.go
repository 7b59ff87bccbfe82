package terminal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
)

// scriptChannel 按写入内容追加预置输出，无数据时立即返回读取超时
type scriptChannel struct {
	mu      sync.Mutex
	pending []string
	replies map[string][]string
	writes  []string
	failAt  int
}

func newScript(initial ...string) *scriptChannel {
	return &scriptChannel{pending: initial, replies: map[string][]string{}, failAt: -1}
}

func (s *scriptChannel) on(write string, chunks ...string) *scriptChannel {
	s.replies[write] = chunks
	return s
}

func (s *scriptChannel) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt == len(s.writes) {
		return 0, errors.New("broken pipe")
	}
	s.writes = append(s.writes, string(p))
	s.pending = append(s.pending, s.replies[string(p)]...)
	return len(p), nil
}

func (s *scriptChannel) ReadChunk(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.pending) == 0 {
		return "", ErrReadTimeout
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *scriptChannel) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func newTestAutomaton() *Automaton {
	return NewAutomaton(DefaultPatterns(), 0, "\r")
}

func TestRunPlainCommand(t *testing.T) {
	ch := newScript().on("show clock\r", "show clock\r\n", "Tue Oct 13 10:00:00 2026\r\nTimezone: UTC\r\n", "sw1>")
	a := newTestAutomaton()

	out, err := a.Run(context.Background(), ch, command.Plain("show clock"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Tue Oct 13 10:00:00 2026\nTimezone: UTC", out, "应去除回显与结尾提示符")
	assert.False(t, a.Privileged())
	assert.Equal(t, []string{"show clock\r"}, ch.written())
}

func TestRunErroredCarriageReturns(t *testing.T) {
	ch := newScript().on("show foo\r", "show foo\r% Invalid input\rvEOS#")
	a := newTestAutomaton()

	out, err := a.Run(context.Background(), ch, command.Plain("show foo"), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrExecuteFailed))

	var ef *errdefs.ExecuteFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, "% Invalid input", ef.Output)
	assert.Equal(t, "show foo", ef.Command.Expression())
	assert.Equal(t, "% Invalid input", out)
	assert.True(t, a.Privileged(), "# 结尾的提示符应标记为特权模式")
}

func TestRunErrorStraddlesChunks(t *testing.T) {
	ch := newScript().on("show x\r", "show x\r\nAmbig", "uous command at marker\r\n", "sw1#")
	_, err := newTestAutomaton().Run(context.Background(), ch, command.Plain("show x"), time.Second)
	assert.ErrorIs(t, err, errdefs.ErrExecuteFailed, "跨块的错误文本也应识别")
}

func TestRunErrorOutsideWindowIgnored(t *testing.T) {
	body := "peer said: invalid input\r\n" + strings.Repeat("interface Ethernet1 up\r\n", 10)
	ch := newScript().on("show log\r", "show log\r\n"+body, "sw1#")
	out, err := newTestAutomaton().Run(context.Background(), ch, command.Plain("show log"), time.Second)
	require.NoError(t, err, "窗口之外的旧输出不触发错误")
	assert.Contains(t, out, "peer said: invalid input")

	ch = newScript().on("show log\r", "show log\r\n"+body+"% Invalid input\r\n", "sw1#")
	_, err = newTestAutomaton().Run(context.Background(), ch, command.Plain("show log"), time.Second)
	assert.ErrorIs(t, err, errdefs.ErrExecuteFailed, "窗口内的错误仍然识别")
}

func TestRunAnswersPromptOnce(t *testing.T) {
	ch := newScript().
		on("copy run start\r", "copy run start\r\n", "Destination filename [startup-config]? ").
		on("\r", "\r\nCopy completed\r\n", "sw1#")
	cmd, err := command.New("copy run start", []string{`\[startup-config\]\? ?$`}, []string{""})
	require.NoError(t, err)

	out, err := newTestAutomaton().Run(context.Background(), ch, cmd, time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "Copy completed")
	assert.Equal(t, []string{"copy run start\r", "\r"}, ch.written(), "同一处提示只回答一次")
}

func TestRunPromptMustBeAnchored(t *testing.T) {
	// 输出中间出现的 "sw1#" 不应结束命令
	ch := newScript().on("show run\r", "show run\r\nhostname sw1#\r\nend\r\n", "sw1#")
	out, err := newTestAutomaton().Run(context.Background(), ch, command.Plain("show run"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hostname sw1#\nend", out)
}

func TestRunTimeout(t *testing.T) {
	ch := newScript().on("sleep 10s\r", "sleep 10s\r\n")
	out, err := newTestAutomaton().Run(context.Background(), ch, command.Plain("sleep 10s"), 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrExecuteFailed)
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.Equal(t, "% Timed out while running: sleep 10s", out)
}

func TestRunTransportFailure(t *testing.T) {
	ch := newScript()
	ch.failAt = 0
	_, err := newTestAutomaton().Run(context.Background(), ch, command.Plain("show version"), time.Second)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.False(t, errors.Is(err, errdefs.ErrExecuteFailed))
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestAutomaton().Run(ctx, newScript(), command.Plain("show version"), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadBanner(t *testing.T) {
	ch := newScript("\x1b[?1h\x1b=\r\n", "Welcome to sw1\r\n", "sw1>")
	a := newTestAutomaton()
	banner, err := a.ReadBanner(context.Background(), ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to sw1", banner)
	assert.Empty(t, ch.written(), "已出现提示符时不应发送换行")
}

func TestReadBannerNudge(t *testing.T) {
	ch := newScript().on("\r", "\r\nsw1#")
	a := newTestAutomaton()
	banner, err := a.ReadBanner(context.Background(), ch, time.Second)
	require.NoError(t, err)
	assert.Empty(t, banner)
	assert.Equal(t, []string{"\r"}, ch.written())
	assert.True(t, a.Privileged())

	_, err = newTestAutomaton().ReadBanner(context.Background(), newScript(), time.Second)
	assert.ErrorIs(t, err, errdefs.ErrTimeout, "诱发后仍无提示符应失败")
}

func TestCleanStripsControlSequences(t *testing.T) {
	a := newTestAutomaton()
	text := "show int\r\n\x1b[1mEthernet1\x1b[0m is up\r\n\x1b[?1h\x1b=\r\n  mtu 1500\r\nsw1(config-if)#"
	assert.Equal(t, "Ethernet1 is up\n  mtu 1500", a.clean(text, "show int"))
}

func TestWindowStartRuneAware(t *testing.T) {
	a := NewAutomaton(DefaultPatterns(), 2, "")
	text := "abc设备"
	start := a.windowStart(text, len(text))
	assert.Equal(t, "设备", text[start:])
}
