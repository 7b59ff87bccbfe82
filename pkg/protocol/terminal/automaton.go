package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
)

var (
	// CSI / OSC / 单字符控制序列
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[=>()][0-9A-Za-z]?`)
	// 键盘模式切换行：ESC ... =
	keypadPattern = regexp.MustCompile(`\x1b[^=]*=`)
	lineBreak     = regexp.MustCompile(`\r*\n|\r+`)
)

// TransportError 通道级错误，会话不可继续
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "terminal transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Automaton 将字符流切分为单条命令的响应
type Automaton struct {
	patterns   Patterns
	window     int
	terminator string
	privileged bool
}

// NewAutomaton 创建自动机，window<=0 时使用 DefaultWindow
func NewAutomaton(p Patterns, window int, terminator string) *Automaton {
	if window <= 0 {
		window = DefaultWindow
	}
	if terminator == "" {
		terminator = "\r"
	}
	return &Automaton{patterns: p, window: window, terminator: terminator}
}

// Privileged 最近一次提示符是否处于特权模式
func (a *Automaton) Privileged() bool { return a.privileged }

// SetPrivileged 提权成功后标记
func (a *Automaton) SetPrivileged(v bool) { a.privileged = v }

// Run 发送一条命令并读取到提示符重新出现
//
// 命令出错或超时返回 *errdefs.ExecuteFailed（通道仍可用）；
// 读写失败返回 *TransportError。
func (a *Automaton) Run(ctx context.Context, ch Channel, cmd *command.Command, timeout time.Duration) (string, error) {
	if d, ok := ch.(interface{ Drain() string }); ok {
		d.Drain()
	}

	expr := cmd.Expression()
	if _, err := io.WriteString(ch, expr+a.terminator); err != nil {
		return "", &TransportError{Err: err}
	}

	prompts := cmd.Prompts()
	answers := cmd.Answers()

	var buf strings.Builder
	errored := false
	answeredAt := -1
	for {
		chunk, err := ch.ReadChunk(ctx, timeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				msg := fmt.Sprintf("%% Timed out while running: %s", expr)
				return msg, errdefs.NewExecuteFailed(cmd, msg, errdefs.ErrTimeout)
			}
			return "", &TransportError{Err: err}
		}
		buf.WriteString(chunk)
		text := buf.String()
		start := a.windowStart(text, len(text))
		win := text[start:]

		// 错误只在窗口内匹配，窗口跨越读取边界
		if !errored {
			for _, re := range a.patterns.Errors {
				if re.MatchString(win) {
					errored = true
					break
				}
			}
		}

		if i, end := matchFirst(prompts, win); i >= 0 && start+end > answeredAt {
			answeredAt = start + end
			if _, err := io.WriteString(ch, answers[i]+a.terminator); err != nil {
				return "", &TransportError{Err: err}
			}
			continue
		}

		if i, _ := matchFirst(a.patterns.Prompts, win); i >= 0 {
			a.observePrompt(win)
			output := a.clean(text, expr)
			if errored {
				return output, errdefs.NewExecuteFailed(cmd, output, nil)
			}
			return output, nil
		}
	}
}

// ReadBanner 读取登录横幅直到首个提示符出现，横幅不作为命令响应
// 短时间内未见提示符时发送一次换行诱发
func (a *Automaton) ReadBanner(ctx context.Context, ch Channel, timeout time.Duration) (string, error) {
	wait := timeout
	if wait <= 0 || wait > 3*time.Second {
		wait = 3 * time.Second
	}
	var buf strings.Builder
	nudged := false
	for {
		chunk, err := ch.ReadChunk(ctx, wait)
		if err != nil {
			if !errors.Is(err, ErrReadTimeout) {
				return "", &TransportError{Err: err}
			}
			if nudged {
				return "", fmt.Errorf("no prompt received: %w", errdefs.ErrTimeout)
			}
			nudged = true
			wait = timeout
			if _, err := io.WriteString(ch, a.terminator); err != nil {
				return "", &TransportError{Err: err}
			}
			continue
		}
		buf.WriteString(chunk)
		text := buf.String()
		win := text[a.windowStart(text, len(text)):]
		if i, _ := matchFirst(a.patterns.Prompts, win); i >= 0 {
			a.observePrompt(win)
			return a.clean(text, ""), nil
		}
	}
}

// windowStart 计算距 end 之前 window 个字符的字节偏移
func (a *Automaton) windowStart(text string, end int) int {
	start := end
	for n := 0; n < a.window && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	return start
}

func matchFirst(res []*regexp.Regexp, s string) (int, int) {
	for i, re := range res {
		if loc := re.FindStringIndex(s); loc != nil {
			return i, loc[1]
		}
	}
	return -1, 0
}

func (a *Automaton) observePrompt(win string) {
	p := strings.TrimRight(win, " ")
	switch {
	case strings.HasSuffix(p, "#"):
		a.privileged = true
	case strings.HasSuffix(p, ">"):
		a.privileged = false
	}
}

// clean 去除回显命令行、结尾提示符行和终端控制序列
func (a *Automaton) clean(text, expr string) string {
	raw := lineBreak.Split(text, -1)
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		stripped := ansiPattern.ReplaceAllString(line, "")
		if keypadPattern.MatchString(line) && strings.TrimSpace(stripped) == "" {
			continue
		}
		lines = append(lines, stripped)
	}

	// 开头的空行与回显
	i := 0
	echoed := expr == ""
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if !echoed && (strings.HasPrefix(trimmed, expr) || strings.HasSuffix(trimmed, expr)) {
			echoed = true
			i++
			continue
		}
		break
	}
	lines = lines[i:]

	// 结尾提示符行
	j := len(lines)
	for j > 0 && strings.TrimSpace(lines[j-1]) == "" {
		j--
	}
	if j > 0 && a.isPrompt(lines[j-1]) {
		j--
	}
	for j > 0 && strings.TrimSpace(lines[j-1]) == "" {
		j--
	}
	return strings.Join(lines[:j], "\n")
}

func (a *Automaton) isPrompt(line string) bool {
	for _, re := range a.patterns.Prompts {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
