package simulate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Device 模拟设备的行为描述
type Device struct {
	Hostname string
	Banner   string
	// PromptSuffix 普通模式提示符后缀，默认 ">"
	PromptSuffix   string
	EnableRequired bool
	EnableSuffix   string
	Secret         string
	// Commands 命令到输出的映射，优先于 CommandDir
	Commands map[string]string
	// CommandDir 目录下的 <命令>.txt 或空格替换为下划线的文件
	CommandDir string
	// Privileged 需要特权模式才能执行的命令
	Privileged []string
}

func (d Device) withDefaults() Device {
	if d.PromptSuffix == "" {
		d.PromptSuffix = ">"
	}
	if d.EnableSuffix == "" {
		d.EnableSuffix = "#"
	}
	cmds := make(map[string]string, len(d.Commands)+2)
	for k, v := range d.Commands {
		cmds[k] = v
	}
	d.Commands = cmds
	if _, ok := d.Commands["show version"]; !ok {
		d.Commands["show version"] = "Arista vEOS\nHardware version:\nSoftware image version: 4.20.1F\nArchitecture: i386"
	}
	if _, ok := d.Commands["show clock"]; !ok {
		d.Commands["show clock"] = "Tue Oct 13 10:00:00 2026\nTimezone: UTC"
	}
	return d
}

func (d Device) output(cmd string) (string, bool) {
	if out, ok := d.Commands[cmd]; ok {
		return ensureCRLF(out), true
	}
	if d.CommandDir == "" {
		return "", false
	}
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		if bs, err := os.ReadFile(filepath.Join(d.CommandDir, name+".txt")); err == nil {
			return ensureCRLF(string(bs)), true
		}
	}
	return "", false
}

func (d Device) requiresPrivilege(cmd string) bool {
	for _, p := range d.Privileged {
		if strings.EqualFold(p, cmd) {
			return true
		}
	}
	return false
}

// shell 一个交互式会话的设备状态
type shell struct {
	rw         io.ReadWriteCloser
	dev        Device
	idle       time.Duration
	privileged bool
	config     bool
	buf        [1]byte
	lastCR     bool
}

func newShell(rw io.ReadWriteCloser, dev Device, idle time.Duration) *shell {
	return &shell{rw: rw, dev: dev, idle: idle}
}

func (s *shell) prompt() string {
	suffix := s.dev.PromptSuffix
	if s.privileged {
		suffix = s.dev.EnableSuffix
	}
	if s.config {
		return s.dev.Hostname + "(config)" + suffix
	}
	return s.dev.Hostname + suffix
}

func (s *shell) write(text string) {
	_, _ = io.WriteString(s.rw, text)
}

// readLine 读取一行输入；echo 为 true 时回显字符，CR 或 LF 结束
func (s *shell) readLine(echo bool) (string, error) {
	var line []byte
	for {
		if _, err := s.rw.Read(s.buf[:]); err != nil {
			return string(line), err
		}
		c := s.buf[0]
		if c == '\n' && s.lastCR {
			s.lastCR = false
			continue
		}
		s.lastCR = c == '\r'
		switch c {
		case '\r', '\n':
			if echo {
				s.write("\r\n")
			}
			return string(line), nil
		case 0x7f, 0x08:
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
		default:
			line = append(line, c)
			if echo {
				_, _ = s.rw.Write([]byte{c})
			}
		}
	}
}

func (s *shell) run() {
	if s.dev.Banner != "" {
		s.write(ensureCRLF(s.dev.Banner))
	}
	s.write(s.prompt())

	var idleTimer *time.Timer
	if s.idle > 0 {
		idleTimer = time.AfterFunc(s.idle, func() {
			s.write("\r\nSession closed due to idle timeout.\r\n")
			_ = s.rw.Close()
		})
		defer idleTimer.Stop()
	}

	for {
		line, err := s.readLine(true)
		if err != nil {
			return
		}
		if idleTimer != nil {
			idleTimer.Reset(s.idle)
		}
		cmd := strings.TrimSpace(line)
		if !s.handle(cmd) {
			return
		}
		s.write(s.prompt())
	}
}

// handle 执行一条命令，返回 false 表示会话结束
func (s *shell) handle(cmd string) bool {
	fields := strings.Fields(cmd)
	switch {
	case cmd == "":
		return true
	case strings.EqualFold(cmd, "exit") || strings.EqualFold(cmd, "quit"):
		if s.config {
			s.config = false
			return true
		}
		return false
	case strings.EqualFold(cmd, "enable") || strings.EqualFold(cmd, "super"):
		s.enable()
		return true
	case strings.EqualFold(cmd, "disable"):
		s.privileged = false
		return true
	case strings.HasPrefix(strings.ToLower(cmd), "configure"):
		if !s.privileged && s.dev.EnableRequired {
			s.write("% Invalid input (privileged mode required)\r\n")
			return true
		}
		s.config = true
		return true
	case strings.EqualFold(cmd, "end"):
		s.config = false
		return true
	case strings.HasPrefix(cmd, "terminal ") || strings.HasPrefix(cmd, "screen-length"):
		return true
	case fields[0] == "sleep" && len(fields) == 2:
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			s.write("% Invalid input\r\n")
			return true
		}
		time.Sleep(d)
		s.write("slept " + d.String() + "\r\n")
		return true
	case strings.EqualFold(cmd, "reload"):
		s.write("Proceed with reload? [confirm]")
		answer, err := s.readLine(true)
		if err != nil {
			return false
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			s.write("Reload scheduled\r\n")
		} else {
			s.write("Reload aborted\r\n")
		}
		return true
	case s.config:
		// 配置模式下接受任意命令
		return true
	}

	if s.dev.requiresPrivilege(cmd) && !s.privileged {
		s.write("% Invalid input (privileged mode required)\r\n")
		return true
	}
	out, ok := s.dev.output(cmd)
	if !ok {
		s.write(fmt.Sprintf("%% Invalid input detected at '^' marker: %s\r\n", cmd))
		return true
	}
	s.write(out)
	return true
}

func (s *shell) enable() {
	if !s.dev.EnableRequired {
		s.privileged = true
		return
	}
	s.write("Password: ")
	secret, err := s.readLine(false)
	if err != nil {
		return
	}
	s.write("\r\n")
	if secret != s.dev.Secret {
		s.write("% Bad secret\r\n")
		return
	}
	s.privileged = true
}

func ensureCRLF(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", "\r\n")
	if !strings.HasSuffix(text, "\r\n") {
		text += "\r\n"
	}
	return text
}
