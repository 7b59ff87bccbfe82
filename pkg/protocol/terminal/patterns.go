package terminal

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/sshcollectorpro/netcomm/pkg/ssh"
)

// DefaultWindow 参与匹配的输出尾部字符数
const DefaultWindow = 150

// 通用提示符形态，按顺序匹配，第一条命中即结束
var defaultPromptPatterns = []string{
	`[\r\n]?[\w+\-\.:\/\[\]]+(?:\([^\)]+\)){0,3}(?:>|#) ?$`,
	`\[\w+\@[\w\-\.]+(?: [^\]]+)?\] ?[>#\$] ?$`,
	`[\r\n]\-?(?:bash)?(?:\-\d\.\d)? ?[>#\$] ?$`,
}

// 各厂商通用错误文本
var defaultErrorPatterns = []string{
	`% ?Error`,
	`(?m)^% \w+`,
	`% ?Bad secret`,
	`(?i)invalid input`,
	`(?i)(?:incomplete|ambiguous) command`,
	`(?i)connection timed out`,
	`(?i)[^\r\n]+ not found`,
	`'[^']+' +returned error code: ?\d+`,
	`[^\r\n]\/bin\/(?:ba)?sh`,
}

const defaultPasswordPattern = `(?i)[\r\n]?password: ?$`

// Patterns 自动机使用的正则集合
type Patterns struct {
	Prompts  []*regexp.Regexp
	Errors   []*regexp.Regexp
	Password *regexp.Regexp
}

// Settings 可由配置覆盖的终端参数，空字段使用内置默认
type Settings struct {
	Window          int
	LineTerminator  string
	PromptPatterns  []string
	ErrorPatterns   []string
	PasswordPattern string
	// SSH 拨号参数：keepalive 间隔与 PTY 尺寸
	SSH ssh.Config
}

var (
	settingsMu sync.RWMutex
	settings   = Settings{Window: DefaultWindow, LineTerminator: "\r"}
)

// SetDefaults 设置进程级终端参数，启动时由配置调用
func SetDefaults(s Settings) error {
	if _, err := compilePatterns(s.PromptPatterns, s.ErrorPatterns, s.PasswordPattern); err != nil {
		return err
	}
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.LineTerminator == "" {
		s.LineTerminator = "\r"
	}
	settingsMu.Lock()
	settings = s
	settingsMu.Unlock()
	return nil
}

// Current 当前进程级终端参数
func Current() Settings {
	return currentSettings()
}

func currentSettings() Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// DefaultPatterns 内置正则
func DefaultPatterns() Patterns {
	p, err := compilePatterns(nil, nil, "")
	if err != nil {
		panic(err)
	}
	return p
}

func compilePatterns(prompts, errs []string, password string) (Patterns, error) {
	if len(prompts) == 0 {
		prompts = defaultPromptPatterns
	}
	if len(errs) == 0 {
		errs = defaultErrorPatterns
	}
	if password == "" {
		password = defaultPasswordPattern
	}
	var p Patterns
	var err error
	if p.Prompts, err = compileAll(prompts); err != nil {
		return Patterns{}, err
	}
	if p.Errors, err = compileAll(errs); err != nil {
		return Patterns{}, err
	}
	if p.Password, err = regexp.Compile(password); err != nil {
		return Patterns{}, fmt.Errorf("invalid password pattern %q: %w", password, err)
	}
	return p, nil
}

func compileAll(src []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(src))
	for _, s := range src {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", s, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// withProfile 合并平台附加的提示符与错误正则
func (p Patterns) withProfile(prof Profile) (Patterns, error) {
	extraPrompts, err := compileAll(prof.PromptPatterns)
	if err != nil {
		return Patterns{}, err
	}
	extraErrors, err := compileAll(prof.ErrorPatterns)
	if err != nil {
		return Patterns{}, err
	}
	return Patterns{
		Prompts:  append(append([]*regexp.Regexp(nil), p.Prompts...), extraPrompts...),
		Errors:   append(append([]*regexp.Regexp(nil), p.Errors...), extraErrors...),
		Password: p.Password,
	}, nil
}
