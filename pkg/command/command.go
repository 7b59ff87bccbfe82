package command

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Command 发送到设备的一条命令，构造后不可变
type Command struct {
	expression string
	prompts    []*regexp.Regexp
	answers    []string
}

// New 创建命令，prompts 与 answers 一一对应
func New(expression string, prompts []string, answers []string) (*Command, error) {
	if len(prompts) != len(answers) && (len(prompts) > 0 || len(answers) > 0) {
		return nil, fmt.Errorf("command %q: %d prompts but %d answers", expression, len(prompts), len(answers))
	}
	compiled := make([]*regexp.Regexp, 0, len(prompts))
	for _, p := range prompts {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("command %q: invalid prompt pattern %q: %w", expression, p, err)
		}
		compiled = append(compiled, re)
	}
	return &Command{
		expression: expression,
		prompts:    compiled,
		answers:    append([]string(nil), answers...),
	}, nil
}

// NewWithPatterns 使用已编译的提示符正则创建命令
func NewWithPatterns(expression string, prompts []*regexp.Regexp, answers []string) (*Command, error) {
	if len(prompts) != len(answers) && (len(prompts) > 0 || len(answers) > 0) {
		return nil, fmt.Errorf("command %q: %d prompts but %d answers", expression, len(prompts), len(answers))
	}
	for i, p := range prompts {
		if p == nil {
			return nil, fmt.Errorf("command %q: prompt %d is nil", expression, i)
		}
	}
	return &Command{
		expression: expression,
		prompts:    append([]*regexp.Regexp(nil), prompts...),
		answers:    append([]string(nil), answers...),
	}, nil
}

// Must 同 New，出错时 panic，用于字面量
func Must(expression string, prompts []string, answers []string) *Command {
	c, err := New(expression, prompts, answers)
	if err != nil {
		panic(err)
	}
	return c
}

// Plain 不带交互提示的普通命令
func Plain(expression string) *Command {
	return &Command{expression: expression}
}

func (c *Command) Expression() string { return c.expression }

// Prompts 返回提示符正则的副本
func (c *Command) Prompts() []*regexp.Regexp {
	return append([]*regexp.Regexp(nil), c.prompts...)
}

// Answers 返回应答列表的副本
func (c *Command) Answers() []string {
	return append([]string(nil), c.answers...)
}

// Interactive 是否带有交互提示
func (c *Command) Interactive() bool { return len(c.prompts) > 0 }

func (c *Command) String() string { return c.expression }

// MarshalJSON 输出 {"command": ..., "prompts": [...], "answers": [...]}
func (c *Command) MarshalJSON() ([]byte, error) {
	prompts := make([]string, 0, len(c.prompts))
	for _, p := range c.prompts {
		prompts = append(prompts, p.String())
	}
	return json.Marshal(struct {
		Command string   `json:"command"`
		Prompts []string `json:"prompts,omitempty"`
		Answers []string `json:"answers,omitempty"`
	}{c.expression, prompts, c.answers})
}

// Normalize 将脚本行转换为命令，丢弃空行和以 ! 或 # 开头的注释行
func Normalize(lines ...string) []*Command {
	cmds := make([]*Command, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, Plain(line))
	}
	return cmds
}

// ParseScript 按行拆分脚本文本后 Normalize
func ParseScript(text string) []*Command {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return Normalize(strings.Split(text, "\n")...)
}

// Wrap 在命令前后加上括号命令，如 configure ... end
func Wrap(begin, end string, cmds []*Command) []*Command {
	out := make([]*Command, 0, len(cmds)+2)
	out = append(out, Plain(begin))
	out = append(out, cmds...)
	out = append(out, Plain(end))
	return out
}
