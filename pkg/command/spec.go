package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec 命令的结构化描述，供 HTTP 接口和脚本使用
type Spec struct {
	Cmd    string   `json:"cmd" yaml:"cmd" binding:"required"`
	Prompt []string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Answer []string `json:"answer,omitempty" yaml:"answer,omitempty"`
	// Input 单次应答，等价于以密码提示符为 Prompt
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
}

// UnmarshalJSON 同时接受 "show version" 与 {"cmd": ...} 两种写法
func (s *Spec) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		*s = Spec{Cmd: line}
		return nil
	}
	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// UnmarshalYAML 同 UnmarshalJSON
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = Spec{Cmd: node.Value}
		return nil
	}
	type plain Spec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// PasswordPrompt 通用密码提示符
const PasswordPrompt = `(?i)[\r\n]?password: ?$`

// Command 转换为 Command
func (s Spec) Command() (*Command, error) {
	expr := strings.TrimSpace(s.Cmd)
	if expr == "" {
		return nil, fmt.Errorf("empty command")
	}
	if s.Input != "" && len(s.Prompt) == 0 {
		return New(expr, []string{PasswordPrompt}, []string{s.Input})
	}
	return New(expr, s.Prompt, s.Answer)
}

// FromSpecs 批量转换，忽略注释和空命令
func FromSpecs(specs []Spec) ([]*Command, error) {
	cmds := make([]*Command, 0, len(specs))
	for i, s := range specs {
		expr := strings.TrimSpace(s.Cmd)
		if expr == "" || strings.HasPrefix(expr, "!") || strings.HasPrefix(expr, "#") {
			continue
		}
		c, err := s.Command()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}
