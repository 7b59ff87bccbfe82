package response

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document 结果集合的结构化文档
type Document struct {
	Host     string       `json:"host" yaml:"host"`
	Status   string       `json:"status" yaml:"status"`
	Commands []CommandDoc `json:"commands" yaml:"commands"`
}

// CommandDoc 文档中的单条命令
type CommandDoc struct {
	Command string `json:"command" yaml:"command"`
	Output  string `json:"output" yaml:"output"`
	Status  string `json:"status" yaml:"status"`
}

// literal 以 YAML 块字面量输出多行文本
type literal string

func (l literal) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(l)}
	if len(l) > 0 {
		node.Style = yaml.LiteralStyle
	}
	return node, nil
}

type yamlCommand struct {
	Command string  `yaml:"command"`
	Output  literal `yaml:"output"`
	Status  string  `yaml:"status"`
}

type yamlDocument struct {
	Host     string        `yaml:"host"`
	Status   string        `yaml:"status"`
	Commands []yamlCommand `yaml:"commands"`
}

// Document 转换为结构化文档
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := Document{Host: s.host, Status: s.status, Commands: make([]CommandDoc, 0, len(s.responses))}
	for _, r := range s.responses {
		doc.Commands = append(doc.Commands, CommandDoc{
			Command: r.Command.Expression(),
			Output:  r.Output,
			Status:  r.Status(),
		})
	}
	return doc
}

// JSON 机器可读的渲染
func (s *Store) JSON() ([]byte, error) {
	return json.Marshal(s.Document())
}

// YAML 人类可读的渲染
func (s *Store) YAML() ([]byte, error) {
	return s.Document().YAML()
}

// YAML 渲染文档，多行输出使用块字面量
func (d Document) YAML() ([]byte, error) {
	out := yamlDocument{Host: d.Host, Status: d.Status, Commands: make([]yamlCommand, 0, len(d.Commands))}
	for _, c := range d.Commands {
		out.Commands = append(out.Commands, yamlCommand{Command: c.Command, Output: literal(c.Output), Status: c.Status})
	}
	return yaml.Marshal(out)
}

// Failed 文档中是否有失败命令
func (d Document) Failed() bool {
	if d.Status == StatusFailed {
		return true
	}
	for _, c := range d.Commands {
		if c.Status == StatusFailed {
			return true
		}
	}
	return false
}

// ParseDocument 解析 JSON 或 YAML 文档
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse response document: %w", err)
	}
	if doc.Status != StatusOK && doc.Status != StatusFailed {
		return nil, fmt.Errorf("parse response document: invalid status %q", doc.Status)
	}
	return &doc, nil
}
