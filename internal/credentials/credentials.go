// Package credentials 按命令行、密码文件、配置默认值、终端输入的顺序解析登录凭据
package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/sshcollectorpro/netcomm/pkg/protocol"
)

// PromptFunc 读取一个不回显的输入
type PromptFunc func(prompt string) (string, error)

// Provider 凭据来源
type Provider struct {
	// Explicit 命令行指定的值，优先级最高
	Explicit protocol.Credentials
	// SecretsFile YAML 文件，username: password 映射
	SecretsFile string
	Defaults    protocol.Credentials
	// Prompt 为 nil 时不询问
	Prompt PromptFunc
}

// Resolve 合并各来源，密码仍为空且可询问时提示输入
func (p *Provider) Resolve() (protocol.Credentials, error) {
	creds := p.Defaults.Merge(p.Explicit)

	if p.Explicit.Password == "" && p.SecretsFile != "" {
		secrets, err := LoadSecretsFile(p.SecretsFile)
		if err != nil {
			return creds, err
		}
		if pw, ok := secrets[creds.Username]; ok {
			creds.Password = pw
		}
	}

	if creds.Password == "" && p.Prompt != nil {
		pw, err := p.Prompt(fmt.Sprintf("%s password: ", creds.Username))
		if err != nil {
			return creds, fmt.Errorf("failed to read password: %w", err)
		}
		creds.Password = pw
	}
	return creds, nil
}

// LoadSecrets 解析密码文件
func LoadSecrets(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	if err := yaml.NewDecoder(r).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid secrets file: %w", err)
	}
	return out, nil
}

// LoadSecretsFile 从路径读取密码文件
func LoadSecretsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer f.Close()
	return LoadSecrets(f)
}

// TerminalPrompt stdin 为终端时返回从终端读取口令的 PromptFunc，否则返回 nil
func TerminalPrompt(out io.Writer) PromptFunc {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
}
