package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/protocol"
)

func secretsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin: fromfile\nops: opspw\n"), 0o600))
	return path
}

func TestResolveOrder(t *testing.T) {
	path := secretsFile(t)
	defaults := protocol.Credentials{Username: "admin", Password: "default", Secret: "en"}

	creds, err := (&Provider{Defaults: defaults}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, defaults, creds)

	creds, err = (&Provider{Defaults: defaults, SecretsFile: path}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", creds.Password, "密码文件优先于配置默认值")

	creds, err = (&Provider{
		Explicit:    protocol.Credentials{Username: "ops"},
		Defaults:    defaults,
		SecretsFile: path,
	}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "ops", creds.Username)
	assert.Equal(t, "opspw", creds.Password)
	assert.Equal(t, "en", creds.Secret)

	creds, err = (&Provider{
		Explicit:    protocol.Credentials{Password: "flag"},
		Defaults:    defaults,
		SecretsFile: path,
	}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "flag", creds.Password, "命令行优先级最高")
}

func TestResolvePrompt(t *testing.T) {
	var asked string
	p := &Provider{
		Explicit: protocol.Credentials{Username: "admin"},
		Prompt: func(prompt string) (string, error) {
			asked = prompt
			return "typed", nil
		},
	}
	creds, err := p.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "typed", creds.Password)
	assert.Equal(t, "admin password: ", asked)

	p.Explicit.Password = "given"
	asked = ""
	_, err = p.Resolve()
	require.NoError(t, err)
	assert.Empty(t, asked, "已有密码时不询问")

	p = &Provider{Prompt: func(string) (string, error) { return "", errors.New("eof") }}
	_, err = p.Resolve()
	assert.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	m, err := LoadSecrets(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = LoadSecrets(strings.NewReader("- a\n- b\n"))
	assert.Error(t, err, "需要映射结构")

	_, err = LoadSecretsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = (&Provider{SecretsFile: filepath.Join(t.TempDir(), "missing.yaml")}).Resolve()
	assert.Error(t, err)
}
