package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/mock"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/terminal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "ssh", cfg.Session.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Session.Timeout)
	assert.Equal(t, "eos", cfg.Session.Platform)
	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, 100, cfg.Pool.MaxBatch)
	assert.Equal(t, 150, cfg.Terminal.Window)
	assert.Equal(t, "\r", cfg.Terminal.LineTerminator)
	assert.Equal(t, "/command-api", cfg.RPC.Path)
	assert.Equal(t, time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, "admin", cfg.Credentials.Username)
	assert.Same(t, cfg, Get())
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("NETCOMM_POOL_SIZE", "4")
	t.Setenv("TEST_NETCOMM_SECRET", "s3cret")
	path := writeConfig(t, `
session:
  protocol: eapi+https
  timeout: 5s
  encoding: json
pool:
  size: 20
  delay: 100ms
credentials:
  secret: ${TEST_NETCOMM_SECRET}
terminal:
  error_patterns: ["FAIL"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eapi+https", cfg.Session.Protocol)
	assert.Equal(t, 5*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 4, cfg.Pool.Size, "环境变量优先于配置文件")
	assert.Equal(t, 100*time.Millisecond, cfg.Pool.Delay)
	assert.Equal(t, "s3cret", cfg.Credentials.Secret)
	assert.Equal(t, []string{"FAIL"}, cfg.Terminal.ErrorPatterns)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "显式指定的文件必须存在")

	_, err = Load(writeConfig(t, "pool:\n  max_batch: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session:\n  protocol: eapi\n  encoding: gbk\n"))
	assert.Error(t, err, "eAPI 只支持 text/json")

	cfg, err := Load(writeConfig(t, "session:\n  encoding: gbk\n"))
	require.NoError(t, err)
	assert.Equal(t, "gbk", cfg.Session.Encoding)
}

func TestApply(t *testing.T) {
	defer func() {
		netcomm.SetDefaults()
		require.NoError(t, terminal.SetDefaults(terminal.Settings{}))
	}()

	cfg, err := Load(writeConfig(t, `
session:
  protocol: mock
credentials:
  secret: s3cret
`))
	require.NoError(t, err)
	require.NoError(t, Apply(cfg))

	store, err := netcomm.Execute(context.Background(), "h1", netcomm.Commands("show restricted"))
	require.NoError(t, err)
	assert.Equal(t, mock.Restricted, store.Last().Output, "配置中的 secret 应自动提权")

	ssh := terminal.Current().SSH
	assert.Equal(t, 30*time.Second, ssh.KeepAlive, "默认开启保活")
	assert.Equal(t, 511, ssh.TermWidth)
	assert.Equal(t, 24, ssh.TermHeight)

	cfg.Terminal.PromptPatterns = []string{"("}
	assert.Error(t, Apply(cfg))
}

func TestApplySSH(t *testing.T) {
	defer func() {
		require.NoError(t, terminal.SetDefaults(terminal.Settings{}))
	}()

	cfg, err := Load(writeConfig(t, `
ssh:
  keep_alive: 5s
  term_width: 200
  term_height: 50
`))
	require.NoError(t, err)
	require.NoError(t, Apply(cfg))
	ssh := terminal.Current().SSH
	assert.Equal(t, 5*time.Second, ssh.KeepAlive)
	assert.Equal(t, 200, ssh.TermWidth)
	assert.Equal(t, 50, ssh.TermHeight)

	_, err = Load(writeConfig(t, "ssh:\n  keep_alive: -1s\n"))
	assert.Error(t, err, "负数保活间隔应被拒绝")
}

func TestServerAddrAndLogger(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  host: 127.0.0.1\n  port: 9000\nlog:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetServerAddr())
	assert.Equal(t, "debug", cfg.LoggerConfig().Level)
}
