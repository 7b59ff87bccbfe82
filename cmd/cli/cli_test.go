package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// runCLI 以临时配置运行命令行，返回 stdout 与 stderr
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() {
		netcomm.SetDefaults()
	})
	cfgFile := writeFile(t, "config.yaml", "session:\n  protocol: mock\nlog:\n  output: stderr\n")
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunYAML(t *testing.T) {
	out, _, err := runCLI(t, "show version\n! comment\nshow clock\n", "--script", "-", "h1", "h2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "---\n"), "每台设备一个文档")
	assert.True(t, strings.HasSuffix(out, "...\n"))
	assert.Contains(t, out, "host: h1")
	assert.Contains(t, out, "command: show clock")
	assert.NotContains(t, out, "comment")
}

func TestRunJSONLines(t *testing.T) {
	out, _, err := runCLI(t, "show version\n", "--format", "json", "h1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	doc, err := response.ParseDocument([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "h1", doc.Host)
	assert.Equal(t, response.StatusOK, doc.Status)
}

func TestRunFailedHostExitCode(t *testing.T) {
	out, stderr, err := runCLI(t, "show version\n", "h1", "h2.invalid")
	assert.ErrorIs(t, err, errHostsFailed)
	assert.Contains(t, stderr, "1 of 2 hosts failed")
	assert.Contains(t, out, "status: failed")
}

func TestConfigureSubcommand(t *testing.T) {
	out, _, err := runCLI(t, "hostname {{.name}}\n", "configure", "--variables", "name=sw1", "h1")
	require.NoError(t, err)
	assert.Contains(t, out, "command: configure")
	assert.Contains(t, out, "command: hostname sw1")
	assert.Contains(t, out, "command: end")
}

func TestScriptFileAndHostsFile(t *testing.T) {
	script := writeFile(t, "script.txt", "show version\n")
	hosts := writeFile(t, "hosts", "# lab\n10.0.0.1 sw1\n10.0.0.2 sw2 # spine\n")

	out, _, err := runCLI(t, "", "hosts", "--hosts-file", hosts, "sw0")
	require.NoError(t, err)
	assert.Equal(t, "sw0\nsw1\nsw2\n", out)

	out, _, err = runCLI(t, "", "--script", script, "--hosts-file", hosts)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "---\n"))
}

func TestRunErrors(t *testing.T) {
	_, _, err := runCLI(t, "show version\n")
	assert.ErrorContains(t, err, "no endpoints")

	_, _, err = runCLI(t, "! only comments\n", "h1")
	assert.ErrorContains(t, err, "no commands")

	_, _, err = runCLI(t, "show version\n", "--format", "xml", "h1")
	assert.ErrorContains(t, err, "unsupported format")

	_, _, err = runCLI(t, "hostname {{.missing}}\n", "h1")
	assert.ErrorContains(t, err, "render script")
}

func TestAuthorizeFlag(t *testing.T) {
	out, _, err := runCLI(t, "show restricted\n", "-a", "s3cret", "h1")
	require.NoError(t, err)
	assert.Contains(t, out, "status: ok")

	_, _, err = runCLI(t, "show restricted\n", "h1")
	assert.ErrorIs(t, err, errHostsFailed, "未提权时受限命令失败")
}

func TestVersion(t *testing.T) {
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestOutputClose(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, newOutput(&b, formatYAML).close())
	assert.Empty(t, b.String(), "没有文档时不输出结束符")
}

func TestPositionalEndpoints(t *testing.T) {
	out, _, err := runCLI(t, "show version\n", "h1", "--script", "-", "admin@h2")
	require.NoError(t, err, "位置参数是设备而不是子命令")
	assert.Contains(t, out, "host: h1")
	assert.Contains(t, out, "host: h2")

	out, _, err = runCLI(t, "", "hosts", "h1", "h2")
	require.NoError(t, err)
	assert.Equal(t, "h1\nh2\n", out)
}

func TestExecutePrintsErrors(t *testing.T) {
	cfgFile := writeFile(t, "config.yaml", "session:\n  protocol: mock\nlog:\n  output: stderr\n")
	t.Cleanup(func() { netcomm.SetDefaults() })

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"缺少设备", nil, "Error: no endpoints given"},
		{"hosts 文件不存在", []string{"--hosts-file", "/nonexistent/hosts"}, "Error: open hosts file"},
		{"设备地址无效", []string{"h1:99999"}, "Error: invalid endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := newRootCmd()
			var stdout, stderr bytes.Buffer
			root.SetIn(strings.NewReader("show version\n"))
			root.SetOut(&stdout)
			root.SetErr(&stderr)
			root.SetArgs(append([]string{"--config", cfgFile}, tc.args...))
			assert.Equal(t, 1, execute(root, &stderr))
			assert.Contains(t, stderr.String(), tc.want)
		})
	}

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader("show version\n"))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config", cfgFile, "h1", "h2.invalid"})
	assert.Equal(t, 1, execute(root, &stderr))
	assert.Contains(t, stderr.String(), "1 of 2 hosts failed")
	assert.NotContains(t, stderr.String(), "Error:", "设备失败只输出汇总")

	root = newRootCmd()
	root.SetIn(strings.NewReader("show version\n"))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--config", cfgFile, "h1"})
	assert.Equal(t, 0, execute(root, &stderr))
}
