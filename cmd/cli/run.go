package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sshcollectorpro/netcomm/internal/config"
	"github.com/sshcollectorpro/netcomm/internal/credentials"
	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/endpoint"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/protocol"
)

// errHostsFailed 任一设备失败时返回，进程退出码为 1
var errHostsFailed = errors.New("one or more hosts failed")

type runOptions struct {
	configFile      string
	protocol        string
	username        string
	password        string
	secretsFile     string
	authorize       string
	timeout         time.Duration
	hostsFile       string
	script          string
	variables       map[string]string
	encoding        string
	format          string
	noVerify        bool
	poolSize        int
	delay           time.Duration
	continueOnError bool
	debug           bool

	// prompt 为 nil 时按终端情况决定是否询问密码
	prompt credentials.PromptFunc
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configFile, "config", "", "config file (default: search ./configs)")
	f.StringVar(&o.protocol, "protocol", "", "protocol used when the endpoint has no scheme (ssh, eapi)")
	f.StringVarP(&o.username, "username", "u", "", "login username")
	f.StringVarP(&o.password, "password", "p", "", "login password, prompted when omitted")
	f.StringVar(&o.secretsFile, "secrets-file", "", "YAML file mapping username to password")
	f.StringVarP(&o.authorize, "authorize", "a", "", "enable secret used to authorize after login")
	f.DurationVarP(&o.timeout, "timeout", "t", 0, "per-operation timeout")
	f.StringVar(&o.hostsFile, "hosts-file", "", "read endpoints from a hosts style file")
	f.StringVar(&o.script, "script", "", "script file, - reads stdin")
	f.StringToStringVar(&o.variables, "variables", nil, "template variables for the script (key=val)")
	f.StringVar(&o.encoding, "encoding", "", "wire encoding for rpc protocols (text, json)")
	f.StringVar(&o.format, "format", "yaml", "output format (yaml, json)")
	f.BoolVar(&o.noVerify, "no-verify", false, "skip TLS certificate verification")
	f.IntVar(&o.poolSize, "pool-size", 0, "max hosts processed concurrently")
	f.DurationVar(&o.delay, "delay", 0, "delay between host starts")
	f.BoolVar(&o.continueOnError, "continue-on-error", false, "keep running after a command errors")
	f.BoolVar(&o.debug, "debug", false, "log command I/O to stderr")
}

// endpoints 命令行参数在前，hosts 文件追加在后
func (o *runOptions) endpoints(args []string) ([]string, error) {
	eps := append([]string(nil), args...)
	if o.hostsFile != "" {
		hosts, err := endpoint.LoadHostsFile(o.hostsFile)
		if err != nil {
			return nil, err
		}
		eps = append(eps, hosts...)
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("no endpoints given")
	}
	for _, ep := range eps {
		if _, err := endpoint.Parse(ep); err != nil {
			return nil, err
		}
	}
	return eps, nil
}

func (o *runOptions) setup() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	lc := cfg.LoggerConfig()
	if lc.Output != "file" {
		lc.Output = "stderr"
	}
	lc.Level = "warn"
	if o.debug {
		lc.Level = "debug"
	}
	if err := logger.Init(lc); err != nil {
		return nil, err
	}
	if err := config.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// options 命令行显式给出的参数覆盖配置默认值
func (o *runOptions) options(cmd *cobra.Command, creds protocol.Credentials) []netcomm.Option {
	flags := cmd.Flags()
	opts := []netcomm.Option{netcomm.WithCredentials(creds.Username, creds.Password)}
	if creds.Secret != "" {
		opts = append(opts, netcomm.WithAuthorize(creds.Secret))
	}
	if o.protocol != "" {
		opts = append(opts, netcomm.WithProtocol(o.protocol))
	}
	if o.timeout > 0 {
		opts = append(opts, netcomm.WithTimeout(o.timeout))
	}
	if o.encoding != "" {
		opts = append(opts, netcomm.WithEncoding(o.encoding))
	}
	if flags.Changed("no-verify") {
		opts = append(opts, netcomm.WithVerify(!o.noVerify))
	}
	if o.poolSize > 0 {
		opts = append(opts, netcomm.WithPoolSize(o.poolSize))
	}
	if o.delay > 0 {
		opts = append(opts, netcomm.WithDelay(o.delay))
	}
	if flags.Changed("continue-on-error") {
		opts = append(opts, netcomm.WithContinueOnError(o.continueOnError))
	}
	return opts
}

func (o *runOptions) credentials(cfg *config.Config, stderr io.Writer) (protocol.Credentials, error) {
	secretsFile := o.secretsFile
	if secretsFile == "" {
		secretsFile = cfg.Credentials.SecretsFile
	}
	prompt := o.prompt
	if prompt == nil {
		prompt = credentials.TerminalPrompt(stderr)
	}
	p := &credentials.Provider{
		Explicit:    protocol.Credentials{Username: o.username, Password: o.password, Secret: o.authorize},
		SecretsFile: secretsFile,
		Defaults: protocol.Credentials{
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
			Secret:   cfg.Credentials.Secret,
		},
		Prompt: prompt,
	}
	return p.Resolve()
}

func (o *runOptions) commands(stdin io.Reader) ([]*command.Command, error) {
	src := o.script
	if src == "" {
		if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return nil, fmt.Errorf("no script given, use --script or pipe commands on stdin")
		}
		src = "-"
	}
	cmds, err := loadScript(src, stdin, o.variables)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("script has no commands")
	}
	return cmds, nil
}

func (o *runOptions) run(cmd *cobra.Command, args []string, configure bool) error {
	if o.format != formatYAML && o.format != formatJSON {
		return fmt.Errorf("unsupported format %q", o.format)
	}
	cfg, err := o.setup()
	if err != nil {
		return err
	}
	eps, err := o.endpoints(args)
	if err != nil {
		return err
	}
	cmds, err := o.commands(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if configure {
		cmds = command.Wrap("configure", "end", cmds)
	}
	creds, err := o.credentials(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := netcomm.Background(ctx, eps, cmds, o.options(cmd, creds)...)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Component("cli").WithField("signal", sig.String()).Warn("interrupted, killing pool")
			p.Kill()
		case <-p.Done():
		}
	}()

	out := newOutput(cmd.OutOrStdout(), o.format)
	failed := 0
	for st := range p.Results() {
		if st.Document().Failed() {
			failed++
		}
		if err := out.write(st); err != nil {
			p.Kill()
			return err
		}
	}
	if err := out.close(); err != nil {
		return err
	}
	if failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d hosts failed\n", failed, len(eps))
		return errHostsFailed
	}
	return nil
}
