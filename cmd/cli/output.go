package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// output YAML 模式下每台设备一个 --- 文档，结束时输出 ...
type output struct {
	w      io.Writer
	format string
	count  int
}

func newOutput(w io.Writer, format string) *output {
	return &output{w: w, format: format}
}

func (o *output) write(st *response.Store) error {
	var (
		data []byte
		err  error
	)
	if o.format == formatJSON {
		data, err = st.JSON()
	} else {
		data, err = st.YAML()
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", st.Host(), err)
	}
	if o.format == formatYAML {
		if _, err := io.WriteString(o.w, "---\n"); err != nil {
			return err
		}
	}
	if _, err := o.w.Write(data); err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		_, err = io.WriteString(o.w, "\n")
	}
	o.count++
	return err
}

func (o *output) close() error {
	if o.format != formatYAML || o.count == 0 {
		return nil
	}
	_, err := io.WriteString(o.w, "...\n")
	return err
}

// loadScript 读取脚本并按 text/template 替换变量
func loadScript(src string, stdin io.Reader, vars map[string]string) ([]*command.Command, error) {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	text := string(data)
	if len(vars) > 0 || strings.Contains(text, "{{") {
		tmpl, err := template.New("script").Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse script template: %w", err)
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, vars); err != nil {
			return nil, fmt.Errorf("render script: %w", err)
		}
		text = b.String()
	}
	return command.ParseScript(text), nil
}
