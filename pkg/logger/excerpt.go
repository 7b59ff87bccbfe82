package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Excerpt 命令输出的头尾摘要
type Excerpt struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Lines int      `json:"lines"`
}

// NewExcerpt 取输出的前后各 n 行，总行数不超过 2n 时 Tail 为空
func NewExcerpt(output string, n int) Excerpt {
	if n <= 0 {
		n = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return Excerpt{}
	}
	ex := Excerpt{Lines: len(lines)}
	if len(lines) <= 2*n {
		ex.Head = append([]string(nil), lines...)
		return ex
	}
	ex.Head = append([]string(nil), lines[:n]...)
	ex.Tail = append([]string(nil), lines[len(lines)-n:]...)
	return ex
}

func (e Excerpt) String() string {
	if len(e.Tail) == 0 {
		return strings.Join(e.Head, " | ")
	}
	return strings.Join(e.Head, " | ") + " ... " + strings.Join(e.Tail, " | ")
}

// DebugOutput DEBUG 级别下记录单条命令输出摘要
func DebugOutput(entry *logrus.Entry, command, output string, errored bool) {
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	ex := NewExcerpt(output, 3)
	entry.WithFields(logrus.Fields{
		"command": command,
		"errored": errored,
		"lines":   ex.Lines,
	}).Debugf("output: %s", ex)
}
