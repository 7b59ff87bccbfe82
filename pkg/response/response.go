package response

import (
	"time"

	"github.com/sshcollectorpro/netcomm/pkg/command"
)

// 结果状态
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Response 一条命令在一台设备上的执行结果，创建后不可变
type Response struct {
	Command   *command.Command
	Output    string
	Errored   bool
	Timestamp time.Time
}

// New 创建结果
func New(cmd *command.Command, output string, errored bool) *Response {
	return &Response{
		Command:   cmd,
		Output:    output,
		Errored:   errored,
		Timestamp: time.Now(),
	}
}

// Status 返回 ok 或 failed
func (r *Response) Status() string {
	if r.Errored {
		return StatusFailed
	}
	return StatusOK
}

func (r *Response) String() string {
	return r.Output
}
