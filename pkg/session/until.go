package session

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

// Condition 结果判定
type Condition func(*response.Store) bool

// ExecuteUntil 按 interval 重复执行直到 cond 成立；超时返回最后一次结果和 ErrTimeout
func ExecuteUntil(ctx context.Context, s *Session, cmds []*command.Command, cond Condition, interval, timeout time.Duration, opts ...ExecOption) (*response.Store, error) {
	if cond == nil {
		return nil, fmt.Errorf("nil condition")
	}
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		store, err := s.Execute(ctx, cmds, opts...)
		if err != nil {
			return store, err
		}
		if cond(store) {
			return store, nil
		}
		if timeout > 0 && time.Now().Add(interval).After(deadline) {
			return store, fmt.Errorf("condition not met within %s: %w", timeout, errdefs.ErrTimeout)
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return store, ctx.Err()
		case <-t.C:
		}
	}
}

// ExecuteWhile 重复执行直到 cond 不再成立
func ExecuteWhile(ctx context.Context, s *Session, cmds []*command.Command, cond Condition, interval, timeout time.Duration, opts ...ExecOption) (*response.Store, error) {
	if cond == nil {
		return nil, fmt.Errorf("nil condition")
	}
	return ExecuteUntil(ctx, s, cmds, func(st *response.Store) bool { return !cond(st) }, interval, timeout, opts...)
}

// OutputMatches 任一输出匹配正则即成立
func OutputMatches(pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return func(st *response.Store) bool {
		for _, out := range st.Outputs() {
			if re.MatchString(out) {
				return true
			}
		}
		return false
	}, nil
}
