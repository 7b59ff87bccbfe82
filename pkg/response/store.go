package response

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
)

// Subscriber 结果追加时的回调
type Subscriber func(host string, r *Response)

type subscription struct {
	id int
	fn Subscriber
}

// Store 单台设备的有序结果集合
type Store struct {
	mu          sync.RWMutex
	host        string
	status      string
	responses   []*Response
	subscribers []subscription
	nextID      int
}

// NewStore 创建结果集合
func NewStore(host string) *Store {
	return &Store{host: host, status: StatusOK}
}

// Failed 建立会话失败时合成的失败结果，包含一条描述错误的记录
func Failed(host string, err error) *Store {
	s := NewStore(host)
	msg := "unknown error"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", errdefs.Name(err), err)
	}
	s.Append(New(command.Plain("connect"), msg, true))
	return s
}

func (s *Store) Host() string { return s.host }

// Status 任一结果出错即为 failed，且不会恢复
func (s *Store) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.responses)
}

// Append 追加结果并同步通知订阅者
func (s *Store) Append(r *Response) {
	s.mu.Lock()
	s.responses = append(s.responses, r)
	if r.Errored {
		s.status = StatusFailed
	}
	subs := append([]subscription(nil), s.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s.host, r)
	}
}

// Subscribe 订阅后续追加的结果，返回取消函数，可重复调用
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Responses 返回结果副本
func (s *Store) Responses() []*Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Response(nil), s.responses...)
}

// Last 最后一条结果，没有时返回 nil
func (s *Store) Last() *Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.responses) == 0 {
		return nil
	}
	return s.responses[len(s.responses)-1]
}

// Errored 所有出错的结果
func (s *Store) Errored() []*Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Response
	for _, r := range s.responses {
		if r.Errored {
			out = append(out, r)
		}
	}
	return out
}

// Filter 按命令表达式正则过滤
func (s *Store) Filter(pattern string) ([]*Response, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Response
	for _, r := range s.responses {
		if re.MatchString(r.Command.Expression()) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Lookup 按命令表达式精确查找第一条结果
func (s *Store) Lookup(expression string) *Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.Command.Expression() == expression {
			return r
		}
	}
	return nil
}

// Outputs 所有输出文本
func (s *Store) Outputs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.responses))
	for _, r := range s.responses {
		out = append(out, r.Output)
	}
	return out
}

// Commands 所有命令
func (s *Store) Commands() []*command.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*command.Command, 0, len(s.responses))
	for _, r := range s.responses {
		out = append(out, r.Command)
	}
	return out
}

// RaiseForError 返回第一条失败结果对应的 ExecuteFailed
func (s *Store) RaiseForError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.Errored {
			return errdefs.NewExecuteFailed(r.Command, r.Output, nil)
		}
	}
	return nil
}

func (s *Store) String() string {
	data, err := s.YAML()
	if err != nil {
		return fmt.Sprintf("host: %s\nstatus: %s\n", s.host, s.Status())
	}
	return string(data)
}
