package terminal

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sshcollectorpro/netcomm/internal/util"
)

// ErrReadTimeout 单次读取超时
var ErrReadTimeout = errors.New("read timeout")

// ErrStreamClosed 通道已关闭
var ErrStreamClosed = errors.New("stream closed")

// Channel 自动机所需的全双工通道
type Channel interface {
	io.Writer
	// ReadChunk 阻塞读取下一块输出，超时返回 ErrReadTimeout
	ReadChunk(ctx context.Context, timeout time.Duration) (string, error)
}

type chunk struct {
	data []byte
	err  error
}

// Stream 将 io.Reader 转成分块读取的 Channel
type Stream struct {
	w       io.Writer
	chunks  chan chunk
	done    chan struct{}
	once    sync.Once
	decoder *util.StreamDecoder
	err     error
}

// NewStream 启动读协程；decoder 为 nil 时按 UTF-8 自动探测
func NewStream(rw io.ReadWriter, decoder *util.StreamDecoder) *Stream {
	if decoder == nil {
		decoder = util.NewStreamDecoder(nil)
	}
	s := &Stream{
		w:       rw,
		chunks:  make(chan chunk, 64),
		done:    make(chan struct{}),
		decoder: decoder,
	}
	go s.readLoop(rw)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.chunks <- chunk{data: data}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- chunk{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrStreamClosed
	default:
	}
	return s.w.Write(p)
}

// ReadChunk 实现 Channel
func (s *Stream) ReadChunk(ctx context.Context, timeout time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case c := <-s.chunks:
		if c.err != nil {
			s.err = c.err
			return "", c.err
		}
		return s.decoder.Decode(c.data), nil
	case <-timer:
		return "", ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", ErrStreamClosed
	}
}

// Drain 丢弃已到达但未消费的输出，如上一条超时命令的迟到回显
func (s *Stream) Drain() string {
	var out []byte
	for {
		select {
		case c := <-s.chunks:
			if c.err != nil {
				s.err = c.err
				return string(out)
			}
			out = append(out, s.decoder.Decode(c.data)...)
		default:
			return string(out)
		}
	}
}

// Close 停止读协程，底层连接由调用方关闭
func (s *Stream) Close() {
	s.once.Do(func() { close(s.done) })
}
