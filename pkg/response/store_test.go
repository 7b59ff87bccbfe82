package response

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
)

func sample() []*Response {
	return []*Response{
		New(command.Plain("show version"), "Arista vEOS\nVersion 4.20", false),
		New(command.Plain("show bogus"), "% Invalid input", true),
		New(command.Plain("show clock"), "Tue Oct 13 10:00:00 2026", false),
	}
}

func TestStatusOrderIndependent(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {1, 0, 2}, {2, 0, 1}, {0, 2, 1}, {1, 2, 0}, {2, 1, 0}}
	for _, order := range orders {
		rs := sample()
		s := NewStore("sw1")
		for _, i := range order {
			s.Append(rs[i])
		}
		assert.Equal(t, StatusFailed, s.Status(), "顺序 %v 下状态应为 failed", order)
		assert.Equal(t, 3, s.Len())
	}

	s := NewStore("sw1")
	s.Append(New(command.Plain("show version"), "ok", false))
	assert.Equal(t, StatusOK, s.Status())
}

func TestStoreLookups(t *testing.T) {
	s := NewStore("sw1")
	for _, r := range sample() {
		s.Append(r)
	}

	assert.Equal(t, "show clock", s.Last().Command.Expression())
	require.Len(t, s.Errored(), 1)
	assert.Equal(t, "show bogus", s.Errored()[0].Command.Expression())

	got, err := s.Filter(`^show (version|clock)$`)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = s.Filter("(")
	assert.Error(t, err)

	assert.NotNil(t, s.Lookup("show version"))
	assert.Nil(t, s.Lookup("show run"))
	assert.Equal(t, []string{"Arista vEOS\nVersion 4.20", "% Invalid input", "Tue Oct 13 10:00:00 2026"}, s.Outputs())
	assert.Len(t, s.Commands(), 3)
	assert.Nil(t, NewStore("empty").Last())
}

func TestRaiseForError(t *testing.T) {
	s := NewStore("sw1")
	s.Append(New(command.Plain("show version"), "ok", false))
	assert.NoError(t, s.RaiseForError())

	for _, r := range sample() {
		s.Append(r)
	}
	err := s.RaiseForError()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrExecuteFailed))

	var ef *errdefs.ExecuteFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, "show bogus", ef.Command.Expression(), "应携带第一条失败命令")
	assert.Equal(t, "% Invalid input", ef.Output)
}

func TestSubscribe(t *testing.T) {
	s := NewStore("sw1")
	var mu sync.Mutex
	var seen []string
	unsubscribe := s.Subscribe(func(host string, r *Response) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, host+":"+r.Command.Expression())
	})

	s.Append(New(command.Plain("show version"), "", false))
	unsubscribe()
	unsubscribe()
	s.Append(New(command.Plain("show clock"), "", false))

	assert.Equal(t, []string{"sw1:show version"}, seen, "取消订阅后不再通知")
}

func TestFailedStore(t *testing.T) {
	s := Failed("h2", errdefs.ConnectFailed("h2", errors.New("dial tcp: no route to host")))
	assert.Equal(t, StatusFailed, s.Status())
	require.Equal(t, 1, s.Len())
	assert.Contains(t, s.Last().Output, "ConnectFailed")
	assert.Contains(t, s.Last().Output, "no route to host")
}

func TestDocumentRoundTrip(t *testing.T) {
	s := NewStore("sw1")
	for _, r := range sample() {
		s.Append(r)
	}

	data, err := s.JSON()
	require.NoError(t, err)
	doc, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, s.Status(), doc.Status)
	assert.Equal(t, s.Len(), len(doc.Commands))
	assert.Equal(t, "sw1", doc.Host)
	assert.Equal(t, StatusFailed, doc.Commands[1].Status)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "commands")

	yml, err := s.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(yml), "output: |")
	doc, err = ParseDocument(yml)
	require.NoError(t, err)
	assert.Equal(t, s.Status(), doc.Status)
	assert.Equal(t, "Arista vEOS\nVersion 4.20", doc.Commands[0].Output, "块字面量应还原多行输出")
	assert.True(t, doc.Failed())
}

func TestParseDocumentInvalid(t *testing.T) {
	_, err := ParseDocument([]byte(`{"host":"x","status":"weird","commands":[]}`))
	assert.Error(t, err)
	_, err = ParseDocument([]byte(`{`))
	assert.Error(t, err)
}
