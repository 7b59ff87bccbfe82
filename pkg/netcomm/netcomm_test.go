package netcomm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/pkg/errdefs"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/mock"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

func TestExecute(t *testing.T) {
	store, err := Execute(context.Background(), "h1", Commands("show version", "", "! comment", "show clock"), WithProtocol("mock"))
	require.NoError(t, err)
	assert.Equal(t, "h1", store.Host())
	assert.Equal(t, response.StatusOK, store.Status())
	require.Equal(t, 2, store.Len(), "空行与注释应被忽略")
	assert.Equal(t, mock.Version, store.Responses()[0].Output)
}

func TestExecuteConnectError(t *testing.T) {
	_, err := Execute(context.Background(), "h2.invalid", Commands("show version"), WithProtocol("mock"))
	assert.ErrorIs(t, err, errdefs.ErrConnectFailed)

	_, err = Execute(context.Background(), "h1", Commands("show version"),
		WithProtocol("mock"), WithCredentials("admin", "bad"))
	assert.ErrorIs(t, err, errdefs.ErrAuthenticationFailed)
}

func TestExecuteContinueOnError(t *testing.T) {
	cmds := Commands("show bogus", "show version")
	store, err := Execute(context.Background(), "h1", cmds, WithProtocol("mock"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	store, err = Execute(context.Background(), "h1", cmds, WithProtocol("mock"), WithContinueOnError(true))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, response.StatusFailed, store.Status(), "失败状态不应被后续成功覆盖")
	assert.Error(t, store.RaiseForError())
}

func TestWithAuthorize(t *testing.T) {
	store, err := Execute(context.Background(), "h1", Commands("show restricted"), WithProtocol("mock"))
	require.NoError(t, err)
	assert.True(t, store.Last().Errored)

	store, err = Execute(context.Background(), "h1", Commands("show restricted"),
		WithProtocol("mock"), WithAuthorize("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, mock.Restricted, store.Last().Output)

	_, err = Connect(context.Background(), "h1", WithProtocol("mock"), WithAuthorize("bad"))
	assert.ErrorIs(t, err, errdefs.ErrAuthorizationFailed)
}

func TestConfigureWrapsCommands(t *testing.T) {
	store, err := Configure(context.Background(), "h1", Commands("hostname sw1"),
		WithProtocol("mock"), WithContinueOnError(true))
	require.NoError(t, err)
	var got []string
	for _, c := range store.Commands() {
		got = append(got, c.Expression())
	}
	assert.Equal(t, []string{"configure", "hostname sw1", "end"}, got)
}

func TestExecuteSession(t *testing.T) {
	ctx := context.Background()
	s, err := Connect(ctx, "mock://h1")
	require.NoError(t, err)
	defer s.Close()

	var mu sync.Mutex
	seen := 0
	store, err := ExecuteSession(ctx, s, Commands("show version", "show clock"),
		WithSubscriber(func(string, *response.Response) {
			mu.Lock()
			seen++
			mu.Unlock()
		}))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 2, seen)
	assert.True(t, s.Connected(), "ExecuteSession 不关闭会话")
}

func TestBatchIsolatesUnreachableHost(t *testing.T) {
	stores := map[string]*response.Store{}
	for s := range Batch(context.Background(), []string{"h1", "h2.invalid"}, Commands("show version"), WithProtocol("mock")) {
		stores[s.Host()] = s
	}
	require.Len(t, stores, 2)
	assert.Equal(t, response.StatusOK, stores["h1"].Status())
	assert.Equal(t, response.StatusFailed, stores["h2.invalid"].Status())
}

func TestBatchEarlyBreak(t *testing.T) {
	endpoints := []string{"h1", "h2", "h3", "h4", "h5"}
	start := time.Now()
	n := 0
	for range Batch(context.Background(), endpoints, Commands("sleep 10ms"),
		WithProtocol("mock"), WithPoolSize(1), WithDelay(20*time.Millisecond)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBackgroundKill(t *testing.T) {
	p, err := Background(context.Background(), []string{"h1", "h2", "h3"}, Commands("sleep 10s"),
		WithProtocol("mock"), WithPoolSize(3))
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	p.Kill()

	n := 0
	for range p.Results() {
		n++
	}
	assert.Zero(t, n)
	p.Wait()
	assert.True(t, p.Stats().Killed)
	assert.Error(t, p.Start(context.Background()), "Background 返回的任务池已启动")
}

func TestSetDefaults(t *testing.T) {
	SetDefaults(WithProtocol("mock"), WithAuthorize("s3cret"))
	defer SetDefaults()

	store, err := Execute(context.Background(), "h1", Commands("show restricted"))
	require.NoError(t, err)
	assert.Equal(t, mock.Restricted, store.Last().Output)

	_, err = Execute(context.Background(), "h1", Commands("show restricted"), WithAuthorize("bad"))
	assert.ErrorIs(t, err, errdefs.ErrAuthorizationFailed, "调用方参数覆盖默认值")
}
