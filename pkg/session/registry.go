package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/sshcollectorpro/netcomm/pkg/protocol"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/mock"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/rpc"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/terminal"
)

// DefaultProtocol 未指定协议时使用
const DefaultProtocol = "ssh"

// 协议名称到适配器构造函数
var (
	registryMu sync.RWMutex
	registry   = map[string]protocol.Factory{
		"ssh":  terminal.New,
		"eapi": rpc.New,
		"mock": mock.New,
	}
)

// Register 注册或覆盖协议
func Register(name string, f protocol.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Lookup 按名称获取协议构造函数
func Lookup(name string) (protocol.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(name)]
	return f, ok
}

// Protocols 已注册的协议名称
func Protocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
