package terminal

import (
	"strings"
	"sync"
)

// Profile 平台差异：登录后的初始化命令、提权与退出命令、附加正则
type Profile struct {
	Name string
	// SetupCommands 连接后执行，失败忽略
	SetupCommands  []string
	EnableCommand  string
	ExitCommand    string
	PromptPatterns []string
	ErrorPatterns  []string
}

// 注册中心，按平台名称获取
var (
	registryMu sync.RWMutex
	registry   = map[string]Profile{
		"eos": {
			Name:          "eos",
			SetupCommands: []string{"terminal length 0", "terminal dont-ask"},
			EnableCommand: "enable",
			ExitCommand:   "exit",
		},
		"cisco_ios": {
			Name:          "cisco_ios",
			SetupCommands: []string{"terminal length 0", "terminal width 511"},
			EnableCommand: "enable",
			ExitCommand:   "exit",
			ErrorPatterns: []string{`(?i)invalid autocommand`, `(?i)unknown command`},
		},
		"huawei": {
			Name:          "huawei",
			SetupCommands: []string{"screen-length 0 temporary"},
			EnableCommand: "super",
			ExitCommand:   "quit",
			// <HUAWEI> 与 [HUAWEI-GigabitEthernet0/0/1]
			PromptPatterns: []string{`[\r\n]?[<\[][\w\-\.:\/~]+[>\]] ?$`},
			ErrorPatterns:  []string{`(?m)^\s*Error: `, `(?i)unrecognized command`},
		},
		"h3c": {
			Name:           "h3c",
			SetupCommands:  []string{"screen-length disable"},
			EnableCommand:  "super",
			ExitCommand:    "quit",
			PromptPatterns: []string{`[\r\n]?[<\[][\w\-\.:\/~]+[>\]] ?$`},
			ErrorPatterns:  []string{`(?i)unrecognized command`, `(?i)too many parameters`},
		},
		"linux": {
			Name:          "linux",
			EnableCommand: "sudo -s",
			ExitCommand:   "exit",
		},
	}
	aliases = map[string]string{
		"arista":     "eos",
		"arista_eos": "eos",
		"ios":        "cisco_ios",
		"cisco":      "cisco_ios",
		"huawei_s":   "huawei",
		"huawei_ce":  "huawei",
		"h3c_s":      "h3c",
		"h3c_sr":     "h3c",
		"h3c_msr":    "h3c",
	}
)

// RegisterProfile 注册或覆盖平台
func RegisterProfile(p Profile) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(p.Name)] = p
}

// GetProfile 获取平台，不存在时返回 eos
func GetProfile(name string) Profile {
	key := strings.ToLower(strings.TrimSpace(name))
	registryMu.RLock()
	defer registryMu.RUnlock()
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	if p, ok := registry[key]; ok {
		return p
	}
	return registry["eos"]
}
