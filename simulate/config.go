package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netcomm/pkg/logger"
)

// Config simulate.yaml 配置结构
type Config struct {
	// BaseDir 命令输出目录：<base>/<namespace>/<device_name>/<命令>.txt
	BaseDir     string                      `mapstructure:"base_dir"`
	HostKeyFile string                      `mapstructure:"host_key_file"`
	Namespace   map[string]NamespaceConfig  `mapstructure:"namespace"`
	DeviceType  map[string]DeviceTypeConfig `mapstructure:"device_type"`
	DeviceName  map[string]DeviceNameConfig `mapstructure:"device_name"`
}

type NamespaceConfig struct {
	Listen      string `mapstructure:"listen"`
	Port        int    `mapstructure:"port"`
	Password    string `mapstructure:"password"`
	IdleSeconds int    `mapstructure:"idle_seconds"`
	MaxConn     int    `mapstructure:"max_conn"`
}

type DeviceTypeConfig struct {
	PromptSuffix       string            `mapstructure:"prompt_suffix"`
	EnableModeRequired bool              `mapstructure:"enable_mode_required"`
	EnableModeSuffix   string            `mapstructure:"enable_mode_suffix"`
	EnableSecret       string            `mapstructure:"enable_secret"`
	Banner             string            `mapstructure:"banner"`
	Commands           map[string]string `mapstructure:"commands"`
	Privileged         []string          `mapstructure:"privileged"`
}

type DeviceNameConfig struct {
	DeviceType string `mapstructure:"device_type"`
}

// LoadConfig 读取模拟器配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("base_dir", filepath.Join("simulate", "namespace"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// resolver 用户名即设备名，映射到设备类型
func (c *Config) resolver(ns string) func(user string) Device {
	return func(user string) Device {
		dt := DeviceTypeConfig{}
		if dn, ok := c.DeviceName[user]; ok {
			dt = c.DeviceType[dn.DeviceType]
		}
		return Device{
			Hostname:       user,
			Banner:         dt.Banner,
			PromptSuffix:   dt.PromptSuffix,
			EnableRequired: dt.EnableModeRequired,
			EnableSuffix:   dt.EnableModeSuffix,
			Secret:         dt.EnableSecret,
			Commands:       dt.Commands,
			CommandDir:     filepath.Join(c.BaseDir, ns, user),
			Privileged:     dt.Privileged,
		}
	}
}

// Manager 管理多个 namespace 的模拟服务，每个 namespace 独立端口
type Manager struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// Start 启动所有 namespace，单个失败只记录日志
func Start(cfg *Config) (*Manager, error) {
	m := &Manager{servers: make(map[string]*Server)}
	log := logger.Component("simulate")
	for ns, nsCfg := range cfg.Namespace {
		for dev := range cfg.DeviceName {
			if err := os.MkdirAll(filepath.Join(cfg.BaseDir, ns, dev), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create dir: %w", err)
			}
		}
		listen := nsCfg.Listen
		if listen == "" {
			listen = "0.0.0.0"
		}
		srv, err := NewServer(ServerConfig{
			Name:        ns,
			Addr:        fmt.Sprintf("%s:%d", listen, nsCfg.Port),
			Password:    nsCfg.Password,
			IdleSeconds: nsCfg.IdleSeconds,
			MaxConn:     nsCfg.MaxConn,
			HostKeyFile: cfg.HostKeyFile,
			Resolve:     cfg.resolver(ns),
		})
		if err != nil {
			log.WithError(err).WithField("namespace", ns).Error("init namespace server failed")
			continue
		}
		if err := srv.Start(); err != nil {
			log.WithError(err).WithField("namespace", ns).Error("start namespace server failed")
			continue
		}
		m.servers[ns] = srv
	}
	return m, nil
}

// Server 按 namespace 获取服务
func (m *Manager) Server(ns string) *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[ns]
}

// Stop 停止所有模拟服务
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ns, srv := range m.servers {
		srv.Close()
		logger.Component("simulate").WithField("namespace", ns).Info("namespace server stopped")
	}
	m.servers = map[string]*Server{}
}
