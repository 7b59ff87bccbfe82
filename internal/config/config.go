package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/rpc"
	"github.com/sshcollectorpro/netcomm/pkg/protocol/terminal"
	"github.com/sshcollectorpro/netcomm/pkg/ssh"
)

// EnvPrefix 环境变量前缀，例如 NETCOMM_SESSION_TIMEOUT
const EnvPrefix = "NETCOMM"

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Session     SessionConfig     `mapstructure:"session"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Terminal    TerminalConfig    `mapstructure:"terminal"`
	SSH         SSHConfig         `mapstructure:"ssh"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Log         LogConfig         `mapstructure:"log"`
	Simulate    SimulateConfig    `mapstructure:"simulate"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SimulateEnable bool          `mapstructure:"simulate_enable"`
}

// SessionConfig 会话默认参数
type SessionConfig struct {
	Protocol        string        `mapstructure:"protocol"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
	// Encoding eAPI 为 text/json，终端可填设备字符集
	Encoding string `mapstructure:"encoding"`
	Verify   bool   `mapstructure:"verify"`
	Platform string `mapstructure:"platform"`
}

// CredentialsConfig 默认凭据
type CredentialsConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Secret      string `mapstructure:"secret"`
	SecretsFile string `mapstructure:"secrets_file"`
}

// PoolConfig 并发参数
type PoolConfig struct {
	Size  int           `mapstructure:"size"`
	Delay time.Duration `mapstructure:"delay"`
	// MaxBatch 单次 HTTP 批量请求允许的最大设备数
	MaxBatch int `mapstructure:"max_batch"`
}

// TerminalConfig 终端自动机参数，正则为空时使用内置默认
type TerminalConfig struct {
	Window          int      `mapstructure:"window"`
	LineTerminator  string   `mapstructure:"line_terminator"`
	PromptPatterns  []string `mapstructure:"prompt_patterns"`
	ErrorPatterns   []string `mapstructure:"error_patterns"`
	PasswordPattern string   `mapstructure:"password_pattern"`
}

// SSHConfig SSH 传输参数，keep_alive 为 0 时关闭保活
type SSHConfig struct {
	KeepAlive  time.Duration `mapstructure:"keep_alive"`
	TermWidth  int           `mapstructure:"term_width"`
	TermHeight int           `mapstructure:"term_height"`
}

// RPCConfig eAPI 参数
type RPCConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig 执行记录库
type DatabaseConfig struct {
	Enable     bool   `mapstructure:"enable"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ArchiveConfig 结果归档：本地目录与 MinIO 可同时启用
type ArchiveConfig struct {
	Enable   bool        `mapstructure:"enable"`
	LocalDir string      `mapstructure:"local_dir"`
	Minio    MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置，endpoint 为空表示不启用
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// JobsConfig 后台任务保留策略
type JobsConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SimulateConfig 模拟设备
type SimulateConfig struct {
	ConfigFile string `mapstructure:"config_file"`
}

var globalConfig atomic.Pointer[Config]

// Load 加载配置文件；configPath 为空时按默认路径查找，找不到则只用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config = replaceEnvVars(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig.Store(&config)
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 60*time.Second)
	// 同步批量可能较慢
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.simulate_enable", false)

	v.SetDefault("session.protocol", "ssh")
	v.SetDefault("session.timeout", 30*time.Second)
	v.SetDefault("session.continue_on_error", false)
	v.SetDefault("session.encoding", "text")
	v.SetDefault("session.verify", false)
	v.SetDefault("session.platform", "eos")

	v.SetDefault("credentials.username", "admin")
	v.SetDefault("credentials.password", "")
	v.SetDefault("credentials.secret", "")
	v.SetDefault("credentials.secrets_file", "")

	v.SetDefault("pool.size", 10)
	v.SetDefault("pool.delay", time.Duration(0))
	v.SetDefault("pool.max_batch", 100)

	v.SetDefault("terminal.window", terminal.DefaultWindow)
	v.SetDefault("terminal.line_terminator", "\r")
	v.SetDefault("terminal.prompt_patterns", []string{})
	v.SetDefault("terminal.error_patterns", []string{})
	v.SetDefault("terminal.password_pattern", "")

	v.SetDefault("ssh.keep_alive", 30*time.Second)
	v.SetDefault("ssh.term_width", 511)
	v.SetDefault("ssh.term_height", 24)

	v.SetDefault("rpc.path", "/command-api")

	v.SetDefault("database.enable", true)
	v.SetDefault("database.sqlite_path", "./data/netcomm.db")

	v.SetDefault("archive.enable", false)
	v.SetDefault("archive.local_dir", "./data/archive")
	v.SetDefault("archive.minio.endpoint", "")
	v.SetDefault("archive.minio.access_key", "")
	v.SetDefault("archive.minio.secret_key", "")
	v.SetDefault("archive.minio.bucket", "netcomm")
	v.SetDefault("archive.minio.use_ssl", false)
	v.SetDefault("archive.minio.prefix", "runs")

	v.SetDefault("jobs.retention", time.Hour)
	v.SetDefault("jobs.cleanup_interval", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/netcomm.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("simulate.config_file", "simulate/simulate.yaml")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig.Load()
}

// replaceEnvVars 凭据支持 ${ENV} 写法，避免口令写入配置文件
func replaceEnvVars(config Config) Config {
	config.Credentials.Password = expandEnv(config.Credentials.Password)
	config.Credentials.Secret = expandEnv(config.Credentials.Secret)
	config.Archive.Minio.AccessKey = expandEnv(config.Archive.Minio.AccessKey)
	config.Archive.Minio.SecretKey = expandEnv(config.Archive.Minio.SecretKey)
	return config
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}"))
	}
	return s
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative: %d", c.Pool.Size)
	}
	if c.Pool.MaxBatch <= 0 {
		return fmt.Errorf("pool.max_batch must be positive: %d", c.Pool.MaxBatch)
	}
	if c.Session.Timeout < 0 {
		return fmt.Errorf("session.timeout must not be negative: %s", c.Session.Timeout)
	}
	if c.SSH.KeepAlive < 0 || c.SSH.TermWidth < 0 || c.SSH.TermHeight < 0 {
		return fmt.Errorf("ssh settings must not be negative")
	}
	switch c.Session.Encoding {
	case "", "text", "json":
	default:
		// 终端协议允许设备字符集名称
		if c.Session.Protocol != "ssh" {
			return fmt.Errorf("session.encoding %q is not supported by %s", c.Session.Encoding, c.Session.Protocol)
		}
	}
	return nil
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoggerConfig 转换为 logger 配置
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Output:     c.Log.Output,
		FilePath:   c.Log.FilePath,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}

// Options 会话与并发默认值
func (c *Config) Options() []netcomm.Option {
	opts := []netcomm.Option{
		netcomm.WithProtocol(c.Session.Protocol),
		netcomm.WithTimeout(c.Session.Timeout),
		netcomm.WithVerify(c.Session.Verify),
		netcomm.WithPlatform(c.Session.Platform),
		netcomm.WithContinueOnError(c.Session.ContinueOnError),
		netcomm.WithPoolSize(c.Pool.Size),
		netcomm.WithDelay(c.Pool.Delay),
		netcomm.WithCredentials(c.Credentials.Username, c.Credentials.Password),
	}
	if c.Session.Encoding != "" {
		opts = append(opts, netcomm.WithEncoding(c.Session.Encoding))
	}
	if c.Credentials.Secret != "" {
		opts = append(opts, netcomm.WithAuthorize(c.Credentials.Secret))
	}
	return opts
}

// Apply 将配置下发到各协议包与 netcomm 默认参数
func Apply(c *Config) error {
	if err := terminal.SetDefaults(terminal.Settings{
		Window:          c.Terminal.Window,
		LineTerminator:  c.Terminal.LineTerminator,
		PromptPatterns:  c.Terminal.PromptPatterns,
		ErrorPatterns:   c.Terminal.ErrorPatterns,
		PasswordPattern: c.Terminal.PasswordPattern,
		SSH: ssh.Config{
			KeepAlive:  c.SSH.KeepAlive,
			TermWidth:  c.SSH.TermWidth,
			TermHeight: c.SSH.TermHeight,
		},
	}); err != nil {
		return fmt.Errorf("invalid terminal patterns: %w", err)
	}
	rpc.SetDefaultPath(c.RPC.Path)
	netcomm.SetDefaults(c.Options()...)
	return nil
}
