package simulate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netcomm/pkg/logger"
)

// ServerConfig 单个监听端口的模拟服务参数
type ServerConfig struct {
	Name        string
	Addr        string
	Password    string
	IdleSeconds int
	MaxConn     int
	// HostKeyFile 为空时使用内存密钥
	HostKeyFile string
	// Resolve 根据登录用户名返回设备，nil 时所有用户共用 Default
	Resolve func(user string) Device
	Default Device
}

// Server SSH 模拟设备服务
type Server struct {
	cfg      ServerConfig
	hostKey  ssh.Signer
	listener net.Listener
	mu       sync.Mutex
	active   int
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewServer 创建服务，未启动
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Password == "" {
		cfg.Password = "nova"
	}
	signer, err := loadOrCreateHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	return &Server{cfg: cfg, hostKey: signer, conns: make(map[net.Conn]struct{})}, nil
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Component("simulate").WithFields(logrus.Fields{
		"name": s.cfg.Name,
		"addr": ln.Addr().String(),
	}).Info("simulator listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Port 实际监听端口
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	log := logger.Component("simulate")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("accept failed")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closed || (s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn) {
			s.mu.Unlock()
			_ = conn.Close()
			log.WithField("name", s.cfg.Name).Warn("reject connection, max_conn exceeded")
			continue
		}
		s.active++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			s.active--
			delete(s.conns, c)
			s.mu.Unlock()
		}(conn)
	}
}

// Close 停止监听并断开所有连接，可重复调用
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) device(user string) Device {
	d := s.cfg.Default
	if s.cfg.Resolve != nil {
		d = s.cfg.Resolve(user)
	}
	if d.Hostname == "" {
		d.Hostname = user
	}
	return d.withDefaults()
}

func (s *Server) handleConn(nc net.Conn) {
	log := logger.Component("simulate").WithField("remote", nc.RemoteAddr().String())
	password := s.cfg.Password
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && answers[0] == password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		log.WithError(err).Debug("handshake failed")
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			log.WithError(err).Warn("channel accept failed")
			continue
		}
		dev := s.device(conn.User())
		go s.handleSession(channel, requests, dev)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, dev Device) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			newShell(channel, dev, time.Duration(s.cfg.IdleSeconds)*time.Second).run()
			return
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			out, ok := dev.output(strings.TrimSpace(payload.Command))
			if !ok {
				out = "% Invalid input\r\n"
			}
			_, _ = channel.Write([]byte(out))
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// loadOrCreateHostKey 读取或生成 RSA 2048 主机密钥，path 为空时不落盘
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			if signer, err := ssh.ParsePrivateKey(bs); err == nil {
				return signer, nil
			}
			logger.Component("simulate").WithField("file", path).Warn("host key parse failed, regenerating")
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
	}
	return ssh.ParsePrivateKey(pemBytes)
}
