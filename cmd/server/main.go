package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/api/router"
	"github.com/sshcollectorpro/netcomm/internal/config"
	"github.com/sshcollectorpro/netcomm/internal/database"
	"github.com/sshcollectorpro/netcomm/internal/service"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/simulate"
)

const configPath = "configs/config.yaml"

func main() {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := config.Apply(cfg); err != nil {
		logger.Fatalf("Failed to apply config: %v", err)
	}
	log := logger.Component("server")
	log.WithField("version", router.Version).Info("Starting netcomm server")

	// 初始化数据库
	var recorder *service.Recorder
	if cfg.Database.Enable {
		if err := database.InitSQLite(cfg.Database.SQLitePath); err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()
		recorder = service.NewRecorder(database.GetDB())
	}

	jobs := service.NewJobService(cfg, recorder, service.NewArchiver(cfg.Archive))
	if err := jobs.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start job service: %v", err)
	}
	defer jobs.Stop()

	// 启动模拟服务（可选）
	sim := &simulator{path: cfg.Simulate.ConfigFile}
	if cfg.Server.SimulateEnable {
		sim.start()
	}
	defer sim.stop()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(jobs),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": server.Addr, "mode": cfg.Server.Mode}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件热更新，同一批事件合并为一次重载
	go watchFile(configPath, func() {
		rlog := logger.Component("config")
		newCfg, err := config.Load(configPath)
		if err != nil {
			rlog.WithError(err).Warn("Config reload failed")
			return
		}
		if err := config.Apply(newCfg); err != nil {
			rlog.WithError(err).Warn("Config reload rejected")
			return
		}
		// 启动时的 cfg 不再修改，服务经 SetConfig 原子切换
		jobs.SetConfig(newCfg)
		_ = logger.Init(newCfg.LoggerConfig())
		logger.Component("server").Info("Config reloaded")

		sim.setPath(newCfg.Simulate.ConfigFile)
		switch {
		case newCfg.Server.SimulateEnable && !sim.running():
			sim.start()
		case !newCfg.Server.SimulateEnable && sim.running():
			sim.stop()
		}
	})
	if cfg.Simulate.ConfigFile != "" {
		go watchFile(cfg.Simulate.ConfigFile, func() {
			if !sim.running() {
				return
			}
			sim.stop()
			sim.start()
		})
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log = logger.Component("server")
	log.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	} else {
		log.Info("Server shutdown complete")
	}
}

// watchFile 监听文件变化，300ms 去抖后执行 fn
func watchFile(path string, fn func()) {
	log := logger.Component("watch").WithField("file", path)
	if _, err := os.Stat(path); err != nil {
		log.WithError(err).Warn("File not found, skip watch")
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("Watch init failed")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		log.WithError(err).Warn("Watch add failed")
		return
	}

	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, fn)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Watch error")
		}
	}
}

// simulator 管理进程内模拟设备的启停
type simulator struct {
	mu   sync.Mutex
	path string
	mgr  *simulate.Manager
}

func (s *simulator) setPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

func (s *simulator) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr != nil
}

func (s *simulator) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := logger.Component("simulate").WithField("file", s.path)
	if s.mgr != nil {
		return
	}
	sc, err := simulate.LoadConfig(s.path)
	if err != nil {
		log.WithError(err).Warn("Simulate: failed to load config, skip")
		return
	}
	mgr, err := simulate.Start(sc)
	if err != nil {
		log.WithError(err).Warn("Simulate: failed to start")
		return
	}
	s.mgr = mgr
	ports := make(map[string]int, len(sc.Namespace))
	for ns, nsCfg := range sc.Namespace {
		ports[ns] = nsCfg.Port
	}
	log.WithField("ports", ports).Info("Simulate: started")
}

func (s *simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr == nil {
		return
	}
	s.mgr.Stop()
	s.mgr = nil
	logger.Component("simulate").Info("Simulate: stopped")
}
