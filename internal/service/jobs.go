package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/internal/config"
	"github.com/sshcollectorpro/netcomm/internal/model"
	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/endpoint"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/pool"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrBatchTooLarge = errors.New("too many endpoints in one request")
	ErrNoEndpoints   = errors.New("no endpoints given")
	ErrNoCommands    = errors.New("no commands given")
	ErrNotRunning    = errors.New("job service not running")
)

// Request 一次执行请求
type Request struct {
	Endpoints []string
	Commands  []*command.Command
	// Protocol 为空时使用配置默认值
	Protocol string
	Options  []netcomm.Option
}

func (r Request) options() []netcomm.Option {
	opts := slices.Clone(r.Options)
	if r.Protocol != "" {
		opts = append(opts, netcomm.WithProtocol(r.Protocol))
	}
	return opts
}

// Job 后台任务
type Job struct {
	ID        string
	Endpoints []string
	Commands  []*command.Command
	CreatedAt time.Time

	pool *pool.Pool
	done chan struct{}

	mu         sync.Mutex
	results    []*response.Store
	status     string
	finishedAt time.Time
}

// JobView 任务快照
type JobView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Endpoints  []string   `json:"endpoints"`
	Commands   []string   `json:"commands"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Results    int        `json:"results"`
	Stats      pool.Stats `json:"stats"`
}

// View 当前快照
func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:        j.ID,
		Status:    j.status,
		CreatedAt: j.CreatedAt,
		Results:   len(j.results),
		Stats:     j.pool.Stats(),
	}
	for _, ep := range j.Endpoints {
		v.Endpoints = append(v.Endpoints, maskEndpoint(ep))
	}
	for _, c := range j.Commands {
		v.Commands = append(v.Commands, c.Expression())
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		v.FinishedAt = &t
	}
	return v
}

// Results 已完成设备的结果，按完成顺序
func (j *Job) Results() []*response.Store {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.results)
}

// Done 任务结束后关闭
func (j *Job) Done() <-chan struct{} { return j.done }

// ServiceStats 服务统计
type ServiceStats struct {
	Running    bool `json:"running"`
	Jobs       int  `json:"jobs"`
	ActiveJobs int  `json:"active_jobs"`
	MaxBatch   int  `json:"max_batch"`
	PoolSize   int  `json:"pool_size"`
}

// JobService 同步执行与后台任务管理，结果写入数据库与归档
type JobService struct {
	cfg      atomic.Pointer[config.Config]
	recorder *Recorder
	archiver Archiver
	log      *logrus.Entry

	mutex   sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    map[string]*Job
	now     func() time.Time
}

// NewJobService 创建任务服务，recorder 与 archiver 可为 nil
func NewJobService(cfg *config.Config, recorder *Recorder, archiver Archiver) *JobService {
	s := &JobService{
		recorder: recorder,
		archiver: archiver,
		log:      logger.Component("jobs"),
		ctx:      context.Background(),
		jobs:     make(map[string]*Job),
		now:      time.Now,
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig 热更新时替换配置，新请求立即生效，运行中的任务不受影响
func (s *JobService) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// config 当前配置快照
func (s *JobService) config() *config.Config { return s.cfg.Load() }

// Start 启动任务清理协程
func (s *JobService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running {
		return fmt.Errorf("job service is already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.cleanupJobs(s.ctx)
	s.log.Info("Job service started")
	return nil
}

// Stop 终止所有后台任务
func (s *JobService) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mutex.Unlock()

	for _, j := range jobs {
		j.pool.Kill()
	}
	s.log.Info("Job service stopped")
	return nil
}

func (s *JobService) validate(req Request, many bool) error {
	if len(req.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	if len(req.Commands) == 0 {
		return ErrNoCommands
	}
	if limit := s.config().Pool.MaxBatch; many && len(req.Endpoints) > limit {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(req.Endpoints), limit)
	}
	return nil
}

func (s *JobService) protocol(req Request) string {
	if req.Protocol != "" {
		return req.Protocol
	}
	return s.config().Session.Protocol
}

// Execute 同步执行单台设备；建立会话失败时返回错误，同时记录失败结果
func (s *JobService) Execute(ctx context.Context, req Request) (*response.Store, error) {
	return s.single(ctx, model.RunKindExecute, req, netcomm.Execute)
}

// Configure 以 configure ... end 包裹后同步执行
func (s *JobService) Configure(ctx context.Context, req Request) (*response.Store, error) {
	return s.single(ctx, model.RunKindConfigure, req, netcomm.Configure)
}

type singleFunc func(context.Context, string, []*command.Command, ...netcomm.Option) (*response.Store, error)

func (s *JobService) single(ctx context.Context, kind string, req Request, fn singleFunc) (*response.Store, error) {
	if err := s.validate(req, false); err != nil {
		return nil, err
	}
	ep := req.Endpoints[0]
	runID := uuid.NewString()
	s.startRun(runID, kind, req, 1)

	store, err := fn(ctx, ep, req.Commands, req.options()...)
	recorded := store
	if err != nil {
		recorded = response.Failed(hostOf(ep), err)
	}
	s.persist(runID, recorded)
	s.finishRun(runID, statusOf([]*response.Store{recorded}, false))
	return store, err
}

// Batch 同步并发执行，结果按完成顺序返回
func (s *JobService) Batch(ctx context.Context, req Request) ([]*response.Store, error) {
	if err := s.validate(req, true); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	s.startRun(runID, model.RunKindBatch, req, len(req.Endpoints))

	stores := make([]*response.Store, 0, len(req.Endpoints))
	for st := range netcomm.Batch(ctx, req.Endpoints, req.Commands, req.options()...) {
		stores = append(stores, st)
		s.persist(runID, st)
	}
	s.finishRun(runID, statusOf(stores, ctx.Err() != nil))
	return stores, ctx.Err()
}

// Submit 提交后台任务，立即返回
func (s *JobService) Submit(req Request) (*Job, error) {
	if err := s.validate(req, true); err != nil {
		return nil, err
	}
	s.mutex.RLock()
	parent, running := s.ctx, s.running
	s.mutex.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	id := uuid.NewString()
	s.startRun(id, model.RunKindJob, req, len(req.Endpoints))
	p, err := netcomm.Background(parent, req.Endpoints, req.Commands, req.options()...)
	if err != nil {
		s.finishRun(id, model.RunStatusFailed)
		return nil, err
	}
	job := &Job{
		ID:        id,
		Endpoints: slices.Clone(req.Endpoints),
		Commands:  slices.Clone(req.Commands),
		CreatedAt: s.now(),
		pool:      p,
		done:      make(chan struct{}),
		status:    model.RunStatusRunning,
	}
	s.mutex.Lock()
	s.jobs[job.ID] = job
	s.mutex.Unlock()

	s.log.WithFields(logrus.Fields{"job_id": job.ID, "endpoints": len(req.Endpoints)}).Info("job submitted")
	go s.collect(job)
	return job, nil
}

func (s *JobService) collect(job *Job) {
	defer close(job.done)
	for st := range job.pool.Results() {
		job.mu.Lock()
		job.results = append(job.results, st)
		job.mu.Unlock()
		s.persist(job.ID, st)
	}
	job.pool.Wait()

	job.mu.Lock()
	job.status = statusOf(job.results, job.pool.Stats().Killed)
	job.finishedAt = s.now()
	status := job.status
	job.mu.Unlock()

	s.finishRun(job.ID, status)
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "status": status}).Info("job finished")
}

// Get 获取任务
func (s *JobService) Get(id string) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

// List 全部任务快照，按创建时间排序
func (s *JobService) List() []JobView {
	s.mutex.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mutex.RUnlock()

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	slices.SortFunc(views, func(a, b JobView) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return views
}

// Kill 终止任务，已取走的结果保留
func (s *JobService) Kill(id string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	j.pool.Kill()
	return nil
}

// Stats 服务统计
func (s *JobService) Stats() ServiceStats {
	cfg := s.config()
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	st := ServiceStats{
		Running:  s.running,
		Jobs:     len(s.jobs),
		MaxBatch: cfg.Pool.MaxBatch,
		PoolSize: cfg.Pool.Size,
	}
	for _, j := range s.jobs {
		select {
		case <-j.done:
		default:
			st.ActiveJobs++
		}
	}
	return st
}

// Recorder 执行记录
func (s *JobService) Recorder() *Recorder { return s.recorder }

func (s *JobService) cleanupJobs(ctx context.Context) {
	interval := s.config().Jobs.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupExpiredJobs()
		}
	}
}

// cleanupExpiredJobs 移除结束时间超过保留期的任务
func (s *JobService) cleanupExpiredJobs() int {
	retention := s.config().Jobs.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	now := s.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	removed := 0
	for id, j := range s.jobs {
		j.mu.Lock()
		expired := !j.finishedAt.IsZero() && now.Sub(j.finishedAt) > retention
		j.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *JobService) startRun(id, kind string, req Request, total int) {
	if err := s.recorder.StartRun(id, kind, s.protocol(req), req.Commands, total); err != nil {
		s.log.WithError(err).WithField("run_id", id).Warn("failed to record run")
	}
}

func (s *JobService) finishRun(id, status string) {
	if err := s.recorder.FinishRun(id, status); err != nil {
		s.log.WithError(err).WithField("run_id", id).Warn("failed to finish run record")
	}
}

// persist 记录与归档一台设备的结果，失败只记日志
func (s *JobService) persist(runID string, st *response.Store) {
	if err := s.recorder.RecordHost(runID, st); err != nil {
		s.log.WithError(err).WithField("host", st.Host()).Warn("failed to record host result")
	}
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	obj, err := s.archiver.Archive(ctx, runID, st)
	if err != nil {
		s.log.WithError(err).WithField("host", st.Host()).Warn("failed to archive result")
		return
	}
	s.log.WithFields(logrus.Fields{"host": st.Host(), "uri": obj.URI}).Debug("result archived")
}

func statusOf(stores []*response.Store, cancelled bool) string {
	if cancelled {
		return model.RunStatusCancelled
	}
	for _, st := range stores {
		if st.Status() == response.StatusFailed {
			return model.RunStatusFailed
		}
	}
	return model.RunStatusSuccess
}

// hostOf 去掉协议与凭据，解析失败时原样返回
func hostOf(ep string) string {
	e, err := endpoint.Parse(ep)
	if err != nil || e.Hostname == "" {
		return ep
	}
	return e.Hostname
}

// maskEndpoint 隐藏地址中的密码
func maskEndpoint(ep string) string {
	e, err := endpoint.Parse(ep)
	if err != nil {
		return ep
	}
	return e.String()
}
