package handler

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netcomm/internal/service"
	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/netcomm"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

// ExecRequest 执行请求
//
// commands 按顺序执行，元素可以是命令字符串或 {cmd, prompt, answer, input} 对象；
// 旧字段 specs 追加在 commands 之后。
type ExecRequest struct {
	Endpoint        string         `json:"endpoint"`
	Endpoints       []string       `json:"endpoints"`
	Commands        []command.Spec `json:"commands"`
	Specs           []command.Spec `json:"specs"`
	Protocol        string         `json:"protocol"`
	Username        string         `json:"username"`
	Password        string         `json:"password"`
	Secret          string         `json:"secret"`
	Port            int            `json:"port"`
	Timeout         int            `json:"timeout"` // 秒
	Encoding        string         `json:"encoding"`
	Platform        string         `json:"platform"`
	Verify          *bool          `json:"verify"`
	ContinueOnError *bool          `json:"continue_on_error"`
	PoolSize        int            `json:"pool_size"`
	DelayMS         int            `json:"delay_ms"`
}

func (r *ExecRequest) endpoints() []string {
	eps := append([]string(nil), r.Endpoints...)
	if r.Endpoint != "" {
		eps = append([]string{r.Endpoint}, eps...)
	}
	return eps
}

func (r *ExecRequest) commands() ([]*command.Command, error) {
	return command.FromSpecs(slices.Concat(r.Commands, r.Specs))
}

// options 只下发请求中显式给出的参数，其余沿用配置默认值
func (r *ExecRequest) options() []netcomm.Option {
	var opts []netcomm.Option
	if r.Username != "" || r.Password != "" {
		opts = append(opts, netcomm.WithCredentials(r.Username, r.Password))
	}
	if r.Secret != "" {
		opts = append(opts, netcomm.WithAuthorize(r.Secret))
	}
	if r.Port > 0 {
		opts = append(opts, netcomm.WithPort(r.Port))
	}
	if r.Timeout > 0 {
		opts = append(opts, netcomm.WithTimeout(time.Duration(r.Timeout)*time.Second))
	}
	if r.Encoding != "" {
		opts = append(opts, netcomm.WithEncoding(r.Encoding))
	}
	if r.Platform != "" {
		opts = append(opts, netcomm.WithPlatform(r.Platform))
	}
	if r.Verify != nil {
		opts = append(opts, netcomm.WithVerify(*r.Verify))
	}
	if r.ContinueOnError != nil {
		opts = append(opts, netcomm.WithContinueOnError(*r.ContinueOnError))
	}
	if r.PoolSize > 0 {
		opts = append(opts, netcomm.WithPoolSize(r.PoolSize))
	}
	if r.DelayMS > 0 {
		opts = append(opts, netcomm.WithDelay(time.Duration(r.DelayMS)*time.Millisecond))
	}
	return opts
}

func (r *ExecRequest) toService() (service.Request, error) {
	cmds, err := r.commands()
	if err != nil {
		return service.Request{}, err
	}
	return service.Request{
		Endpoints: r.endpoints(),
		Commands:  cmds,
		Protocol:  r.Protocol,
		Options:   r.options(),
	}, nil
}

// JobResults 任务结果
type JobResults struct {
	Job     service.JobView     `json:"job"`
	Results []response.Document `json:"results"`
}

// NetcommHandler 执行与任务接口
type NetcommHandler struct {
	jobs *service.JobService
}

// NewNetcommHandler 创建处理器
func NewNetcommHandler(jobs *service.JobService) *NetcommHandler {
	return &NetcommHandler{jobs: jobs}
}

func (h *NetcommHandler) bind(c *gin.Context) (service.Request, bool) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PARAMS", "请求参数无效: "+err.Error())
		return service.Request{}, false
	}
	sreq, err := req.toService()
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_COMMAND", err.Error())
		return service.Request{}, false
	}
	return sreq, true
}

// Execute 单台设备同步执行
// @Router /api/v1/execute [post]
func (h *NetcommHandler) Execute(c *gin.Context) {
	h.single(c, h.jobs.Execute)
}

// Configure 以 configure ... end 包裹后执行
// @Router /api/v1/configure [post]
func (h *NetcommHandler) Configure(c *gin.Context) {
	h.single(c, h.jobs.Configure)
}

func (h *NetcommHandler) single(c *gin.Context, fn func(context.Context, service.Request) (*response.Store, error)) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	if len(req.Endpoints) > 1 {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "单台执行只接受一个 endpoint")
		return
	}
	store, err := fn(c.Request.Context(), req)
	if err != nil {
		logger.WithField("request_id", c.GetString("request_id")).WithError(err).Warn("execute failed")
		failErr(c, err)
		return
	}
	success(c, "执行完成", store.Document())
}

// Batch 多台设备同步执行，结果按完成顺序返回
// @Router /api/v1/batch [post]
func (h *NetcommHandler) Batch(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	stores, err := h.jobs.Batch(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, "执行完成", documents(stores))
}

// Submit 提交后台任务
// @Router /api/v1/jobs [post]
func (h *NetcommHandler) Submit(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	job, err := h.jobs.Submit(req)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Code: "SUCCESS", Message: "任务已提交", Data: job.View()})
}

// ListJobs 任务列表
// @Router /api/v1/jobs [get]
func (h *NetcommHandler) ListJobs(c *gin.Context) {
	success(c, "ok", h.jobs.List())
}

// GetJob 任务状态
// @Router /api/v1/jobs/{id} [get]
func (h *NetcommHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, "ok", job.View())
}

// JobResults 已完成设备的结果
// @Router /api/v1/jobs/{id}/results [get]
func (h *NetcommHandler) JobResults(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, "ok", JobResults{Job: job.View(), Results: documents(job.Results())})
}

// KillJob 终止任务
// @Router /api/v1/jobs/{id}/kill [post]
func (h *NetcommHandler) KillJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.jobs.Kill(id); err != nil {
		failErr(c, err)
		return
	}
	logger.WithField("job_id", id).Info("job killed by request")
	success(c, "任务已终止", nil)
}

// Stats 服务统计
// @Router /api/v1/stats [get]
func (h *NetcommHandler) Stats(c *gin.Context) {
	success(c, "ok", h.jobs.Stats())
}

// Health 健康检查
// @Router /health [get]
func (h *NetcommHandler) Health(c *gin.Context) {
	stats := h.jobs.Stats()
	if !stats.Running {
		fail(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "任务服务未运行")
		return
	}
	success(c, "服务正常", stats)
}

func documents(stores []*response.Store) []response.Document {
	out := make([]response.Document, 0, len(stores))
	for _, s := range stores {
		out = append(out, s.Document())
	}
	return out
}
