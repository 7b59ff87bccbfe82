package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netcomm/internal/database"
	"github.com/sshcollectorpro/netcomm/internal/model"
	"github.com/sshcollectorpro/netcomm/pkg/command"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

const recordAttempts = 5

// Recorder 将执行结果写入数据库；db 为 nil 时所有方法为空操作
type Recorder struct {
	db *gorm.DB
}

// NewRecorder 创建记录器
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) enabled() bool { return r != nil && r.db != nil }

// StartRun 新建一次执行记录
func (r *Recorder) StartRun(id, kind, protocol string, cmds []*command.Command, total int) error {
	if !r.enabled() {
		return nil
	}
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		lines = append(lines, c.Expression())
	}
	run := &model.Run{
		ID:        id,
		Kind:      kind,
		Protocol:  protocol,
		Commands:  strings.Join(lines, "\n"),
		Total:     total,
		Status:    model.RunStatusRunning,
		StartTime: time.Now(),
	}
	return database.TransactionWithRetry(r.db, func(tx *gorm.DB) error {
		return tx.Create(run).Error
	}, recordAttempts, 0)
}

// RecordHost 保存一台设备的结果并更新计数
func (r *Recorder) RecordHost(runID string, store *response.Store) error {
	if !r.enabled() {
		return nil
	}
	hr := &model.HostResult{
		ID:     uuid.NewString(),
		RunID:  runID,
		Host:   store.Host(),
		Status: store.Status(),
	}
	for i, resp := range store.Responses() {
		hr.Commands = append(hr.Commands, model.CommandRecord{
			Seq:       i,
			Command:   resp.Command.Expression(),
			Output:    resp.Output,
			Errored:   resp.Errored,
			Timestamp: resp.Timestamp,
		})
	}
	failed := 0
	if store.Status() == response.StatusFailed {
		failed = 1
	}
	return database.TransactionWithRetry(r.db, func(tx *gorm.DB) error {
		if err := tx.Create(hr).Error; err != nil {
			return err
		}
		return tx.Model(&model.Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
			"completed": gorm.Expr("completed + 1"),
			"failed":    gorm.Expr("failed + ?", failed),
		}).Error
	}, recordAttempts, 0)
}

// FinishRun 标记结束状态
func (r *Recorder) FinishRun(runID, status string) error {
	if !r.enabled() {
		return nil
	}
	return database.TransactionWithRetry(r.db, func(tx *gorm.DB) error {
		var run model.Run
		if err := tx.First(&run, "id = ?", runID).Error; err != nil {
			return err
		}
		end := time.Now()
		return tx.Model(&run).Updates(map[string]interface{}{
			"status":   status,
			"end_time": end,
			"duration": end.Sub(run.StartTime).Milliseconds(),
		}).Error
	}, recordAttempts, 0)
}

// Runs 最近的执行记录
func (r *Recorder) Runs(limit int) ([]model.Run, error) {
	if !r.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var runs []model.Run
	err := r.db.Order("created_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// HostResults 某次执行的全部设备结果，含命令输出
func (r *Recorder) HostResults(runID string) ([]model.HostResult, error) {
	if !r.enabled() {
		return nil, nil
	}
	var out []model.HostResult
	err := r.db.Preload("Commands", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq asc")
	}).Where("run_id = ?", runID).Order("created_at asc").Find(&out).Error
	return out, err
}
