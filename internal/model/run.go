package model

import (
	"time"
)

// Run 一次批量执行（同步请求或后台任务）
type Run struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Kind      string    `json:"kind" gorm:"type:varchar(16);not null;index"`
	Protocol  string    `json:"protocol" gorm:"type:varchar(32)"`
	Commands  string    `json:"commands" gorm:"type:text;not null"`
	Total     int       `json:"total" gorm:"not null;default:0"`
	Completed int       `json:"completed" gorm:"not null;default:0"`
	Failed    int       `json:"failed" gorm:"not null;default:0"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// Run 类型
const (
	RunKindExecute   = "execute"
	RunKindConfigure = "configure"
	RunKindBatch     = "batch"
	RunKindJob       = "job"
)

// Run 状态
const (
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// HostResult 一台设备的结果
type HostResult struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID     string          `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Host      string          `json:"host" gorm:"type:varchar(255);not null;index"`
	Status    string          `json:"status" gorm:"type:varchar(16);not null"`
	Commands  []CommandRecord `json:"commands,omitempty" gorm:"foreignKey:HostResultID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (HostResult) TableName() string {
	return "host_results"
}

// CommandRecord 单条命令的输出
type CommandRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	HostResultID string    `json:"host_result_id" gorm:"type:varchar(64);not null;index"`
	Seq          int       `json:"seq" gorm:"not null"`
	Command      string    `json:"command" gorm:"type:text;not null"`
	Output       string    `json:"output" gorm:"type:text"`
	Errored      bool      `json:"errored" gorm:"not null;default:false"`
	Timestamp    time.Time `json:"timestamp"`
}

// TableName 表名
func (CommandRecord) TableName() string {
	return "command_records"
}
