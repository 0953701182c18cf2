package models

import (
	"time"

	"github.com/klaxonhq/klaxon/pkg/ctx"
)

const (
	NotifyStatusPending = "pending"
	NotifyStatusSent    = "sent"
	NotifyStatusFailed  = "failed"
)

// NotifyRecord is one delivery attempt on one channel. Append-only; the
// attempt counter distinguishes retries of the same notification.
type NotifyRecord struct {
	Id       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AlertId  string `json:"alert_id" gorm:"type:varchar(64);not null;index:idx_notify_alert"`
	Channel  string `json:"channel" gorm:"type:varchar(64);not null"`
	Target   string `json:"target" gorm:"type:varchar(1024);default:''"`
	Status   string `json:"status" gorm:"type:varchar(16);not null;index:idx_notify_status"`
	Attempt  int    `json:"attempt" gorm:"type:int;not null;default:1"`
	Error    string `json:"error" gorm:"type:varchar(2048);default:''"`
	SentAt   int64  `json:"sent_at" gorm:"type:bigint;default:0"`
	CreateAt int64  `json:"create_at" gorm:"type:bigint;not null;index:idx_notify_create"`
}

func (n *NotifyRecord) TableName() string {
	return "notify_record"
}

func (n *NotifyRecord) SetStatus(status string) {
	if n == nil {
		return
	}
	n.Status = status
}

func (n *NotifyRecord) SetError(err error) {
	if n == nil || err == nil {
		return
	}
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	n.Error = msg
}

func NotifyRecordsGetByAlert(ctx *ctx.Context, alertId string) ([]*NotifyRecord, error) {
	var lst []*NotifyRecord
	err := DB(ctx).Where("alert_id = ?", alertId).
		Order("create_at asc").
		Find(&lst).Error
	return lst, err
}

func NotifyRecordTotal(ctx *ctx.Context, status string) (int64, error) {
	session := DB(ctx).Model(&NotifyRecord{})
	if status != "" {
		session = session.Where("status = ?", status)
	}
	return Count(session)
}

// NotifyRecordCleanup drops records older than the retention window.
func NotifyRecordCleanup(ctx *ctx.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	ret := DB(ctx).Where("create_at < ?", cutoff).Delete(&NotifyRecord{})
	return ret.RowsAffected, ret.Error
}
