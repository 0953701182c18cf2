package models

import (
	"time"

	"github.com/klaxonhq/klaxon/pkg/ctx"
)

const (
	EscalationPending  = "pending"
	EscalationFired    = "fired"
	EscalationCanceled = "canceled"
)

// Escalation is one scheduled re-notification step. At most one pending row
// exists per alert; the due-at scan reloads pending rows on boot so timers
// survive a restart. Status moves pending -> fired or pending -> canceled
// exactly once, enforced by conditional updates.
type Escalation struct {
	Id          string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AlertId     string      `json:"alert_id" gorm:"type:varchar(64);not null;index:idx_esc_alert"`
	Level       int         `json:"level" gorm:"type:int;not null"`
	ScheduledAt int64       `json:"scheduled_at" gorm:"type:bigint;not null;index:idx_esc_due"`
	FiredAt     int64       `json:"fired_at" gorm:"type:bigint;default:0"`
	Status      string      `json:"status" gorm:"type:varchar(16);not null;index:idx_esc_status"`
	Channels    StringArray `json:"channels" gorm:"type:text"`
	Reason      string      `json:"reason" gorm:"type:varchar(1024);default:''"`
	CreateAt    int64       `json:"create_at" gorm:"type:bigint;not null"`
}

func (e *Escalation) TableName() string {
	return "escalation"
}

func (e *Escalation) Add(ctx *ctx.Context) error {
	return Insert(ctx, e)
}

// MarkFired flips pending to fired. Returns false when the row was already
// fired or canceled, which makes the fire path idempotent across loops and
// restarts.
func (e *Escalation) MarkFired(c *ctx.Context, firedAt int64) (bool, error) {
	ret := DB(c).Model(&Escalation{}).
		Where("id = ? and status = ?", e.Id, EscalationPending).
		Updates(map[string]interface{}{"status": EscalationFired, "fired_at": firedAt})
	if ret.Error != nil {
		return false, ret.Error
	}
	if ret.RowsAffected == 0 {
		return false, nil
	}
	e.Status = EscalationFired
	e.FiredAt = firedAt
	return true, nil
}

// CancelPendingByAlert voids any pending escalation for the alert. Safe to
// call when none exists.
func CancelPendingByAlert(ctx *ctx.Context, alertId string) error {
	return DB(ctx).Model(&Escalation{}).
		Where("alert_id = ? and status = ?", alertId, EscalationPending).
		Update("status", EscalationCanceled).Error
}

// EscalationPendingExists reports whether the alert already has a pending
// step, the "at most one pending per alert" invariant.
func EscalationPendingExists(ctx *ctx.Context, alertId string) (bool, error) {
	return Exists(DB(ctx).Model(&Escalation{}).
		Where("alert_id = ? and status = ?", alertId, EscalationPending))
}

// EscalationsPendingGets loads every pending row for boot re-arm.
func EscalationsPendingGets(ctx *ctx.Context) ([]*Escalation, error) {
	var lst []*Escalation
	err := DB(ctx).Where("status = ?", EscalationPending).
		Order("scheduled_at asc").
		Find(&lst).Error
	return lst, err
}

func EscalationsGetByAlert(ctx *ctx.Context, alertId string) ([]*Escalation, error) {
	var lst []*Escalation
	err := DB(ctx).Where("alert_id = ?", alertId).
		Order("level asc").
		Find(&lst).Error
	return lst, err
}

func EscalationTotal(ctx *ctx.Context, status string) (int64, error) {
	session := DB(ctx).Model(&Escalation{})
	if status != "" {
		session = session.Where("status = ?", status)
	}
	return Count(session)
}

// EscalationCleanup removes terminal rows older than the retention window.
func EscalationCleanup(ctx *ctx.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	ret := DB(ctx).Where("status <> ? and create_at < ?", EscalationPending, cutoff).
		Delete(&Escalation{})
	return ret.RowsAffected, ret.Error
}
