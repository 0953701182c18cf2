package models

import (
	"time"

	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"gorm.io/gorm"
)

// AlertHistory is the archive row written when an alert resolves. Same shape
// as Alert plus the archive timestamp; rows age out via the retention job.
type AlertHistory struct {
	Id              string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Fingerprint     string    `json:"fingerprint" gorm:"type:varchar(64);not null;index:idx_his_fp"`
	Rule            string    `json:"rule" gorm:"type:varchar(255);not null"`
	Metric          string    `json:"metric" gorm:"type:varchar(255);not null"`
	Source          string    `json:"source" gorm:"type:varchar(191);not null"`
	Severity        string    `json:"severity" gorm:"type:varchar(16);not null;index:idx_his_severity"`
	Value           float64   `json:"value"`
	Threshold       float64   `json:"threshold"`
	State           string    `json:"state" gorm:"type:varchar(16);not null"`
	TriggerCount    int64     `json:"trigger_count" gorm:"type:bigint;not null;default:1"`
	CreateAt        int64     `json:"create_at" gorm:"type:bigint;not null;index:idx_his_create"`
	LastTriggerTime int64     `json:"last_trigger_time" gorm:"type:bigint;not null"`
	AckBy           string    `json:"ack_by" gorm:"type:varchar(191);default:''"`
	AckAt           int64     `json:"ack_at" gorm:"type:bigint;default:0"`
	AckNotes        string    `json:"ack_notes" gorm:"type:varchar(1024);default:''"`
	ResolveBy       string    `json:"resolve_by" gorm:"type:varchar(191);default:''"`
	ResolveAt       int64     `json:"resolve_at" gorm:"type:bigint;default:0;index:idx_his_resolve"`
	ResolveNotes    string    `json:"resolve_notes" gorm:"type:varchar(1024);default:''"`
	ResolveDuration int64     `json:"resolve_duration" gorm:"type:bigint;default:0"`
	EscalationLevel int       `json:"escalation_level" gorm:"type:int;default:0"`
	GroupId         string    `json:"group_id" gorm:"type:varchar(64);default:''"`
	Context         JSONMap   `json:"context" gorm:"type:text"`
	Tags            StringMap `json:"tags" gorm:"type:text"`
	ArchivedAt      int64     `json:"archived_at" gorm:"type:bigint;not null"`
}

func (h *AlertHistory) TableName() string {
	return "alert_his"
}

// HistoryFromAlert builds the archive row for a resolved alert.
func HistoryFromAlert(a *Alert, now int64) *AlertHistory {
	return &AlertHistory{
		Id:              a.Id,
		Fingerprint:     a.Fingerprint,
		Rule:            a.Rule,
		Metric:          a.Metric,
		Source:          a.Source,
		Severity:        a.Severity,
		Value:           a.Value,
		Threshold:       a.Threshold,
		State:           a.State,
		TriggerCount:    a.TriggerCount,
		CreateAt:        a.CreateAt,
		LastTriggerTime: a.LastTriggerTime,
		AckBy:           a.AckBy,
		AckAt:           a.AckAt,
		AckNotes:        a.AckNotes,
		ResolveBy:       a.ResolveBy,
		ResolveAt:       a.ResolveAt,
		ResolveNotes:    a.ResolveNotes,
		ResolveDuration: a.ResolveDuration,
		EscalationLevel: a.EscalationLevel,
		GroupId:         a.GroupId,
		Context:         a.Context,
		Tags:            a.Tags,
		ArchivedAt:      now,
	}
}

// ToAlert rebuilds the alert view of an archive row for read paths that do
// not care where the alert currently lives.
func (h *AlertHistory) ToAlert() *Alert {
	return &Alert{
		Id:              h.Id,
		Fingerprint:     h.Fingerprint,
		Rule:            h.Rule,
		Metric:          h.Metric,
		Source:          h.Source,
		Severity:        h.Severity,
		Value:           h.Value,
		Threshold:       h.Threshold,
		State:           h.State,
		TriggerCount:    h.TriggerCount,
		CreateAt:        h.CreateAt,
		LastTriggerTime: h.LastTriggerTime,
		AckBy:           h.AckBy,
		AckAt:           h.AckAt,
		AckNotes:        h.AckNotes,
		ResolveBy:       h.ResolveBy,
		ResolveAt:       h.ResolveAt,
		ResolveNotes:    h.ResolveNotes,
		ResolveDuration: h.ResolveDuration,
		EscalationLevel: h.EscalationLevel,
		GroupId:         h.GroupId,
		Context:         h.Context,
		Tags:            h.Tags,
		UpdateAt:        h.ArchivedAt,
	}
}

// ArchiveAlert moves a resolved alert from the live table to history in one
// transaction.
func ArchiveAlert(c *ctx.Context, a *Alert) error {
	his := HistoryFromAlert(a, time.Now().Unix())
	err := DB(c).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(his).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", a.Id).Delete(&Alert{}).Error
	})
	if err != nil {
		return errx.NewPersistence("alert archive", err)
	}
	return nil
}

// AlertHistoryGets returns archived alerts, newest first. hours limits how
// far back to look, limit caps the row count; zero values fall back to
// 24h / 100.
func AlertHistoryGets(ctx *ctx.Context, hours int, limit int) ([]*AlertHistory, error) {
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 100
	}

	cutoff := time.Now().Unix() - int64(hours)*3600
	var lst []*AlertHistory
	err := DB(ctx).Where("resolve_at >= ?", cutoff).
		Order("resolve_at desc").
		Limit(limit).
		Find(&lst).Error
	return lst, err
}

// AlertHistoryGetById looks up one archived alert. Returns nil when the id
// was never archived.
func AlertHistoryGetById(ctx *ctx.Context, id string) (*AlertHistory, error) {
	var lst []*AlertHistory
	err := DB(ctx).Where("id = ?", id).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	return lst[0], nil
}

// AlertHistoryCleanup drops archive rows older than the retention window.
// Returns the number of rows removed.
func AlertHistoryCleanup(ctx *ctx.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	ret := DB(ctx).Where("archived_at < ?", cutoff).Delete(&AlertHistory{})
	return ret.RowsAffected, ret.Error
}

// ResolveAggregates computes mean-time-to-acknowledge and mean-time-to-resolve
// in seconds over the archive, newest rows within the given hours.
func ResolveAggregates(ctx *ctx.Context, hours int) (mtta float64, mttr float64, err error) {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().Unix() - int64(hours)*3600

	type row struct {
		Mtta float64
		Mttr float64
	}
	var r row
	err = DB(ctx).Model(&AlertHistory{}).
		Select("coalesce(avg(case when ack_at > 0 then ack_at - create_at end), 0) as mtta, coalesce(avg(resolve_duration), 0) as mttr").
		Where("resolve_at >= ?", cutoff).
		Scan(&r).Error
	return r.Mtta, r.Mttr, err
}
