package models

import (
	"errors"
	"time"

	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"gorm.io/gorm/clause"
)

var errStaleVersion = errors.New("stale version")

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	StateActive       = "active"
	StateAcknowledged = "acknowledged"
	StateResolved     = "resolved"
	StateSuppressed   = "suppressed"
)

// notification channel names
const (
	Email     = "email"
	Slack     = "slack"
	Webhook   = "webhook"
	Sms       = "sms"
	Telegram  = "telegram"
	Pagerduty = "pagerduty"
	InApp     = "inapp"
)

func SeverityValid(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Alert is one live alert condition, unique per fingerprint while it stays
// in the live set. Resolved alerts move to AlertHistory.
type Alert struct {
	Id              string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Fingerprint     string    `json:"fingerprint" gorm:"type:varchar(64);not null;uniqueIndex:idx_alert_fp"`
	Rule            string    `json:"rule" gorm:"type:varchar(255);not null"`
	Metric          string    `json:"metric" gorm:"type:varchar(255);not null"`
	Source          string    `json:"source" gorm:"type:varchar(191);not null;index:idx_alert_source"`
	Severity        string    `json:"severity" gorm:"type:varchar(16);not null;index:idx_alert_severity"`
	Value           float64   `json:"value"`
	Threshold       float64   `json:"threshold"`
	State           string    `json:"state" gorm:"type:varchar(16);not null;index:idx_alert_state"`
	TriggerCount    int64     `json:"trigger_count" gorm:"type:bigint;not null;default:1"`
	CreateAt        int64     `json:"create_at" gorm:"type:bigint;not null"`
	LastTriggerTime int64     `json:"last_trigger_time" gorm:"type:bigint;not null"`
	AckBy           string    `json:"ack_by" gorm:"type:varchar(191);default:''"`
	AckAt           int64     `json:"ack_at" gorm:"type:bigint;default:0"`
	AckNotes        string    `json:"ack_notes" gorm:"type:varchar(1024);default:''"`
	ResolveBy       string    `json:"resolve_by" gorm:"type:varchar(191);default:''"`
	ResolveAt       int64     `json:"resolve_at" gorm:"type:bigint;default:0"`
	ResolveNotes    string    `json:"resolve_notes" gorm:"type:varchar(1024);default:''"`
	ResolveDuration int64     `json:"resolve_duration" gorm:"type:bigint;default:0"` // seconds from create to resolve
	SuppressBy      string    `json:"suppress_by" gorm:"type:varchar(191);default:''"`
	SuppressUntil   int64     `json:"suppress_until" gorm:"type:bigint;default:0"`
	SuppressReason  string    `json:"suppress_reason" gorm:"type:varchar(1024);default:''"`
	EscalationLevel int       `json:"escalation_level" gorm:"type:int;default:0"`
	GroupId         string    `json:"group_id" gorm:"type:varchar(64);default:'';index:idx_alert_group"`
	Context         JSONMap   `json:"context" gorm:"type:text"`
	Tags            StringMap `json:"tags" gorm:"type:text"`
	Version         int64     `json:"version" gorm:"type:bigint;not null;default:0"`
	UpdateAt        int64     `json:"update_at" gorm:"type:bigint;not null;default:0"`
}

func (a *Alert) TableName() string {
	return "alert_cur"
}

func (a *Alert) IsActive() bool       { return a.State == StateActive }
func (a *Alert) IsAcknowledged() bool { return a.State == StateAcknowledged }
func (a *Alert) IsResolved() bool     { return a.State == StateResolved }
func (a *Alert) IsSuppressed() bool   { return a.State == StateSuppressed }

// SuppressionExpired reports whether a suppressed alert is past its window.
func (a *Alert) SuppressionExpired(now int64) bool {
	return a.IsSuppressed() && a.SuppressUntil > 0 && now >= a.SuppressUntil
}

func (a *Alert) Add(ctx *ctx.Context) error {
	return Insert(ctx, a)
}

// UpdateVersioned writes the full row guarded by the previous version so a
// concurrent writer cannot be silently overwritten. The version bump stays
// applied to the in-memory struct even on error; in-memory state is
// authoritative and the row is re-flushed later.
func (a *Alert) UpdateVersioned(c *ctx.Context) error {
	prev := a.Version
	a.Version = prev + 1
	a.UpdateAt = time.Now().Unix()

	ret := DB(c).Model(&Alert{}).
		Where("id = ? and version = ?", a.Id, prev).
		Select("*").Omit("id", "create_at").
		Updates(a)
	if ret.Error != nil {
		return errx.NewPersistence("alert update", ret.Error)
	}
	if ret.RowsAffected == 0 {
		return errx.NewPersistence("alert update", errStaleVersion)
	}
	return nil
}

// Upsert writes the full row without the version guard, creating it when the
// original insert never landed. Used by the dirty re-flush path, where the
// in-memory copy wins.
func (a *Alert) Upsert(c *ctx.Context) error {
	a.UpdateAt = time.Now().Unix()
	err := DB(c).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(a).Error
	if err != nil {
		return errx.NewPersistence("alert upsert", err)
	}
	return nil
}

func AlertGetById(ctx *ctx.Context, id string) (*Alert, error) {
	var lst []*Alert
	err := DB(ctx).Where("id = ?", id).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	return lst[0], nil
}

func AlertGetByFingerprint(ctx *ctx.Context, fingerprint string) (*Alert, error) {
	var lst []*Alert
	err := DB(ctx).Where("fingerprint = ?", fingerprint).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	return lst[0], nil
}

// AlertGetsLive returns every row of the live set, used to rebuild the
// in-memory index on boot.
func AlertGetsLive(ctx *ctx.Context) ([]*Alert, error) {
	var lst []*Alert
	err := DB(ctx).Order("create_at asc").Find(&lst).Error
	return lst, err
}

func AlertDel(ctx *ctx.Context, id string) error {
	return DB(ctx).Where("id = ?", id).Delete(&Alert{}).Error
}

func AlertTotal(ctx *ctx.Context) (int64, error) {
	return Count(DB(ctx).Model(&Alert{}))
}
