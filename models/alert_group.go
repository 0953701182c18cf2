package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"gorm.io/gorm/clause"
)

// GroupMember records one trigger occurrence folded into a group. All
// members reference the single live alert for the fingerprint; the point of
// the list is the per-occurrence value/time trail.
type GroupMember struct {
	AlertId     string  `json:"alert_id"`
	Value       float64 `json:"value"`
	TriggeredAt int64   `json:"triggered_at"`
}

type GroupMembers []GroupMember

func (g GroupMembers) Value() (driver.Value, error) {
	if len(g) == 0 {
		return nil, nil
	}
	j, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return string(j), nil
}

func (g *GroupMembers) Scan(value interface{}) error {
	if value == nil {
		*g = nil
		return nil
	}
	b, ok := scanBytes(value)
	if !ok {
		return fmt.Errorf("failed to scan GroupMembers: %v", value)
	}
	members := make([]GroupMember, 0)
	if err := json.Unmarshal(b, &members); err != nil {
		return fmt.Errorf("failed to scan GroupMembers: %v", err)
	}
	*g = members
	return nil
}

// AlertGroup aggregates repeated triggers of one fingerprint so operators
// see a single row with a count instead of a flood. Count always equals
// len(Members) and LastUpdated the newest member time.
type AlertGroup struct {
	Id          string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Fingerprint string       `json:"fingerprint" gorm:"type:varchar(64);not null;uniqueIndex:idx_group_fp"`
	State       string       `json:"state" gorm:"type:varchar(16);not null"`
	Count       int64        `json:"count" gorm:"type:bigint;not null;default:0"`
	FirstSeen   int64        `json:"first_seen" gorm:"type:bigint;not null"`
	LastUpdated int64        `json:"last_updated" gorm:"type:bigint;not null"`
	Members     GroupMembers `json:"alerts" gorm:"type:text"`
	Version     int64        `json:"version" gorm:"type:bigint;not null;default:0"`
}

func (g *AlertGroup) TableName() string {
	return "alert_group"
}

// Attach folds one more occurrence into the group and keeps the invariants.
func (g *AlertGroup) Attach(m GroupMember) {
	g.Members = append(g.Members, m)
	g.Count = int64(len(g.Members))
	if m.TriggeredAt > g.LastUpdated {
		g.LastUpdated = m.TriggeredAt
	}
}

func (g *AlertGroup) Add(ctx *ctx.Context) error {
	return Insert(ctx, g)
}

func (g *AlertGroup) Update(ctx *ctx.Context) error {
	g.Version++
	return DB(ctx).Model(&AlertGroup{}).
		Where("id = ?", g.Id).
		Select("*").Omit("id", "first_seen").
		Updates(g).Error
}

// Upsert is the re-flush write: create the row if the first insert was lost,
// overwrite it otherwise.
func (g *AlertGroup) Upsert(c *ctx.Context) error {
	err := DB(c).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(g).Error
	if err != nil {
		return errx.NewPersistence("group upsert", err)
	}
	return nil
}

func AlertGroupGetByFingerprint(ctx *ctx.Context, fingerprint string) (*AlertGroup, error) {
	var lst []*AlertGroup
	err := DB(ctx).Where("fingerprint = ?", fingerprint).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	return lst[0], nil
}

func AlertGroupsGetLive(ctx *ctx.Context) ([]*AlertGroup, error) {
	var lst []*AlertGroup
	err := DB(ctx).Order("first_seen asc").Find(&lst).Error
	return lst, err
}

func AlertGroupDel(ctx *ctx.Context, id string) error {
	return DB(ctx).Where("id = ?", id).Delete(&AlertGroup{}).Error
}
