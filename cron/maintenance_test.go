package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/dispatch"
	"github.com/klaxonhq/klaxon/alert/escalate"
	"github.com/klaxonhq/klaxon/alert/process"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStats = astats.NewStats()

func testMaintenance(t *testing.T) (*Maintenance, *ctx.Context, *store.Store) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "klaxon.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	c := ctx.NewContext(context.Background(), db)
	require.NoError(t, models.Migrate(c))

	q := queue.New(1024, testStats)
	b := bus.New(bus.Config{QueueSize: 1024}, nil, testStats)
	st := store.New(c, true, 300, q, b, testStats)
	engine := stats.NewEngine(stats.Config{WindowSize: 100, MinDataPoints: 5}, nil)

	escalation := aconf.EscalationConfig{PollInterval: 1, Policies: aconf.DefaultPolicies()}
	policy := dispatch.NewChannelPolicy(escalation, map[string]bool{models.Slack: true, models.Pagerduty: true})
	esc := escalate.New(c, escalation, st, q, policy, testStats)
	st.SetScheduler(esc)

	alerting := aconf.Alerting{
		HistoryRetentionDays:      30,
		NotifyRecordRetentionDays: 7,
		EscalationRetentionDays:   7,
	}
	m := New(c, alerting, stats.Config{WindowSize: 100, MinDataPoints: 5}, st, engine, esc)
	return m, c, st
}

func TestCleanupJobs(t *testing.T) {
	m, c, _ := testMaintenance(t)
	now := time.Now().Unix()
	old := now - 90*86400

	require.NoError(t, models.Insert(c, &models.AlertHistory{
		Id: uuid.NewString(), Fingerprint: "fp-old", Rule: "r", Metric: "m", Source: "s",
		Severity: models.SeverityWarning, State: models.StateResolved,
		CreateAt: old, LastTriggerTime: old, ArchivedAt: old,
	}))
	require.NoError(t, models.Insert(c, &models.AlertHistory{
		Id: uuid.NewString(), Fingerprint: "fp-new", Rule: "r", Metric: "m", Source: "s",
		Severity: models.SeverityWarning, State: models.StateResolved,
		CreateAt: now, LastTriggerTime: now, ArchivedAt: now,
	}))
	require.NoError(t, models.Insert(c, &models.NotifyRecord{
		Id: uuid.NewString(), AlertId: "a1", Channel: models.Slack,
		Status: models.NotifyStatusSent, Attempt: 1, CreateAt: old,
	}))
	require.NoError(t, models.Insert(c, &models.Escalation{
		Id: uuid.NewString(), AlertId: "a1", Level: 1,
		Status: models.EscalationFired, ScheduledAt: old, CreateAt: old,
	}))
	// pending rows survive cleanup regardless of age
	require.NoError(t, models.Insert(c, &models.Escalation{
		Id: uuid.NewString(), AlertId: "a2", Level: 1,
		Status: models.EscalationPending, ScheduledAt: old, CreateAt: old,
	}))

	m.cleanHistory()
	m.cleanNotifyRecords()
	m.cleanEscalations()

	var nHis int64
	require.NoError(t, models.DB(c).Model(&models.AlertHistory{}).Count(&nHis).Error)
	assert.Equal(t, int64(1), nHis)

	var nRec int64
	require.NoError(t, models.DB(c).Model(&models.NotifyRecord{}).Count(&nRec).Error)
	assert.Equal(t, int64(0), nRec)

	var nEsc int64
	require.NoError(t, models.DB(c).Model(&models.Escalation{}).Count(&nEsc).Error)
	assert.Equal(t, int64(1), nEsc)
}

func TestFlushAndRescan(t *testing.T) {
	m, c, st := testMaintenance(t)

	res, err := st.Submit(&process.Trigger{
		Rule: "high_cpu", Metric: "cpu.usage", Value: 92, Threshold: 80,
		Severity: models.SeverityCritical, Source: "host-1",
	})
	require.NoError(t, err)
	require.Equal(t, store.ActionCreated, res.Action)

	m.flushDirty()
	m.pruneRecent()
	m.rescanEscalations()

	// the armed escalation row survives a rescan untouched
	pending, err := models.EscalationPendingExists(c, res.Alert.Id)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, 1, st.LiveCount())
}

func TestMaintenanceStartStop(t *testing.T) {
	m, _, _ := testMaintenance(t)
	require.NoError(t, m.Start())
	m.Stop()
}
