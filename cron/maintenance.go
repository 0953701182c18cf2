// Package cron runs the background maintenance of the alert engine:
// retention cleanups, dirty-state flushing, dedup-window pruning, baseline
// recomputation and the escalation rescan safety net.
package cron

import (
	"context"
	"fmt"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/escalate"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/robfig/cron/v3"
	"github.com/toolkits/pkg/logger"
)

const (
	flushDirtySpec       = "@every 10s"
	pruneRecentSpec      = "@every 1m"
	rescanSpec           = "@every 1m"
	cleanHistorySpec     = "0 1 * * *"
	cleanNotifySpec      = "0 2 * * *"
	cleanEscalationsSpec = "0 3 * * *"
)

type Maintenance struct {
	ctx       *ctx.Context
	alerting  aconf.Alerting
	statsConf stats.Config
	store     *store.Store
	engine    *stats.Engine
	escalate  *escalate.Scheduler
	scheduler *cron.Cron
}

func New(c *ctx.Context, alerting aconf.Alerting, statsConf stats.Config, st *store.Store,
	engine *stats.Engine, esc *escalate.Scheduler) *Maintenance {
	statsConf.PreCheck()
	return &Maintenance{
		ctx:       c,
		alerting:  alerting,
		statsConf: statsConf,
		store:     st,
		engine:    engine,
		escalate:  esc,
		scheduler: cron.New(),
	}
}

func (m *Maintenance) Start() error {
	jobs := []struct {
		spec string
		fn   func()
	}{
		{flushDirtySpec, m.flushDirty},
		{pruneRecentSpec, m.pruneRecent},
		{fmt.Sprintf("@every %ds", m.statsConf.RecomputeInterval), m.recomputeBaselines},
		{rescanSpec, m.rescanEscalations},
		{cleanHistorySpec, m.cleanHistory},
		{cleanNotifySpec, m.cleanNotifyRecords},
		{cleanEscalationsSpec, m.cleanEscalations},
	}
	for _, job := range jobs {
		if _, err := m.scheduler.AddFunc(job.spec, job.fn); err != nil {
			return err
		}
	}
	m.scheduler.Start()
	return nil
}

func (m *Maintenance) Stop() {
	c := m.scheduler.Stop()
	<-c.Done()
}

func (m *Maintenance) flushDirty() {
	m.store.FlushDirty()
}

func (m *Maintenance) pruneRecent() {
	m.store.PruneRecent()
}

func (m *Maintenance) recomputeBaselines() {
	n := m.engine.RecomputeAll(context.Background())
	if n > 0 {
		logger.Debugf("recomputed %d baselines", n)
	}
}

func (m *Maintenance) rescanEscalations() {
	m.escalate.Rescan()
}

func (m *Maintenance) cleanHistory() {
	n, err := models.AlertHistoryCleanup(m.ctx, m.alerting.HistoryRetentionDays)
	if err != nil {
		logger.Errorf("failed to clean alert history: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("cleaned %d alert history rows", n)
	}
}

func (m *Maintenance) cleanNotifyRecords() {
	n, err := models.NotifyRecordCleanup(m.ctx, m.alerting.NotifyRecordRetentionDays)
	if err != nil {
		logger.Errorf("failed to clean notify records: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("cleaned %d notify records", n)
	}
}

func (m *Maintenance) cleanEscalations() {
	n, err := models.EscalationCleanup(m.ctx, m.alerting.EscalationRetentionDays)
	if err != nil {
		logger.Errorf("failed to clean escalations: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("cleaned %d escalation rows", n)
	}
}
