// Package store is the single writer of alert and group state. Every
// mutation of an alert is serialized on its fingerprint's shard, so a
// repeat trigger, an operator action and a firing timer can never interleave
// on the same alert.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/process"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/spaolacci/murmur3"
	"github.com/toolkits/pkg/logger"
)

const (
	ActionCreated      = "created"
	ActionGrouped      = "grouped"
	ActionDeduplicated = "deduplicated"
)

const shardCount = 64

// Scheduler is the timer side of the engine, injected after construction so
// store and scheduler can reference each other without an import cycle.
type Scheduler interface {
	ArmEscalation(a *models.Alert)
	ArmUnsuppress(alertId string, until int64)
	Disarm(alertId string)
}

type SubmitResult struct {
	Action string             `json:"action"`
	Alert  *models.Alert      `json:"alert,omitempty"`
	Group  *models.AlertGroup `json:"group,omitempty"`
}

type shard struct {
	sync.RWMutex
	alerts map[string]*models.Alert
	groups map[string]*models.AlertGroup
	// fingerprint -> resolve time, the dedup cooldown after an alert closes
	recent map[string]int64
	// fingerprints whose next trigger should notify again (set on unsuppress)
	renotify map[string]struct{}
}

type Store struct {
	ctx   *ctx.Context
	stats *astats.Stats
	bus   *bus.Bus
	queue *queue.Queue

	groupingEnabled bool
	window          int64

	shards [shardCount]*shard

	idmu sync.RWMutex
	byId map[string]string

	schedmu sync.RWMutex
	sched   Scheduler

	nTriggered    uint64
	nDeduplicated uint64
	nGrouped      uint64

	dirtymu        sync.Mutex
	dirtyAlerts    map[string]struct{}
	dirtyGroups    map[string]struct{}
	pendingArchive []*models.Alert
}

func New(c *ctx.Context, groupingEnabled bool, groupingWindow int64, q *queue.Queue, b *bus.Bus, stats *astats.Stats) *Store {
	if groupingWindow <= 0 {
		groupingWindow = 300
	}
	s := &Store{
		ctx:             c,
		stats:           stats,
		bus:             b,
		queue:           q,
		groupingEnabled: groupingEnabled,
		window:          groupingWindow,
		byId:            make(map[string]string),
		dirtyAlerts:     make(map[string]struct{}),
		dirtyGroups:     make(map[string]struct{}),
	}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &shard{
			alerts:   make(map[string]*models.Alert),
			groups:   make(map[string]*models.AlertGroup),
			recent:   make(map[string]int64),
			renotify: make(map[string]struct{}),
		}
	}
	return s
}

func (s *Store) SetScheduler(sched Scheduler) {
	s.schedmu.Lock()
	s.sched = sched
	s.schedmu.Unlock()
}

func (s *Store) scheduler() Scheduler {
	s.schedmu.RLock()
	defer s.schedmu.RUnlock()
	return s.sched
}

func (s *Store) shard(fingerprint string) *shard {
	return s.shards[murmur3.Sum32([]byte(fingerprint))%shardCount]
}

func (s *Store) fpOf(alertId string) (string, bool) {
	s.idmu.RLock()
	fp, has := s.byId[alertId]
	s.idmu.RUnlock()
	return fp, has
}

// Submit runs the dedup/group decision for one validated trigger. The whole
// decision happens under the fingerprint's shard lock.
func (s *Store) Submit(t *process.Trigger) (*SubmitResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	fp := t.Fingerprint()
	now := time.Now().Unix()
	sh := s.shard(fp)

	sh.Lock()
	defer sh.Unlock()

	atomic.AddUint64(&s.nTriggered, 1)

	live := sh.alerts[fp]
	if live == nil {
		if last, has := sh.recent[fp]; has && now-last < s.window {
			// the condition resolved moments ago, swallow the repeat
			atomic.AddUint64(&s.nDeduplicated, 1)
			s.stats.CounterAlertsTotal.WithLabelValues(ActionDeduplicated).Inc()
			s.bus.Publish(bus.EventAlertDeduplicated, nil, map[string]interface{}{
				"fingerprint": fp,
				"reason":      "cooldown",
			})
			return &SubmitResult{Action: ActionDeduplicated}, nil
		}
		return s.createLocked(sh, t, fp, now), nil
	}

	// a live alert absorbs every repeat of its condition
	prevValue := live.Value
	live.TriggerCount++
	live.LastTriggerTime = now
	live.Value = t.Value

	if live.IsSuppressed() {
		s.persistAlertLocked(live, fp)
		atomic.AddUint64(&s.nDeduplicated, 1)
		s.stats.CounterAlertsTotal.WithLabelValues(ActionDeduplicated).Inc()
		s.bus.Publish(bus.EventAlertDeduplicated, live, map[string]interface{}{"reason": "suppressed"})
		return &SubmitResult{Action: ActionDeduplicated, Alert: s.snapshot(live)}, nil
	}

	if !s.groupingEnabled {
		s.persistAlertLocked(live, fp)
		s.renotifyLocked(sh, live, fp)
		atomic.AddUint64(&s.nDeduplicated, 1)
		s.stats.CounterAlertsTotal.WithLabelValues(ActionDeduplicated).Inc()
		s.bus.Publish(bus.EventAlertDeduplicated, live, nil)
		return &SubmitResult{Action: ActionDeduplicated, Alert: s.snapshot(live)}, nil
	}

	g := s.attachGroupLocked(sh, live, fp, prevValue, t.Value, now)
	s.persistAlertLocked(live, fp)
	s.renotifyLocked(sh, live, fp)
	atomic.AddUint64(&s.nGrouped, 1)
	s.stats.CounterAlertsTotal.WithLabelValues(ActionGrouped).Inc()
	s.bus.Publish(bus.EventAlertGrouped, live, map[string]interface{}{"count": g.Count})
	return &SubmitResult{Action: ActionGrouped, Alert: s.snapshot(live), Group: s.snapshotGroup(g)}, nil
}

func (s *Store) createLocked(sh *shard, t *process.Trigger, fp string, now int64) *SubmitResult {
	a := t.NewAlert(now)
	sh.alerts[fp] = a
	delete(sh.recent, fp)
	delete(sh.renotify, fp)

	s.idmu.Lock()
	s.byId[a.Id] = fp
	s.idmu.Unlock()

	// the row lands before any notification goes out
	if err := a.Add(s.ctx); err != nil {
		logger.Errorf("failed to persist alert %s: %v", a.Id, err)
		s.markDirtyAlert(fp)
	}

	snap := s.snapshot(a)
	if !s.queue.PushNotify(&queue.NotifyJob{Alert: snap, Kind: queue.KindCreated}) {
		logger.Warningf("notify queue full, initial notification for alert %s lost", a.Id)
	}

	if sched := s.scheduler(); sched != nil {
		sched.ArmEscalation(snap)
	}

	s.stats.CounterAlertsTotal.WithLabelValues(ActionCreated).Inc()
	s.stats.GaugeActiveAlerts.Inc()
	s.bus.Publish(bus.EventAlertCreated, a, nil)
	logger.Infof("audit: alert %s created rule=%s metric=%s source=%s severity=%s value=%v",
		a.Id, a.Rule, a.Metric, a.Source, a.Severity, a.Value)

	return &SubmitResult{Action: ActionCreated, Alert: s.snapshot(a)}
}

// renotifyLocked pushes one more level-0 notification if the alert was
// unsuppressed since its last trigger.
func (s *Store) renotifyLocked(sh *shard, a *models.Alert, fp string) {
	if _, has := sh.renotify[fp]; !has {
		return
	}
	delete(sh.renotify, fp)
	if !s.queue.PushNotify(&queue.NotifyJob{Alert: s.snapshot(a), Kind: queue.KindCreated}) {
		logger.Warningf("notify queue full, renotification for alert %s lost", a.Id)
	}
}

func (s *Store) attachGroupLocked(sh *shard, live *models.Alert, fp string, prevValue, newValue float64, now int64) *models.AlertGroup {
	g := sh.groups[fp]
	fresh := g == nil
	if fresh {
		g = &models.AlertGroup{
			Id:          uuid.NewString(),
			Fingerprint: fp,
			State:       live.State,
			FirstSeen:   live.CreateAt,
			Version:     1,
		}
		// seed with the occurrence that opened the alert
		g.Attach(models.GroupMember{AlertId: live.Id, Value: prevValue, TriggeredAt: live.CreateAt})
		sh.groups[fp] = g
		live.GroupId = g.Id
	}
	g.Attach(models.GroupMember{AlertId: live.Id, Value: newValue, TriggeredAt: now})
	g.State = live.State

	var err error
	if fresh {
		err = g.Add(s.ctx)
	} else {
		err = g.Update(s.ctx)
	}
	if err != nil {
		logger.Errorf("failed to persist group %s: %v", g.Id, err)
		s.markDirtyGroup(fp)
	}
	return g
}

func (s *Store) persistAlertLocked(a *models.Alert, fp string) {
	if err := a.UpdateVersioned(s.ctx); err != nil {
		logger.Errorf("failed to persist alert %s: %v", a.Id, err)
		s.markDirtyAlert(fp)
	}
}

func (s *Store) syncGroupLocked(sh *shard, fp, state string) {
	g := sh.groups[fp]
	if g == nil {
		return
	}
	g.State = state
	if err := g.Update(s.ctx); err != nil {
		logger.Errorf("failed to persist group %s: %v", g.Id, err)
		s.markDirtyGroup(fp)
	}
}

func (s *Store) snapshot(a *models.Alert) *models.Alert {
	snap := &models.Alert{}
	if err := copier.Copy(snap, a); err != nil {
		clone := *a
		return &clone
	}
	return snap
}

func (s *Store) snapshotGroup(g *models.AlertGroup) *models.AlertGroup {
	snap := &models.AlertGroup{}
	if err := copier.Copy(snap, g); err != nil {
		clone := *g
		return &clone
	}
	return snap
}

// GetAlert serves live alerts from memory and resolved ones from the
// archive, so an id stays addressable after resolution.
func (s *Store) GetAlert(id string) (*models.Alert, error) {
	if fp, has := s.fpOf(id); has {
		sh := s.shard(fp)
		sh.RLock()
		a := sh.alerts[fp]
		var snap *models.Alert
		if a != nil && a.Id == id {
			snap = s.snapshot(a)
		}
		sh.RUnlock()
		if snap != nil {
			return snap, nil
		}
	}

	his, err := models.AlertHistoryGetById(s.ctx, id)
	if err != nil {
		return nil, errx.NewPersistence("alert lookup", err)
	}
	if his == nil {
		return nil, errx.NewNotFound("alert", id)
	}
	return his.ToAlert(), nil
}

// ListActiveAlerts returns every live (not yet resolved) alert, oldest first.
func (s *Store) ListActiveAlerts() []*models.Alert {
	var lst []*models.Alert
	for _, sh := range s.shards {
		sh.RLock()
		for _, a := range sh.alerts {
			lst = append(lst, s.snapshot(a))
		}
		sh.RUnlock()
	}
	sort.Slice(lst, func(i, j int) bool {
		if lst[i].CreateAt == lst[j].CreateAt {
			return lst[i].Id < lst[j].Id
		}
		return lst[i].CreateAt < lst[j].CreateAt
	})
	return lst
}

func (s *Store) GetAlertGroup(fingerprint string) (*models.AlertGroup, error) {
	sh := s.shard(fingerprint)
	sh.RLock()
	g := sh.groups[fingerprint]
	var snap *models.AlertGroup
	if g != nil {
		snap = s.snapshotGroup(g)
	}
	sh.RUnlock()
	if snap == nil {
		return nil, errx.NewNotFound("alert group", fingerprint)
	}
	return snap, nil
}

func (s *Store) GetAlertHistory(hours, limit int) ([]*models.AlertHistory, error) {
	lst, err := models.AlertHistoryGets(s.ctx, hours, limit)
	if err != nil {
		return nil, errx.NewPersistence("history query", err)
	}
	return lst, nil
}

// Suppressed snapshots the currently suppressed alerts, used by the
// scheduler to re-arm expiry timers on boot.
func (s *Store) Suppressed() []*models.Alert {
	var lst []*models.Alert
	for _, sh := range s.shards {
		sh.RLock()
		for _, a := range sh.alerts {
			if a.IsSuppressed() {
				lst = append(lst, s.snapshot(a))
			}
		}
		sh.RUnlock()
	}
	return lst
}

// Active snapshots the alerts in state active, used by the maintenance
// re-scan to repair lost escalation timers.
func (s *Store) Active() []*models.Alert {
	var lst []*models.Alert
	for _, sh := range s.shards {
		sh.RLock()
		for _, a := range sh.alerts {
			if a.IsActive() {
				lst = append(lst, s.snapshot(a))
			}
		}
		sh.RUnlock()
	}
	return lst
}

func (s *Store) LiveCount() int {
	n := 0
	for _, sh := range s.shards {
		sh.RLock()
		n += len(sh.alerts)
		sh.RUnlock()
	}
	return n
}

// Counters returns the since-boot submit outcome totals.
func (s *Store) Counters() (triggered, deduplicated, grouped uint64) {
	return atomic.LoadUint64(&s.nTriggered),
		atomic.LoadUint64(&s.nDeduplicated),
		atomic.LoadUint64(&s.nGrouped)
}

// Reload rebuilds the in-memory index from the live tables. Called once at
// boot before the engine accepts triggers.
func (s *Store) Reload() error {
	alerts, err := models.AlertGetsLive(s.ctx)
	if err != nil {
		return errx.NewPersistence("reload alerts", err)
	}
	groups, err := models.AlertGroupsGetLive(s.ctx)
	if err != nil {
		return errx.NewPersistence("reload groups", err)
	}

	n := 0
	for _, a := range alerts {
		if a.IsResolved() {
			// resolved rows belong to the archive, not the live set
			if err := models.ArchiveAlert(s.ctx, a); err != nil {
				logger.Errorf("failed to archive stray resolved alert %s: %v", a.Id, err)
			}
			continue
		}
		sh := s.shard(a.Fingerprint)
		sh.Lock()
		sh.alerts[a.Fingerprint] = a
		sh.Unlock()

		s.idmu.Lock()
		s.byId[a.Id] = a.Fingerprint
		s.idmu.Unlock()
		n++
	}

	for _, g := range groups {
		sh := s.shard(g.Fingerprint)
		sh.Lock()
		_, hasAlert := sh.alerts[g.Fingerprint]
		if hasAlert {
			sh.groups[g.Fingerprint] = g
		}
		sh.Unlock()
		if !hasAlert {
			if err := models.AlertGroupDel(s.ctx, g.Id); err != nil {
				logger.Errorf("failed to drop orphan group %s: %v", g.Id, err)
			}
		}
	}

	s.stats.GaugeActiveAlerts.Set(float64(n))
	logger.Infof("store reloaded: %d live alerts, %d groups", n, len(groups))
	return nil
}

func (s *Store) markDirtyAlert(fp string) {
	s.dirtymu.Lock()
	s.dirtyAlerts[fp] = struct{}{}
	s.dirtymu.Unlock()
}

func (s *Store) markDirtyGroup(fp string) {
	s.dirtymu.Lock()
	s.dirtyGroups[fp] = struct{}{}
	s.dirtymu.Unlock()
}

func (s *Store) queueArchive(a *models.Alert) {
	s.dirtymu.Lock()
	s.pendingArchive = append(s.pendingArchive, a)
	s.dirtymu.Unlock()
}

// FlushDirty retries the writes that failed on the hot path. In-memory state
// is authoritative, so the flush always pushes memory over the row.
func (s *Store) FlushDirty() {
	s.dirtymu.Lock()
	alerts := make([]string, 0, len(s.dirtyAlerts))
	for fp := range s.dirtyAlerts {
		alerts = append(alerts, fp)
	}
	groups := make([]string, 0, len(s.dirtyGroups))
	for fp := range s.dirtyGroups {
		groups = append(groups, fp)
	}
	archive := s.pendingArchive
	s.pendingArchive = nil
	s.dirtymu.Unlock()

	for _, fp := range alerts {
		sh := s.shard(fp)
		sh.RLock()
		a := sh.alerts[fp]
		var snap *models.Alert
		if a != nil {
			snap = s.snapshot(a)
		}
		sh.RUnlock()

		if snap == nil {
			// left the live set, the archive path owns it now
			s.clearDirtyAlert(fp)
			continue
		}
		if err := snap.Upsert(s.ctx); err != nil {
			logger.Errorf("re-flush of alert %s failed: %v", snap.Id, err)
			continue
		}
		s.clearDirtyAlert(fp)
	}

	for _, fp := range groups {
		sh := s.shard(fp)
		sh.RLock()
		g := sh.groups[fp]
		var snap *models.AlertGroup
		if g != nil {
			snap = s.snapshotGroup(g)
		}
		sh.RUnlock()

		if snap == nil {
			s.clearDirtyGroup(fp)
			continue
		}
		if err := snap.Upsert(s.ctx); err != nil {
			logger.Errorf("re-flush of group %s failed: %v", snap.Id, err)
			continue
		}
		s.clearDirtyGroup(fp)
	}

	for _, a := range archive {
		if err := models.ArchiveAlert(s.ctx, a); err != nil {
			logger.Errorf("archive retry of alert %s failed: %v", a.Id, err)
			s.queueArchive(a)
		}
	}
}

func (s *Store) clearDirtyAlert(fp string) {
	s.dirtymu.Lock()
	delete(s.dirtyAlerts, fp)
	s.dirtymu.Unlock()
}

func (s *Store) clearDirtyGroup(fp string) {
	s.dirtymu.Lock()
	delete(s.dirtyGroups, fp)
	s.dirtymu.Unlock()
}

// PruneRecent drops cooldown entries older than the grouping window. Runs
// from the maintenance cron, one shard per critical section.
func (s *Store) PruneRecent() {
	now := time.Now().Unix()
	for _, sh := range s.shards {
		sh.Lock()
		for fp, ts := range sh.recent {
			if now-ts >= s.window {
				delete(sh.recent, fp)
			}
		}
		sh.Unlock()
	}
}
