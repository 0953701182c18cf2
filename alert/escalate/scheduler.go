// Package escalate runs the time-based half of the alert lifecycle: it arms
// a timer whenever an active alert may need to be escalated or a suppressed
// alert is due to wake up, and fires those timers from a single poll loop.
// Escalation steps are persisted before they are scheduled, so a restart
// picks up where the previous process stopped.
package escalate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toolkits/pkg/logger"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/dispatch"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
)

const heapMaxSize = 100000

// Scheduler owns the timer heap. The store calls ArmEscalation, ArmUnsuppress
// and Disarm on lifecycle transitions; the poll loop pops due entries and
// drives the store back through Escalate and ExpireSuppression.
//
// Cancellation is generation-based: Disarm only bumps a counter, and every
// queued entry carries the counter value from when it was armed. An entry
// whose generation no longer matches is dropped at fire time. This keeps
// Disarm O(1) and, more importantly, makes timers armed before a suppression
// harmless after it, even though they are still sitting in the heap.
type Scheduler struct {
	ctx    *ctx.Context
	store  *store.Store
	queue  *queue.Queue
	policy *dispatch.ChannelPolicy
	stats  *astats.Stats

	poll time.Duration
	heap *TimerHeap

	mu  sync.Mutex
	gen map[string]uint64

	quit chan struct{}
}

func New(c *ctx.Context, escalation aconf.EscalationConfig, st *store.Store, q *queue.Queue, policy *dispatch.ChannelPolicy, stats *astats.Stats) *Scheduler {
	return &Scheduler{
		ctx:    c,
		store:  st,
		queue:  q,
		policy: policy,
		stats:  stats,
		poll:   time.Duration(escalation.PollInterval) * time.Second,
		heap:   NewTimerHeap(heapMaxSize),
		gen:    make(map[string]uint64),
		quit:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.quit)
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.Tick(time.Now().Unix())
		}
	}
}

func (s *Scheduler) generation(alertId string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[alertId]
}

// Disarm invalidates every queued timer of the alert.
func (s *Scheduler) Disarm(alertId string) {
	s.mu.Lock()
	s.gen[alertId]++
	s.mu.Unlock()
}

// ArmEscalation schedules the next escalation step for an active alert. The
// step is written to the escalation table first; the row id rides along on
// the timer so the fire path can close exactly that row.
func (s *Scheduler) ArmEscalation(a *models.Alert) {
	if a == nil {
		return
	}
	policy := s.policy.Policy(a.Severity)
	if a.EscalationLevel >= policy.MaxLevel {
		return
	}
	next := a.EscalationLevel + 1

	exists, err := models.EscalationPendingExists(s.ctx, a.Id)
	if err != nil {
		logger.Errorf("failed to check pending escalation of alert %s: %v", a.Id, err)
	} else if exists {
		return
	}

	now := time.Now().Unix()
	dueAt := now + policy.Delay
	channels := s.policy.ChannelsFor(a.Severity, next)

	entry := &TimerEntry{
		AlertId:  a.Id,
		Kind:     kindEscalation,
		DueAt:    dueAt,
		Level:    next,
		Channels: channels,
		gen:      s.generation(a.Id),
	}

	row := &models.Escalation{
		Id:          uuid.NewString(),
		AlertId:     a.Id,
		Level:       next,
		ScheduledAt: dueAt,
		Status:      models.EscalationPending,
		Channels:    channels,
		Reason:      fmt.Sprintf("no acknowledgement within %ds at level %d", policy.Delay, a.EscalationLevel),
		CreateAt:    now,
	}
	if err := row.Add(s.ctx); err != nil {
		logger.Errorf("failed to persist escalation step of alert %s: %v", a.Id, err)
	} else {
		entry.RowId = row.Id
	}

	if !s.heap.Push(entry) {
		logger.Errorf("timer heap full, escalation of alert %s level %d deferred to rescan", a.Id, next)
		return
	}
	s.stats.GaugeEscalationsDue.Set(float64(s.heap.Len()))
}

// ArmUnsuppress schedules the wakeup at the end of a suppression window. The
// suppressing transition bumps the generation before calling this, so the
// entry survives while any older escalation timers die.
func (s *Scheduler) ArmUnsuppress(alertId string, until int64) {
	entry := &TimerEntry{
		AlertId: alertId,
		Kind:    kindUnsuppress,
		DueAt:   until,
		gen:     s.generation(alertId),
	}
	if !s.heap.Push(entry) {
		logger.Errorf("timer heap full, wakeup of alert %s deferred to rescan", alertId)
		return
	}
	s.stats.GaugeEscalationsDue.Set(float64(s.heap.Len()))
}

// Tick fires every timer due at now. The poll loop calls this once per
// interval; tests call it directly with a synthetic clock.
func (s *Scheduler) Tick(now int64) {
	for _, entry := range s.heap.PopDue(now) {
		if s.generation(entry.AlertId) != entry.gen {
			continue
		}
		switch entry.Kind {
		case kindUnsuppress:
			s.fireUnsuppress(entry, now)
		case kindEscalation:
			s.fireEscalation(entry, now)
		}
	}
	s.stats.GaugeEscalationsDue.Set(float64(s.heap.Len()))
}

func (s *Scheduler) fireUnsuppress(entry *TimerEntry, now int64) {
	_, rearmAt, ok := s.store.ExpireSuppression(entry.AlertId, now)
	if ok {
		// the store reactivated the alert and re-armed escalation itself
		return
	}
	if rearmAt > now {
		entry.DueAt = rearmAt
		s.heap.Push(entry)
	}
}

// fireEscalation applies the level bump, then emits the notification, then
// closes the persisted row. Each stage is idempotent, so a crash between any
// two of them is repaired by reconcile or the boot rescan instead of firing
// the same level twice.
func (s *Scheduler) fireEscalation(entry *TimerEntry, now int64) {
	if !entry.applied {
		snap, ok := s.store.Escalate(entry.AlertId, entry.Level)
		if !ok {
			s.reconcile(entry, now)
			return
		}
		entry.alert = snap
		entry.applied = true
	}

	job := &queue.NotifyJob{
		Alert:    entry.alert,
		Kind:     queue.KindEscalation,
		Level:    entry.Level,
		Channels: entry.Channels,
	}
	if !s.queue.PushNotify(job) {
		// level bump is already durable, keep the row pending and retry
		// the push after the next poll
		logger.Warningf("notify queue full, escalation of alert %s level %d retries next tick", entry.AlertId, entry.Level)
		entry.DueAt = now + int64(s.poll/time.Second) + 1
		s.heap.Push(entry)
		return
	}

	s.closeRow(entry, now)
	s.ArmEscalation(entry.alert)
}

// reconcile handles a timer whose level bump was refused: the alert either
// moved out of the active state, or the level was already applied by a
// previous run that died before closing the row.
func (s *Scheduler) reconcile(entry *TimerEntry, now int64) {
	cur, err := s.store.GetAlert(entry.AlertId)
	if err != nil || cur.State != models.StateActive {
		if err := models.CancelPendingByAlert(s.ctx, entry.AlertId); err != nil {
			logger.Errorf("failed to cancel pending escalations of alert %s: %v", entry.AlertId, err)
		}
		return
	}
	if cur.EscalationLevel >= entry.Level {
		logger.Warningf("escalation level %d of alert %s already applied, closing without renotifying", entry.Level, entry.AlertId)
		s.closeRow(entry, now)
		s.ArmEscalation(cur)
	}
}

func (s *Scheduler) closeRow(entry *TimerEntry, firedAt int64) {
	if entry.RowId == "" {
		return
	}
	row := &models.Escalation{Id: entry.RowId}
	fired, err := row.MarkFired(s.ctx, firedAt)
	if err != nil {
		logger.Errorf("failed to mark escalation %s fired: %v", entry.RowId, err)
	} else if !fired {
		logger.Debugf("escalation %s already closed", entry.RowId)
	}
}

// Rescan reconciles the heap with the store and the escalation table: armed
// rows missing a timer get one back, live alerts missing both get a fresh
// arm, and suppressed alerts keep their wakeup. Called once on boot after
// the store reload, then periodically to repair drops from a full heap or a
// full notify queue.
func (s *Scheduler) Rescan() {
	rows, err := models.EscalationsPendingGets(s.ctx)
	if err != nil {
		logger.Errorf("failed to load pending escalations: %v", err)
		return
	}
	pending := make(map[string]*models.Escalation, len(rows))
	for _, row := range rows {
		pending[row.AlertId] = row
	}

	active := s.store.Active()
	for _, a := range active {
		if s.heap.Has(a.Id, kindEscalation) {
			continue
		}
		if row, has := pending[a.Id]; has {
			s.restore(row, a)
			continue
		}
		s.ArmEscalation(a)
	}

	suppressed := s.store.Suppressed()
	for _, a := range suppressed {
		if !s.heap.Has(a.Id, kindUnsuppress) {
			s.ArmUnsuppress(a.Id, a.SuppressUntil)
		}
	}

	// rows whose alert is no longer active are dead schedules; GetAlert
	// resolves archived alerts too, so the state is the real gate
	for alertId := range pending {
		cur, err := s.store.GetAlert(alertId)
		if err == nil && cur.State == models.StateActive {
			continue
		}
		if err := models.CancelPendingByAlert(s.ctx, alertId); err != nil {
			logger.Errorf("failed to cancel pending escalations of alert %s: %v", alertId, err)
		}
	}

	s.pruneGenerations(active, suppressed)
	s.stats.GaugeEscalationsDue.Set(float64(s.heap.Len()))
}

// restore rebuilds a timer from a pending row after a restart.
func (s *Scheduler) restore(row *models.Escalation, a *models.Alert) {
	if a.EscalationLevel >= row.Level {
		// bump landed before the previous shutdown but the row stayed
		// pending; close it and move to the next step
		logger.Warningf("escalation level %d of alert %s already applied, closing without renotifying", row.Level, a.Id)
		entry := &TimerEntry{AlertId: a.Id, RowId: row.Id}
		s.closeRow(entry, time.Now().Unix())
		s.ArmEscalation(a)
		return
	}
	s.heap.Push(&TimerEntry{
		AlertId:  a.Id,
		Kind:     kindEscalation,
		DueAt:    row.ScheduledAt,
		Level:    row.Level,
		RowId:    row.Id,
		Channels: row.Channels,
		gen:      s.generation(a.Id),
	})
}

// pruneGenerations drops generation counters of alerts that left the live
// set. A pruned id reads as generation zero again, which at worst lets a
// stale timer fire into Escalate, fail the state gate, and be dropped.
func (s *Scheduler) pruneGenerations(active, suppressed []*models.Alert) {
	live := make(map[string]struct{}, len(active)+len(suppressed))
	for _, a := range active {
		live[a.Id] = struct{}{}
	}
	for _, a := range suppressed {
		live[a.Id] = struct{}{}
	}

	s.mu.Lock()
	for id := range s.gen {
		if _, ok := live[id]; !ok {
			delete(s.gen, id)
		}
	}
	s.mu.Unlock()
}
