package store

import (
	"math"
	"time"

	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/toolkits/pkg/logger"
)

// Acknowledge moves an active alert to acknowledged and cancels its pending
// escalation. Legal only from active.
func (s *Store) Acknowledge(id, by, notes string) (*models.Alert, error) {
	fp, has := s.fpOf(id)
	if !has {
		return nil, s.missing(id, "acknowledge")
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id {
		sh.Unlock()
		return nil, s.missing(id, "acknowledge")
	}
	if !a.IsActive() {
		state := a.State
		sh.Unlock()
		return nil, errx.NewInvalidState(id, state, "acknowledge")
	}

	now := time.Now().Unix()
	a.State = models.StateAcknowledged
	a.AckBy = by
	a.AckAt = now
	a.AckNotes = notes
	s.persistAlertLocked(a, fp)
	s.syncGroupLocked(sh, fp, a.State)
	snap := s.snapshot(a)
	sh.Unlock()

	s.disarm(id)
	s.stats.CounterAlertsTotal.WithLabelValues("acknowledged").Inc()
	s.bus.Publish(bus.EventAlertAcknowledged, snap, map[string]interface{}{"by": by})
	logger.Infof("audit: alert %s acknowledged by=%s notes=%q", id, by, notes)
	return snap, nil
}

// Resolve closes an alert, records the resolution duration and archives the
// row. Legal from active or acknowledged. The fingerprint enters the dedup
// cooldown so an immediate repeat does not reopen it.
func (s *Store) Resolve(id, by, notes string) (*models.Alert, error) {
	fp, has := s.fpOf(id)
	if !has {
		return nil, s.missing(id, "resolve")
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id {
		sh.Unlock()
		return nil, s.missing(id, "resolve")
	}
	if !a.IsActive() && !a.IsAcknowledged() {
		state := a.State
		sh.Unlock()
		return nil, errx.NewInvalidState(id, state, "resolve")
	}

	now := time.Now().Unix()
	a.State = models.StateResolved
	a.ResolveBy = by
	a.ResolveAt = now
	a.ResolveNotes = notes
	a.ResolveDuration = now - a.CreateAt

	delete(sh.alerts, fp)
	delete(sh.renotify, fp)
	sh.recent[fp] = now
	g := sh.groups[fp]
	delete(sh.groups, fp)
	snap := s.snapshot(a)
	sh.Unlock()

	s.idmu.Lock()
	delete(s.byId, id)
	s.idmu.Unlock()

	// archive before any event leaves the store
	if err := models.ArchiveAlert(s.ctx, a); err != nil {
		logger.Errorf("failed to archive alert %s: %v", id, err)
		s.queueArchive(a)
	}
	if g != nil {
		if err := models.AlertGroupDel(s.ctx, g.Id); err != nil {
			logger.Errorf("failed to delete group %s: %v", g.Id, err)
		}
	}

	s.disarm(id)
	s.stats.CounterAlertsTotal.WithLabelValues("resolved").Inc()
	s.stats.GaugeActiveAlerts.Dec()
	s.bus.Publish(bus.EventAlertResolved, snap, map[string]interface{}{"by": by, "duration": snap.ResolveDuration})
	logger.Infof("audit: alert %s resolved by=%s notes=%q duration=%ds", id, by, notes, snap.ResolveDuration)
	return snap, nil
}

// Suppress mutes an active alert until now+duration. Sub-second durations
// round up to one second; timestamps are unix seconds throughout.
func (s *Store) Suppress(id, by string, duration time.Duration, reason string) (*models.Alert, error) {
	if duration <= 0 {
		return nil, errx.NewValidation("duration", "must be positive")
	}
	seconds := int64(math.Ceil(duration.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	fp, has := s.fpOf(id)
	if !has {
		return nil, s.missing(id, "suppress")
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id {
		sh.Unlock()
		return nil, s.missing(id, "suppress")
	}
	if !a.IsActive() {
		state := a.State
		sh.Unlock()
		return nil, errx.NewInvalidState(id, state, "suppress")
	}

	until := time.Now().Unix() + seconds
	a.State = models.StateSuppressed
	a.SuppressBy = by
	a.SuppressUntil = until
	a.SuppressReason = reason
	s.persistAlertLocked(a, fp)
	s.syncGroupLocked(sh, fp, a.State)
	snap := s.snapshot(a)
	sh.Unlock()

	s.disarm(id)
	if sched := s.scheduler(); sched != nil {
		sched.ArmUnsuppress(id, until)
	}
	s.stats.CounterAlertsTotal.WithLabelValues("suppressed").Inc()
	s.bus.Publish(bus.EventAlertSuppressed, snap, map[string]interface{}{"by": by, "until": until, "reason": reason})
	logger.Infof("audit: alert %s suppressed by=%s until=%d reason=%q", id, by, until, reason)
	return snap, nil
}

// Unsuppress returns a suppressed alert to active ahead of its expiry.
// Escalation re-arms from level 1 and the next trigger notifies again.
func (s *Store) Unsuppress(id, by string) (*models.Alert, error) {
	fp, has := s.fpOf(id)
	if !has {
		return nil, s.missing(id, "unsuppress")
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id {
		sh.Unlock()
		return nil, s.missing(id, "unsuppress")
	}
	if !a.IsSuppressed() {
		state := a.State
		sh.Unlock()
		return nil, errx.NewInvalidState(id, state, "unsuppress")
	}
	snap := s.releaseSuppressionLocked(sh, a, fp)
	sh.Unlock()

	s.afterUnsuppress(snap, by)
	return snap, nil
}

// ExpireSuppression is the timer path. ok=false with rearmAt>0 means the
// suppression was extended after the timer armed; the caller re-arms.
func (s *Store) ExpireSuppression(id string, now int64) (snap *models.Alert, rearmAt int64, ok bool) {
	fp, has := s.fpOf(id)
	if !has {
		return nil, 0, false
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id || !a.IsSuppressed() {
		sh.Unlock()
		return nil, 0, false
	}
	if a.SuppressUntil > now {
		until := a.SuppressUntil
		sh.Unlock()
		return nil, until, false
	}
	snap = s.releaseSuppressionLocked(sh, a, fp)
	sh.Unlock()

	s.afterUnsuppress(snap, "scheduler")
	return snap, 0, true
}

func (s *Store) releaseSuppressionLocked(sh *shard, a *models.Alert, fp string) *models.Alert {
	a.State = models.StateActive
	a.SuppressBy = ""
	a.SuppressUntil = 0
	a.SuppressReason = ""
	// escalation restarts from scratch for the revived alert
	a.EscalationLevel = 0
	s.persistAlertLocked(a, fp)
	s.syncGroupLocked(sh, fp, a.State)
	sh.renotify[fp] = struct{}{}
	return s.snapshot(a)
}

func (s *Store) afterUnsuppress(snap *models.Alert, by string) {
	if sched := s.scheduler(); sched != nil {
		sched.ArmEscalation(snap)
	}
	s.stats.CounterAlertsTotal.WithLabelValues("unsuppressed").Inc()
	s.bus.Publish(bus.EventAlertUnsuppressed, snap, map[string]interface{}{"by": by})
	logger.Infof("audit: alert %s unsuppressed by=%s", snap.Id, by)
}

// Escalate bumps the level if and only if the alert is still active and the
// level is the expected next one. The check and the bump share the shard
// lock, so a racing resolve either wins entirely or loses entirely.
func (s *Store) Escalate(id string, level int) (*models.Alert, bool) {
	fp, has := s.fpOf(id)
	if !has {
		return nil, false
	}
	sh := s.shard(fp)

	sh.Lock()
	a := sh.alerts[fp]
	if a == nil || a.Id != id || !a.IsActive() {
		sh.Unlock()
		return nil, false
	}
	if a.EscalationLevel != level-1 {
		sh.Unlock()
		return nil, false
	}
	a.EscalationLevel = level
	s.persistAlertLocked(a, fp)
	snap := s.snapshot(a)
	sh.Unlock()

	s.stats.CounterEscalateTotal.WithLabelValues(snap.Severity).Inc()
	s.bus.Publish(bus.EventAlertEscalated, snap, map[string]interface{}{"level": level})
	logger.Infof("audit: alert %s escalated to level %d", id, level)
	return snap, true
}

// missing distinguishes "never existed" from "already resolved and
// archived"; operating on an archived alert is an illegal transition, not a
// lookup failure.
func (s *Store) missing(id, op string) error {
	his, err := models.AlertHistoryGetById(s.ctx, id)
	if err != nil {
		return errx.NewPersistence("alert lookup", err)
	}
	if his != nil {
		return errx.NewInvalidState(id, models.StateResolved, op)
	}
	return errx.NewNotFound("alert", id)
}

func (s *Store) disarm(id string) {
	if sched := s.scheduler(); sched != nil {
		sched.Disarm(id)
	}
	if err := models.CancelPendingByAlert(s.ctx, id); err != nil {
		logger.Errorf("failed to cancel pending escalations of alert %s: %v", id, err)
	}
}
