// Package dispatch drains the notify queue and fans every job out to its
// channels. Retries happen here, per channel, so one broken channel never
// holds up its siblings or the queue.
package dispatch

import (
	"context"
	"html/template"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/sender"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/storage"

	"github.com/google/uuid"
	"github.com/toolkits/pkg/concurrent/semaphore"
	"github.com/toolkits/pkg/logger"
	"golang.org/x/time/rate"
)

type Dispatch struct {
	alerting aconf.Alerting
	ctx      *ctx.Context
	queue    *queue.Queue
	store    *store.Store
	bus      *bus.Bus
	stats    *astats.Stats

	policy   *ChannelPolicy
	senders  map[string]sender.Sender
	tpls     map[string]*template.Template
	limiters map[string]*rate.Limiter

	quit chan struct{}
}

func New(c *ctx.Context, alerting aconf.Alerting, q *queue.Queue, st *store.Store, b *bus.Bus, redis storage.Redis, stats *astats.Stats) (*Dispatch, error) {
	tpls, err := sender.LoadTemplates(alerting.TemplatesDir)
	if err != nil {
		return nil, err
	}

	senders := sender.NewSenders(alerting, tpls, redis)

	enabled := make(map[string]bool, len(senders))
	limiters := make(map[string]*rate.Limiter, len(senders))
	limit := rate.Limit(alerting.Notify.RateLimit)
	if alerting.Notify.RateLimit <= 0 {
		limit = rate.Inf
	}
	for key := range senders {
		enabled[key] = true
		limiters[key] = rate.NewLimiter(limit, alerting.Notify.RateBurst)
	}

	return &Dispatch{
		alerting: alerting,
		ctx:      c,
		queue:    q,
		store:    st,
		bus:      b,
		stats:    stats,
		policy:   NewChannelPolicy(alerting.Escalation, enabled),
		senders:  senders,
		tpls:     tpls,
		limiters: limiters,
		quit:     make(chan struct{}),
	}, nil
}

func (e *Dispatch) Policy() *ChannelPolicy { return e.policy }

// Inbox exposes the in-app feed for the read API.
func (e *Dispatch) Inbox() (*sender.InappSender, bool) {
	is, ok := e.senders[models.InApp].(*sender.InappSender)
	return is, ok
}

func (e *Dispatch) LoopConsume() {
	sema := semaphore.NewSemaphore(e.alerting.NotifyConcurrency)
	duration := time.Duration(100) * time.Millisecond
	for {
		select {
		case <-e.quit:
			return
		default:
		}

		jobs := e.queue.PopBackBy(100)
		if len(jobs) == 0 {
			time.Sleep(duration)
			continue
		}
		e.consume(jobs, sema)
	}
}

func (e *Dispatch) Stop() {
	close(e.quit)
	for _, s := range e.senders {
		if es, ok := s.(*sender.EmailSender); ok {
			es.Close()
		}
	}
}

func (e *Dispatch) consume(jobs []interface{}, sema *semaphore.Semaphore) {
	for i := range jobs {
		if jobs[i] == nil {
			continue
		}

		job := jobs[i].(*queue.NotifyJob)
		sema.Acquire()
		go func(job *queue.NotifyJob) {
			defer sema.Release()
			e.consumeOne(job)
		}(job)
	}
}

func (e *Dispatch) consumeOne(job *queue.NotifyJob) {
	if e.stale(job) {
		logger.Infof("notify skipped, alert %s no longer needs %s", job.Alert.Id, job.Kind)
		return
	}

	channels := job.Channels
	if len(channels) == 0 {
		channels = e.policy.ChannelsFor(job.Alert.Severity, job.Level)
	}
	if len(channels) == 0 {
		logger.Warningf("notify skipped, no channels for severity=%s level=%d", job.Alert.Severity, job.Level)
		return
	}

	m := sender.BuildMessage(job.Alert, job.Kind, job.Level, e.tpls)

	done := make(chan struct{}, len(channels))
	for _, channel := range channels {
		s, has := e.senders[channel]
		if !has {
			logger.Warningf("notify channel=%s has no sender, skipped", channel)
			done <- struct{}{}
			continue
		}
		go func(channel string, s sender.Sender) {
			e.sendWithRetry(channel, s, m)
			done <- struct{}{}
		}(channel, s)
	}
	for range channels {
		<-done
	}
}

// stale drops jobs whose alert moved on while queued. Best effort: when the
// live state cannot be read the snapshot wins.
func (e *Dispatch) stale(job *queue.NotifyJob) bool {
	if e.store == nil {
		return false
	}
	cur, err := e.store.GetAlert(job.Alert.Id)
	if err != nil {
		return false
	}
	return cur.State == models.StateResolved || cur.State == models.StateSuppressed
}

func (e *Dispatch) sendWithRetry(channel string, s sender.Sender, m *sender.Message) {
	conf := e.alerting.Notify

	var lastErr error
	for attempt := 1; attempt <= conf.MaxRetries; attempt++ {
		sendCtx, cancel := context.WithTimeout(context.Background(), time.Duration(conf.Timeout)*time.Second)

		if lim := e.limiters[channel]; lim != nil {
			if err := lim.Wait(sendCtx); err != nil {
				cancel()
				lastErr = err
				e.record(m, channel, attempt, err)
				continue
			}
		}

		err := s.Send(sendCtx, m)
		cancel()
		e.record(m, channel, attempt, err)

		if err == nil {
			e.stats.CounterNotifyTotal.WithLabelValues(channel, "success").Inc()
			e.bus.Publish(bus.EventNotifySent, m.Alert, map[string]interface{}{
				"channel": channel,
				"kind":    m.Kind,
				"attempt": attempt,
			})
			return
		}

		lastErr = err
		logger.Warningf("notify channel=%s alert=%s attempt=%d/%d failed: %v",
			channel, m.Alert.Id, attempt, conf.MaxRetries, err)
		if attempt < conf.MaxRetries {
			time.Sleep(time.Duration(conf.RetryDelay) * time.Second * time.Duration(attempt))
		}
	}

	e.stats.CounterNotifyTotal.WithLabelValues(channel, "failed").Inc()
	e.bus.Publish(bus.EventNotifyFailed, m.Alert, map[string]interface{}{
		"channel": channel,
		"kind":    m.Kind,
		"error":   lastErr.Error(),
	})
	logger.Errorf("notify channel=%s alert=%s gave up after %d attempts: %v",
		channel, m.Alert.Id, conf.MaxRetries, lastErr)
}

// record appends one delivery attempt to the notify audit trail.
func (e *Dispatch) record(m *sender.Message, channel string, attempt int, sendErr error) {
	now := time.Now().Unix()
	rec := &models.NotifyRecord{
		Id:       uuid.NewString(),
		AlertId:  m.Alert.Id,
		Channel:  channel,
		Status:   models.NotifyStatusSent,
		Attempt:  attempt,
		CreateAt: now,
	}
	if sendErr != nil {
		rec.SetStatus(models.NotifyStatusFailed)
		rec.SetError(sendErr)
	} else {
		rec.SentAt = now
	}

	if err := sender.PushNotifyRecords(rec); err != nil {
		logger.Errorf("failed to queue notify record for alert %s: %v", m.Alert.Id, err)
	}
}
