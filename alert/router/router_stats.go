package router

import (
	"net/http"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/gin-gonic/gin"
	"github.com/toolkits/pkg/ginx"
)

type statisticsResp struct {
	LiveTotal         int            `json:"live_total"`
	BySeverity        map[string]int `json:"by_severity"`
	ByState           map[string]int `json:"by_state"`
	TriggeredTotal    uint64         `json:"triggered_total"`
	DeduplicatedTotal uint64         `json:"deduplicated_total"`
	GroupedTotal      uint64         `json:"grouped_total"`
	EscalationsFired  int64          `json:"escalations_fired"`
	NotifyTotal       int64          `json:"notify_total"`
	NotifyFailed      int64          `json:"notify_failed"`
	NotifyFailureRate float64        `json:"notify_failure_rate"`
	MttaSeconds       float64        `json:"mtta_seconds"`
	MttrSeconds       float64        `json:"mttr_seconds"`
	WindowHours       int            `json:"window_hours"`
}

func (rt *Router) statisticsGet(c *gin.Context) {
	hours := ginx.QueryInt(c, "hours", 24)

	resp := statisticsResp{
		BySeverity:  make(map[string]int),
		ByState:     make(map[string]int),
		WindowHours: hours,
	}

	live := rt.Store.ListActiveAlerts()
	resp.LiveTotal = len(live)
	for _, a := range live {
		resp.BySeverity[a.Severity]++
		resp.ByState[a.State]++
	}

	resp.TriggeredTotal, resp.DeduplicatedTotal, resp.GroupedTotal = rt.Store.Counters()

	fired, err := models.EscalationTotal(rt.Ctx, models.EscalationFired)
	if err != nil {
		rt.render(c, nil, errx.NewPersistence("escalation totals", err))
		return
	}
	resp.EscalationsFired = fired

	total, err := models.NotifyRecordTotal(rt.Ctx, "")
	if err != nil {
		rt.render(c, nil, errx.NewPersistence("notify totals", err))
		return
	}
	failed, err := models.NotifyRecordTotal(rt.Ctx, models.NotifyStatusFailed)
	if err != nil {
		rt.render(c, nil, errx.NewPersistence("notify totals", err))
		return
	}
	resp.NotifyTotal = total
	resp.NotifyFailed = failed
	if total > 0 {
		resp.NotifyFailureRate = float64(failed) / float64(total)
	}

	mtta, mttr, err := models.ResolveAggregates(rt.Ctx, hours)
	if err != nil {
		rt.render(c, nil, errx.NewPersistence("resolve aggregates", err))
		return
	}
	resp.MttaSeconds = mtta
	resp.MttrSeconds = mttr

	rt.render(c, resp, nil)
}

type sampleForm struct {
	Source string  `json:"source"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Ts     int64   `json:"ts"`
}

func (rt *Router) samplePush(c *gin.Context) {
	var f sampleForm
	ginx.BindJSON(c, &f)
	if f.Source == "" {
		rt.render(c, nil, errx.NewValidation("source", "must not be empty"))
		return
	}
	if f.Metric == "" {
		rt.render(c, nil, errx.NewValidation("metric", "must not be empty"))
		return
	}
	if f.Ts == 0 {
		f.Ts = time.Now().Unix()
	}

	rt.Engine.Record(f.Source, f.Metric, f.Value, f.Ts)
	rt.Stats.CounterSamplesTotal.WithLabelValues(f.Source).Inc()
	c.Status(http.StatusNoContent)
}

func (rt *Router) inboxGets(c *gin.Context) {
	inbox, has := rt.Dispatch.Inbox()
	if !has {
		ginx.NewRender(c, http.StatusNotFound).Message("in-app channel is not enabled")
		return
	}

	limit := ginx.QueryInt(c, "limit", 50)
	items, err := inbox.Feed(c.Request.Context(), int64(limit))
	rt.render(c, items, err)
}
