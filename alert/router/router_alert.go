package router

import (
	"time"

	"github.com/klaxonhq/klaxon/alert/process"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/gin-gonic/gin"
	"github.com/toolkits/pkg/ginx"
)

func (rt *Router) alertTrigger(c *gin.Context) {
	var t process.Trigger
	ginx.BindJSON(c, &t)

	res, err := rt.Store.Submit(&t)
	rt.render(c, res, err)
}

type actionForm struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

func (f actionForm) Verify() error {
	if f.By == "" {
		return errx.NewValidation("by", "must not be empty")
	}
	return nil
}

func (rt *Router) alertAcknowledge(c *gin.Context) {
	var f actionForm
	ginx.BindJSON(c, &f)
	if err := f.Verify(); err != nil {
		rt.render(c, nil, err)
		return
	}

	a, err := rt.Store.Acknowledge(ginx.UrlParamStr(c, "id"), f.By, f.Notes)
	rt.render(c, a, err)
}

func (rt *Router) alertResolve(c *gin.Context) {
	var f actionForm
	ginx.BindJSON(c, &f)
	if err := f.Verify(); err != nil {
		rt.render(c, nil, err)
		return
	}

	a, err := rt.Store.Resolve(ginx.UrlParamStr(c, "id"), f.By, f.Notes)
	rt.render(c, a, err)
}

type suppressForm struct {
	By        string `json:"by"`
	DurationS int64  `json:"duration_s"`
	Reason    string `json:"reason"`
}

func (rt *Router) alertSuppress(c *gin.Context) {
	var f suppressForm
	ginx.BindJSON(c, &f)
	if f.By == "" {
		rt.render(c, nil, errx.NewValidation("by", "must not be empty"))
		return
	}
	if f.DurationS <= 0 {
		rt.render(c, nil, errx.NewValidation("duration_s", "must be positive"))
		return
	}

	a, err := rt.Store.Suppress(ginx.UrlParamStr(c, "id"), f.By, time.Duration(f.DurationS)*time.Second, f.Reason)
	rt.render(c, a, err)
}

func (rt *Router) alertUnsuppress(c *gin.Context) {
	var f actionForm
	ginx.BindJSON(c, &f)
	if err := f.Verify(); err != nil {
		rt.render(c, nil, err)
		return
	}

	a, err := rt.Store.Unsuppress(ginx.UrlParamStr(c, "id"), f.By)
	rt.render(c, a, err)
}

func (rt *Router) alertsActive(c *gin.Context) {
	rt.render(c, rt.Store.ListActiveAlerts(), nil)
}

func (rt *Router) alertGet(c *gin.Context) {
	a, err := rt.Store.GetAlert(ginx.UrlParamStr(c, "id"))
	rt.render(c, a, err)
}

func (rt *Router) alertGroupGet(c *gin.Context) {
	g, err := rt.Store.GetAlertGroup(ginx.UrlParamStr(c, "fingerprint"))
	rt.render(c, g, err)
}

func (rt *Router) alertHistoryGets(c *gin.Context) {
	hours := ginx.QueryInt(c, "hours", 24)
	limit := ginx.QueryInt(c, "limit", 100)

	lst, err := rt.Store.GetAlertHistory(hours, limit)
	rt.render(c, lst, err)
}
