// Package router mounts the HTTP surface of the alert engine: trigger
// ingestion, lifecycle actions, queries, aggregate statistics, the sample
// push endpoint for external producers and the in-app inbox feed.
package router

import (
	"errors"
	"net/http"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/dispatch"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/gin-gonic/gin"
	"github.com/toolkits/pkg/ginx"
)

type Router struct {
	Ctx      *ctx.Context
	Store    *store.Store
	Engine   *stats.Engine
	Dispatch *dispatch.Dispatch
	Stats    *astats.Stats
}

func New(c *ctx.Context, st *store.Store, engine *stats.Engine, dp *dispatch.Dispatch, stats *astats.Stats) *Router {
	return &Router{
		Ctx:      c,
		Store:    st,
		Engine:   engine,
		Dispatch: dp,
		Stats:    stats,
	}
}

func (rt *Router) Config(r *gin.Engine) {
	v1 := r.Group("/v1")
	{
		v1.POST("/alerts/trigger", rt.alertTrigger)
		v1.GET("/alerts/active", rt.alertsActive)
		v1.GET("/alerts/history", rt.alertHistoryGets)
		v1.GET("/alerts/:id", rt.alertGet)
		v1.PUT("/alerts/:id/acknowledge", rt.alertAcknowledge)
		v1.PUT("/alerts/:id/resolve", rt.alertResolve)
		v1.PUT("/alerts/:id/suppress", rt.alertSuppress)
		v1.PUT("/alerts/:id/unsuppress", rt.alertUnsuppress)
		v1.GET("/alert-groups/:fingerprint", rt.alertGroupGet)
		v1.GET("/statistics", rt.statisticsGet)
		v1.POST("/samples", rt.samplePush)
		v1.GET("/inbox", rt.inboxGets)
	}
}

// errStatus picks the response code for a typed engine error. ginx renders
// at 200 unless told otherwise, so the mapping has to happen here.
func errStatus(err error) int {
	var nferr *errx.NotFoundError
	var vderr *errx.ValidationError
	var iserr *errx.InvalidStateError
	switch {
	case errors.As(err, &nferr):
		return http.StatusNotFound
	case errors.As(err, &vderr):
		return http.StatusBadRequest
	case errors.As(err, &iserr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (rt *Router) render(c *gin.Context, data interface{}, err error) {
	if err != nil {
		ginx.NewRender(c, errStatus(err)).Message(err)
		return
	}
	ginx.NewRender(c).Data(data, nil)
}
