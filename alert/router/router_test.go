package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/dispatch"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/sender"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/httpx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStats = astats.NewStats()

type rig struct {
	ctx    *ctx.Context
	store  *store.Store
	engine *stats.Engine
	disp   *dispatch.Dispatch
	srv    *httptest.Server
}

func testRig(t *testing.T) *rig {
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

	alerting := aconf.Alerting{
		NotifyConcurrency: 4,
		Notify:            aconf.NotifyConfig{MaxRetries: 1, Timeout: 5, RateBurst: 100},
		Escalation:        aconf.EscalationConfig{Policies: aconf.DefaultPolicies()},
		Inbox:             aconf.InboxConfig{MaxSize: 100},
	}
	dp, err := dispatch.New(c, alerting, q, st, b, nil, testStats)
	require.NoError(t, err)

	r := httpx.GinEngine("release", httpx.Config{})
	New(c, st, engine, dp, testStats).Config(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &rig{ctx: c, store: st, engine: engine, disp: dp, srv: srv}
}

type apiResp struct {
	Dat json.RawMessage `json:"dat"`
	Err string          `json:"err"`
}

func (g *rig) do(t *testing.T, method, path string, body interface{}) (int, apiResp) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, g.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResp
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func triggerBody(rule, severity string) map[string]interface{} {
	return map[string]interface{}{
		"rule":      rule,
		"metric":    "cpu.usage",
		"value":     92.0,
		"threshold": 80.0,
		"severity":  severity,
		"source":    "host-1",
		"context":   map[string]interface{}{"region": "eu-west-1"},
	}
}

func (g *rig) trigger(t *testing.T, rule, severity string) *models.Alert {
	code, resp := g.do(t, http.MethodPost, "/v1/alerts/trigger", triggerBody(rule, severity))
	require.Equal(t, http.StatusOK, code, resp.Err)

	var res store.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Dat, &res))
	require.NotNil(t, res.Alert)
	return res.Alert
}

func TestTriggerCreatesAlert(t *testing.T) {
	g := testRig(t)

	code, resp := g.do(t, http.MethodPost, "/v1/alerts/trigger", triggerBody("high_cpu", "critical"))
	require.Equal(t, http.StatusOK, code)

	var res store.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Dat, &res))
	assert.Equal(t, store.ActionCreated, res.Action)
	require.NotNil(t, res.Alert)
	assert.NotEmpty(t, res.Alert.Id)
	assert.Equal(t, models.StateActive, res.Alert.State)

	// the same condition again lands in the group, not a second alert
	code, resp = g.do(t, http.MethodPost, "/v1/alerts/trigger", triggerBody("high_cpu", "critical"))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Dat, &res))
	assert.Equal(t, store.ActionGrouped, res.Action)
	require.NotNil(t, res.Group)
	assert.Equal(t, int64(2), res.Group.Count)
	assert.Equal(t, 1, g.store.LiveCount())
}

func TestTriggerRejectsBadPayload(t *testing.T) {
	g := testRig(t)

	body := triggerBody("high_cpu", "fatal")
	code, resp := g.do(t, http.MethodPost, "/v1/alerts/trigger", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Err, "severity")

	body = triggerBody("", "critical")
	code, resp = g.do(t, http.MethodPost, "/v1/alerts/trigger", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Err, "rule")
}

func TestLifecycleFlow(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "high_cpu", "critical")

	code, resp := g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/acknowledge",
		map[string]string{"by": "sre-1", "notes": "looking into it"})
	require.Equal(t, http.StatusOK, code)
	var acked models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &acked))
	assert.Equal(t, models.StateAcknowledged, acked.State)
	assert.Equal(t, "sre-1", acked.AckBy)

	code, _ = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/acknowledge",
		map[string]string{"by": "sre-2"})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/resolve",
		map[string]string{"by": "sre-1", "notes": "restarted the worker"})
	require.Equal(t, http.StatusOK, code)
	var resolved models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &resolved))
	assert.Equal(t, models.StateResolved, resolved.State)
	assert.GreaterOrEqual(t, resolved.ResolveDuration, int64(0))

	// resolved alerts stay readable through the archive
	code, resp = g.do(t, http.MethodGet, "/v1/alerts/"+a.Id, nil)
	require.Equal(t, http.StatusOK, code)
	var got models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &got))
	assert.Equal(t, models.StateResolved, got.State)

	code, _ = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/resolve",
		map[string]string{"by": "sre-1"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestLifecycleRequiresActor(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "high_cpu", "critical")

	code, resp := g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/acknowledge",
		map[string]string{"notes": "anonymous"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Err, "by")
}

func TestSuppressFlow(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "high_cpu", "warning")

	code, resp := g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/suppress",
		map[string]interface{}{"by": "sre-1", "duration_s": 120, "reason": "maintenance window"})
	require.Equal(t, http.StatusOK, code)
	var sup models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &sup))
	assert.Equal(t, models.StateSuppressed, sup.State)
	assert.Greater(t, sup.SuppressUntil, time.Now().Unix())

	code, _ = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/suppress",
		map[string]interface{}{"by": "sre-1", "duration_s": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/unsuppress",
		map[string]string{"by": "sre-2"})
	require.Equal(t, http.StatusOK, code)
	var back models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &back))
	assert.Equal(t, models.StateActive, back.State)

	code, _ = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/unsuppress",
		map[string]string{"by": "sre-2"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestActiveListAndGroups(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "rule-a", "critical")
	g.trigger(t, "rule-b", "warning")

	code, resp := g.do(t, http.MethodGet, "/v1/alerts/active", nil)
	require.Equal(t, http.StatusOK, code)
	var lst []*models.Alert
	require.NoError(t, json.Unmarshal(resp.Dat, &lst))
	assert.Len(t, lst, 2)

	g.trigger(t, "rule-a", "critical")

	code, resp = g.do(t, http.MethodGet, "/v1/alert-groups/"+a.Fingerprint, nil)
	require.Equal(t, http.StatusOK, code)
	var grp models.AlertGroup
	require.NoError(t, json.Unmarshal(resp.Dat, &grp))
	assert.Equal(t, int64(2), grp.Count)
	assert.Equal(t, a.Fingerprint, grp.Fingerprint)

	code, _ = g.do(t, http.MethodGet, "/v1/alert-groups/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAlertGetNotFound(t *testing.T) {
	g := testRig(t)

	code, resp := g.do(t, http.MethodGet, "/v1/alerts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, resp.Err, "not found")
}

func TestHistoryEndpoint(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "high_cpu", "critical")

	code, _ := g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/resolve",
		map[string]string{"by": "sre-1"})
	require.Equal(t, http.StatusOK, code)

	code, resp := g.do(t, http.MethodGet, "/v1/alerts/history?hours=24&limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	var rows []*models.AlertHistory
	require.NoError(t, json.Unmarshal(resp.Dat, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, a.Id, rows[0].Id)
	assert.Equal(t, models.StateResolved, rows[0].State)
}

func TestStatisticsEndpoint(t *testing.T) {
	g := testRig(t)
	a := g.trigger(t, "high_cpu", "critical")
	g.trigger(t, "slow_api", "warning")

	code, _ := g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/acknowledge",
		map[string]string{"by": "sre-1"})
	require.Equal(t, http.StatusOK, code)

	code, resp := g.do(t, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, code)

	var got statisticsResp
	require.NoError(t, json.Unmarshal(resp.Dat, &got))
	assert.Equal(t, 2, got.LiveTotal)
	assert.Equal(t, 1, got.BySeverity[models.SeverityCritical])
	assert.Equal(t, 1, got.BySeverity[models.SeverityWarning])
	assert.Equal(t, 1, got.ByState[models.StateActive])
	assert.Equal(t, 1, got.ByState[models.StateAcknowledged])
	assert.Equal(t, uint64(2), got.TriggeredTotal)
	assert.Equal(t, int64(0), got.EscalationsFired)
	assert.Equal(t, 24, got.WindowHours)

	code, _ = g.do(t, http.MethodPut, "/v1/alerts/"+a.Id+"/resolve",
		map[string]string{"by": "sre-1"})
	require.Equal(t, http.StatusOK, code)

	code, resp = g.do(t, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Dat, &got))
	assert.Equal(t, 1, got.LiveTotal)
	assert.GreaterOrEqual(t, got.MttrSeconds, float64(0))
}

func TestSamplesEndpoint(t *testing.T) {
	g := testRig(t)

	code, _ := g.do(t, http.MethodPost, "/v1/samples",
		map[string]interface{}{"source": "host-9", "metric": "mem.used", "value": 41.5})
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 1, g.engine.WindowLen("host-9", "mem.used"))

	code, resp := g.do(t, http.MethodPost, "/v1/samples",
		map[string]interface{}{"source": "host-9", "value": 41.5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Err, "metric")
}

func TestInboxEndpoint(t *testing.T) {
	g := testRig(t)

	inbox, ok := g.disp.Inbox()
	require.True(t, ok)

	a := &models.Alert{
		Id:       uuid.NewString(),
		Rule:     "high_cpu",
		Metric:   "cpu.usage",
		Source:   "host-1",
		Severity: models.SeverityCritical,
		State:    models.StateActive,
	}
	require.NoError(t, inbox.Send(context.Background(), sender.BuildMessage(a, queue.KindCreated, 0, nil)))

	code, resp := g.do(t, http.MethodGet, "/v1/inbox?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	var items []sender.InboxItem
	require.NoError(t, json.Unmarshal(resp.Dat, &items))
	require.Len(t, items, 1)
	assert.Equal(t, a.Id, items[0].AlertId)
	assert.Equal(t, queue.KindCreated, items[0].Kind)
}
