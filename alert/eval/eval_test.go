package eval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStats = astats.NewStats()

func testCtx(t *testing.T) *ctx.Context {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "klaxon.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	c := ctx.NewContext(context.Background(), db)
	require.NoError(t, models.Migrate(c))
	return c
}

func cpuRule() aconf.WatchRule {
	return aconf.WatchRule{
		Name:          "cpu_anomaly",
		Source:        "host-1",
		Metric:        "cpu.usage",
		Severity:      "critical",
		ZThreshold:    3,
		MinDataPoints: 5,
		Interval:      60,
	}
}

func testWorker(t *testing.T, rule aconf.WatchRule) (*RuleWorker, *stats.Engine, *store.Store, *queue.Queue) {
	c := testCtx(t)
	q := queue.New(1024, testStats)
	b := bus.New(bus.Config{QueueSize: 1024}, nil, testStats)
	st := store.New(c, true, 300, q, b, testStats)
	engine := stats.NewEngine(stats.Config{WindowSize: 100, MinDataPoints: 5}, nil)

	w, err := NewRuleWorker(rule, engine, st, testStats)
	require.NoError(t, err)
	return w, engine, st, q
}

// seedBaseline records a stable series and caches its baseline: mean 50,
// stddev 1.
func seedBaseline(engine *stats.Engine, source, metric string) {
	for i := 0; i < 30; i++ {
		v := 49.0
		if i%2 == 1 {
			v = 51.0
		}
		engine.Record(source, metric, v, 0)
	}
	engine.ComputeBaseline(source, metric)
}

func drain(q *queue.Queue) []*queue.NotifyJob {
	var jobs []*queue.NotifyJob
	for _, item := range q.PopBackBy(128) {
		jobs = append(jobs, item.(*queue.NotifyJob))
	}
	return jobs
}

func TestEvalTriggersOnAnomaly(t *testing.T) {
	w, engine, st, q := testWorker(t, cpuRule())
	seedBaseline(engine, "host-1", "cpu.usage")

	engine.Record("host-1", "cpu.usage", 60, 0)
	w.Eval()

	active := st.Active()
	require.Len(t, active, 1)
	a := active[0]
	assert.Equal(t, "cpu_anomaly", a.Rule)
	assert.Equal(t, "cpu.usage", a.Metric)
	assert.Equal(t, "host-1", a.Source)
	assert.Equal(t, "critical", a.Severity)
	assert.Equal(t, float64(60), a.Value)
	assert.InDelta(t, 53, a.Threshold, 0.001)
	assert.InDelta(t, 10, a.Context["score"].(float64), 0.001)

	jobs := drain(q)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindCreated, jobs[0].Kind)
}

func TestEvalSkipsQuietSeries(t *testing.T) {
	w, engine, st, q := testWorker(t, cpuRule())
	seedBaseline(engine, "host-1", "cpu.usage")

	engine.Record("host-1", "cpu.usage", 50.5, 0)
	w.Eval()

	assert.Empty(t, st.Active())
	assert.Empty(t, drain(q))
}

func TestEvalSkipsWarmup(t *testing.T) {
	w, engine, st, _ := testWorker(t, cpuRule())

	// no samples at all
	w.Eval()
	assert.Empty(t, st.Active())

	// some samples, but fewer than the engine minimum
	for i := 0; i < 3; i++ {
		engine.Record("host-1", "cpu.usage", 100, 0)
	}
	w.Eval()
	assert.Empty(t, st.Active())
}

func TestEvalRespectsRuleMinDataPoints(t *testing.T) {
	rule := cpuRule()
	rule.MinDataPoints = 50
	w, engine, st, _ := testWorker(t, rule)
	seedBaseline(engine, "host-1", "cpu.usage")

	engine.Record("host-1", "cpu.usage", 200, 0)
	w.Eval()

	// 30 samples back the baseline, the rule demands 50
	assert.Empty(t, st.Active())
}

func TestEvalDedupsRepeatedAnomalies(t *testing.T) {
	w, engine, st, q := testWorker(t, cpuRule())
	seedBaseline(engine, "host-1", "cpu.usage")

	engine.Record("host-1", "cpu.usage", 60, 0)
	w.Eval()
	engine.Record("host-1", "cpu.usage", 62, 0)
	w.Eval()

	active := st.Active()
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].TriggerCount)

	jobs := drain(q)
	require.Len(t, jobs, 1)
}

func TestEvalCondition(t *testing.T) {
	rule := cpuRule()
	rule.Condition = "score > 20"
	w, engine, st, _ := testWorker(t, rule)
	seedBaseline(engine, "host-1", "cpu.usage")

	// score 10 fails the extra condition
	engine.Record("host-1", "cpu.usage", 60, 0)
	w.Eval()
	assert.Empty(t, st.Active())

	rule.Condition = "score > 8 and value > mean"
	w2, err := NewRuleWorker(rule, engine, st, testStats)
	require.NoError(t, err)
	w2.Eval()
	assert.Len(t, st.Active(), 1)
}

func TestNewRuleWorkerRejectsBadCondition(t *testing.T) {
	engine := stats.NewEngine(stats.Config{}, nil)

	rule := cpuRule()
	rule.Condition = "score >>> 2"
	_, err := NewRuleWorker(rule, engine, nil, testStats)
	assert.Error(t, err)

	// non-boolean expressions are rejected at compile time
	rule.Condition = "value + 1"
	_, err = NewRuleWorker(rule, engine, nil, testStats)
	assert.Error(t, err)
}

func TestSchedulerSkipsBrokenRules(t *testing.T) {
	c := testCtx(t)
	q := queue.New(1024, testStats)
	b := bus.New(bus.Config{QueueSize: 1024}, nil, testStats)
	st := store.New(c, true, 300, q, b, testStats)
	engine := stats.NewEngine(stats.Config{}, nil)

	bad := cpuRule()
	bad.Condition = "not valid ((("

	alert := aconf.Alert{
		Alerting: aconf.Alerting{
			WatchRules: []aconf.WatchRule{cpuRule(), bad},
		},
	}
	sched := NewScheduler(alert, engine, st, testStats)
	assert.Equal(t, 1, sched.Workers())
}

func TestSchedulerRunsWorkers(t *testing.T) {
	c := testCtx(t)
	q := queue.New(1024, testStats)
	b := bus.New(bus.Config{QueueSize: 1024}, nil, testStats)
	st := store.New(c, true, 300, q, b, testStats)
	engine := stats.NewEngine(stats.Config{WindowSize: 100, MinDataPoints: 5}, nil)

	rule := cpuRule()
	rule.Interval = 1
	seedBaseline(engine, "host-1", "cpu.usage")
	engine.Record("host-1", "cpu.usage", 60, 0)

	alert := aconf.Alert{
		Alerting: aconf.Alerting{WatchRules: []aconf.WatchRule{rule}},
	}
	sched := NewScheduler(alert, engine, st, testStats)
	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(st.Active()) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Len(t, st.Active(), 1)
	assert.Equal(t, "cpu_anomaly", st.Active()[0].Rule)
}
