package producer

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/errx"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStats = astats.NewStats()

func testSink(t *testing.T) (*Sink, *store.Store, *stats.Engine, *queue.Queue) {
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
	return NewSink(st, engine, testStats), st, engine, q
}

type fakeProducer struct {
	name    string
	samples []Sample
	err     error
	calls   int32
}

func (f *fakeProducer) Name() string { return f.name }

func (f *fakeProducer) Collect(ctx context.Context) ([]Sample, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.samples, f.err
}

func TestTriggerAlertCreates(t *testing.T) {
	sink, st, _, q := testSink(t)

	a, err := sink.TriggerAlert("high_cpu", "cpu.usage", 92, 80, "critical", "host-1",
		map[string]interface{}{"region": "eu-west-1"})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, models.StateActive, a.State)
	assert.Equal(t, int64(1), a.TriggerCount)

	// the repeat is absorbed, not a second alert
	again, err := sink.TriggerAlert("high_cpu", "cpu.usage", 95, 80, "critical", "host-1", nil)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, a.Id, again.Id)
	assert.Equal(t, int64(2), again.TriggerCount)
	assert.Equal(t, 1, st.LiveCount())

	jobs := q.PopBackBy(16)
	assert.Len(t, jobs, 1)
}

func TestTriggerAlertValidation(t *testing.T) {
	sink, _, _, _ := testSink(t)

	_, err := sink.TriggerAlert("high_cpu", "cpu.usage", 92, 80, "fatal", "host-1", nil)
	require.Error(t, err)
	var verr *errx.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = sink.TriggerAlert("", "cpu.usage", 92, 80, "critical", "host-1", nil)
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
}

func TestManagerCollects(t *testing.T) {
	sink, _, engine, _ := testSink(t)

	m := NewManager(15, sink)
	m.Register(&fakeProducer{name: "fake", samples: []Sample{
		{Source: "host-1", Metric: "app.latency", Value: 120, Ts: time.Now().Unix()},
		{Source: "host-1", Metric: "app.errors", Value: 3, Ts: time.Now().Unix()},
	}})
	require.Equal(t, 1, m.Producers())

	m.collectAll()

	assert.Equal(t, 1, engine.WindowLen("host-1", "app.latency"))
	assert.Equal(t, 1, engine.WindowLen("host-1", "app.errors"))
}

func TestManagerSkipsFailingProducer(t *testing.T) {
	sink, _, engine, _ := testSink(t)

	m := NewManager(15, sink)
	m.Register(&fakeProducer{name: "broken", err: errors.New("probe timeout")})
	m.Register(&fakeProducer{name: "ok", samples: []Sample{
		{Source: "host-2", Metric: "db.connections", Value: 40},
	}})

	m.collectAll()

	assert.Equal(t, 1, engine.WindowLen("host-2", "db.connections"))
}

func TestManagerStartStop(t *testing.T) {
	sink, _, _, _ := testSink(t)

	m := NewManager(1, sink)
	fake := &fakeProducer{name: "fake", samples: []Sample{
		{Source: "host-3", Metric: "queue.depth", Value: 7},
	}}
	m.Register(fake)
	require.NoError(t, m.Start())
	defer m.Stop()

	deadline := time.After(3 * time.Second)
	for atomic.LoadInt32(&fake.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("producer was never polled")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSystemProducerCollect(t *testing.T) {
	sp := NewSystemProducer("test-host")
	samples, err := sp.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	for _, sm := range samples {
		assert.Equal(t, "test-host", sm.Source)
		assert.NotEmpty(t, sm.Metric)
		assert.Greater(t, sm.Ts, int64(0))
	}
}
