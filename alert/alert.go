// Package alert assembles the alert engine: storage, anomaly baselines,
// the lifecycle store, dispatch, escalation and the HTTP API.
package alert

import (
	"context"
	"fmt"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/dispatch"
	"github.com/klaxonhq/klaxon/alert/escalate"
	"github.com/klaxonhq/klaxon/alert/eval"
	"github.com/klaxonhq/klaxon/alert/queue"
	"github.com/klaxonhq/klaxon/alert/router"
	"github.com/klaxonhq/klaxon/alert/sender"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/conf"
	"github.com/klaxonhq/klaxon/cron"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"
	"github.com/klaxonhq/klaxon/pkg/httpx"
	"github.com/klaxonhq/klaxon/pkg/logx"
	"github.com/klaxonhq/klaxon/pkg/ormx"
	"github.com/klaxonhq/klaxon/producer"
	"github.com/klaxonhq/klaxon/stats"
	"github.com/klaxonhq/klaxon/storage"

	"github.com/toolkits/pkg/logger"
)

// Initialize wires every component from the config dir and starts them.
// The returned func shuts the engine down in reverse order.
func Initialize(configDir string) (func(), error) {
	config, err := conf.InitConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init config: %v", err)
	}

	logxClean, err := logx.Init(config.Log)
	if err != nil {
		return nil, err
	}

	db, err := ormx.New(config.DB)
	if err != nil {
		return nil, err
	}

	ctx := ctx.NewContext(context.Background(), db)
	if err := models.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	var redis storage.Redis
	if config.Redis.Address != "" {
		redis, err = storage.NewRedis(config.Redis)
		if err != nil {
			return nil, err
		}
	}

	alertStats := astats.NewStats()

	engine := stats.NewEngine(config.Stats, redis)
	if n := engine.WarmLoad(context.Background()); n > 0 {
		logger.Infof("baseline cache warmed with %d series", n)
	}

	notifyQueue := queue.New(config.Alert.Alerting.QueueSize, alertStats)

	eventBus := bus.New(config.Bus, redis, alertStats)
	eventBus.Start()

	st := store.New(ctx, config.Alert.Alerting.GroupingEnabled, config.Alert.Alerting.GroupingWindow,
		notifyQueue, eventBus, alertStats)
	if err := st.Reload(); err != nil {
		return nil, fmt.Errorf("failed to reload live alerts: %v", err)
	}

	dp, err := dispatch.New(ctx, config.Alert.Alerting, notifyQueue, st, eventBus, redis, alertStats)
	if err != nil {
		return nil, fmt.Errorf("failed to init dispatch: %v", err)
	}
	go dp.LoopConsume()

	esc := escalate.New(ctx, config.Alert.Alerting.Escalation, st, notifyQueue, dp.Policy(), alertStats)
	st.SetScheduler(esc)
	esc.Rescan()
	esc.Start()

	evalSched := eval.NewScheduler(config.Alert, engine, st, alertStats)
	evalSched.Start()

	sink := producer.NewSink(st, engine, alertStats)
	mgr := producer.NewManager(config.Alert.Producers.Interval, sink)
	if config.Alert.Producers.System.Enable {
		mgr.Register(producer.NewSystemProducer(config.Alert.Producers.System.Source))
	}
	if err := mgr.Start(); err != nil {
		return nil, fmt.Errorf("failed to start producers: %v", err)
	}

	recordConsumer := sender.NewNotifyRecordConsumer(ctx)
	go recordConsumer.LoopConsume()

	maint := cron.New(ctx, config.Alert.Alerting, config.Stats, st, engine, esc)
	if err := maint.Start(); err != nil {
		return nil, fmt.Errorf("failed to start maintenance jobs: %v", err)
	}

	rt := router.New(ctx, st, engine, dp, alertStats)
	r := httpx.GinEngine(config.Global.RunMode, config.HTTP)
	rt.Config(r)

	httpClean := httpx.Init(config.HTTP, r)

	return func() {
		httpClean()
		maint.Stop()
		mgr.Stop()
		evalSched.Stop()
		esc.Stop()
		dp.Stop()
		recordConsumer.Stop()
		eventBus.Close()
		logxClean()
	}, nil
}
