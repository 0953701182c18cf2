// Package producer runs the embedded metric collectors and gives external
// producers one surface to write into: samples feed the statistics engine,
// direct triggers go straight to the alert store.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/process"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/stats"

	"github.com/robfig/cron/v3"
	"github.com/toolkits/pkg/logger"
)

const collectTimeout = 10 * time.Second

// Sample is one observation handed over by a producer.
type Sample struct {
	Source string
	Metric string
	Value  float64
	Ts     int64
}

// Producer is anything that can be polled for samples. Collect must respect
// the context deadline; a failing producer never stops its siblings.
type Producer interface {
	Name() string
	Collect(ctx context.Context) ([]Sample, error)
}

// Sink is the engine-side surface producers write into.
type Sink struct {
	store  *store.Store
	engine *stats.Engine
	stats  *astats.Stats
}

func NewSink(st *store.Store, engine *stats.Engine, stats *astats.Stats) *Sink {
	return &Sink{store: st, engine: engine, stats: stats}
}

// TriggerAlert submits one producer trigger, extra becomes the alert's
// context map. Deduplicated triggers return the absorbed live alert.
func (s *Sink) TriggerAlert(rule, metric string, value, threshold float64, severity, source string, extra map[string]interface{}) (*models.Alert, error) {
	res, err := s.store.Submit(&process.Trigger{
		Rule:      rule,
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Severity:  severity,
		Source:    source,
		Context:   extra,
	})
	if err != nil {
		return nil, err
	}
	return res.Alert, nil
}

// RecordSample feeds one observation into the statistics engine.
func (s *Sink) RecordSample(source, metric string, value float64, ts int64) {
	s.engine.Record(source, metric, value, ts)
	s.stats.CounterSamplesTotal.WithLabelValues(source).Inc()
}

// Manager polls the registered producers on a fixed interval.
type Manager struct {
	sink      *Sink
	interval  int64
	producers []Producer
	scheduler *cron.Cron
}

func NewManager(interval int64, sink *Sink) *Manager {
	if interval <= 0 {
		interval = 15
	}
	return &Manager{
		sink:      sink,
		interval:  interval,
		scheduler: cron.New(),
	}
}

func (m *Manager) Register(p Producer) {
	m.producers = append(m.producers, p)
}

func (m *Manager) Producers() int {
	return len(m.producers)
}

func (m *Manager) Start() error {
	if len(m.producers) == 0 {
		return nil
	}
	if _, err := m.scheduler.AddFunc(fmt.Sprintf("@every %ds", m.interval), m.collectAll); err != nil {
		return err
	}
	m.scheduler.Start()
	logger.Infof("producer manager started, %d producers, interval %ds", len(m.producers), m.interval)
	return nil
}

func (m *Manager) Stop() {
	c := m.scheduler.Stop()
	<-c.Done()
}

func (m *Manager) collectAll() {
	for _, p := range m.producers {
		ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
		samples, err := p.Collect(ctx)
		cancel()
		if err != nil {
			logger.Warningf("producer %s: collect failed: %v", p.Name(), err)
			continue
		}
		for _, sm := range samples {
			m.sink.RecordSample(sm.Source, sm.Metric, sm.Value, sm.Ts)
		}
		logger.Debugf("producer %s: collected %d samples", p.Name(), len(samples))
	}
}
