// Package eval turns statistics into alerts: each configured watch rule gets
// a worker that periodically scores the watched series against its learned
// baseline and submits a trigger when the score crosses the rule's
// threshold.
package eval

import (
	"time"

	"github.com/toolkits/pkg/logger"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/stats"
)

type Scheduler struct {
	workers []*RuleWorker
	delay   int64
	quit    chan struct{}
}

// NewScheduler compiles every watch rule into a worker. Rules that fail to
// compile are skipped with a log line instead of failing the boot; the rest
// of the engine is still useful without them.
func NewScheduler(alert aconf.Alert, engine *stats.Engine, st *store.Store, astats *astats.Stats) *Scheduler {
	s := &Scheduler{
		delay: alert.EngineDelay,
		quit:  make(chan struct{}),
	}

	for _, rule := range alert.Alerting.WatchRules {
		w, err := NewRuleWorker(rule, engine, st, astats)
		if err != nil {
			logger.Errorf("eval: skipping watch rule: %v", err)
			continue
		}
		s.workers = append(s.workers, w)
	}

	return s
}

// Start launches the workers after the configured delay, giving producers
// time to refill the sample windows after a restart.
func (s *Scheduler) Start() {
	go func() {
		if s.delay > 0 {
			select {
			case <-time.After(time.Duration(s.delay) * time.Second):
			case <-s.quit:
				return
			}
		}
		for _, w := range s.workers {
			w.Start()
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.quit)
	for _, w := range s.workers {
		w.Stop()
	}
}

func (s *Scheduler) Workers() int {
	return len(s.workers)
}
