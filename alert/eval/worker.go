package eval

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/robfig/cron/v3"
	"github.com/toolkits/pkg/logger"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/alert/process"
	"github.com/klaxonhq/klaxon/alert/store"
	"github.com/klaxonhq/klaxon/stats"
)

// conditionEnv is what a watch rule's optional expression sees. Hour lets
// rules gate on time of day, e.g. "score > 3 or hour < 8".
type conditionEnv struct {
	Value  float64 `expr:"value"`
	Mean   float64 `expr:"mean"`
	StdDev float64 `expr:"stddev"`
	Score  float64 `expr:"score"`
	Hour   int     `expr:"hour"`
}

// RuleWorker evaluates one watch rule on its own cron schedule: pull the
// latest sample of the watched series, score it against the baseline, and
// submit a trigger when the rule fires.
type RuleWorker struct {
	rule aconf.WatchRule

	engine *stats.Engine
	store  *store.Store
	stats  *astats.Stats

	scheduler *cron.Cron
	condition *vm.Program
}

func NewRuleWorker(rule aconf.WatchRule, engine *stats.Engine, st *store.Store, astats *astats.Stats) (*RuleWorker, error) {
	w := &RuleWorker{
		rule:   rule,
		engine: engine,
		store:  st,
		stats:  astats,
	}

	if rule.Condition != "" {
		program, err := expr.Compile(rule.Condition, expr.Env(conditionEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("watch rule %s: bad condition %q: %v", rule.Name, rule.Condition, err)
		}
		w.condition = program
	}

	w.scheduler = cron.New(cron.WithSeconds())
	_, err := w.scheduler.AddFunc(fmt.Sprintf("@every %ds", rule.Interval), func() {
		w.Eval()
	})
	if err != nil {
		return nil, fmt.Errorf("watch rule %s: bad interval %d: %v", rule.Name, rule.Interval, err)
	}

	return w, nil
}

func (w *RuleWorker) Key() string {
	return fmt.Sprintf("%s/%s/%s", w.rule.Name, w.rule.Source, w.rule.Metric)
}

func (w *RuleWorker) Start() {
	logger.Infof("eval:%s started, interval %ds", w.Key(), w.rule.Interval)
	w.scheduler.Start()
}

func (w *RuleWorker) Stop() {
	c := w.scheduler.Stop()
	<-c.Done()
	logger.Infof("eval:%s stopped", w.Key())
}

// Eval runs one evaluation pass. No baseline or too little data means the
// series is still warming up; that is a silent skip, not an error.
func (w *RuleWorker) Eval() {
	latest, ok := w.engine.Latest(w.rule.Source, w.rule.Metric)
	if !ok {
		return
	}

	baseline, ok := w.engine.Baseline(w.rule.Source, w.rule.Metric)
	if !ok {
		baseline, ok = w.engine.ComputeBaseline(w.rule.Source, w.rule.Metric)
		if !ok {
			return
		}
	}
	if w.rule.MinDataPoints > 0 && baseline.SampleCount < w.rule.MinDataPoints {
		return
	}

	score := w.engine.Score(latest.Value, baseline)
	if score < w.rule.ZThreshold {
		return
	}

	if w.condition != nil {
		pass, err := w.evalCondition(latest.Value, baseline, score)
		if err != nil {
			logger.Errorf("eval:%s condition error: %v", w.Key(), err)
			return
		}
		if !pass {
			return
		}
	}

	trigger := &process.Trigger{
		Rule:      w.rule.Name,
		Metric:    w.rule.Metric,
		Value:     latest.Value,
		Threshold: baseline.Mean + w.rule.ZThreshold*baseline.StdDev,
		Severity:  w.rule.Severity,
		Source:    w.rule.Source,
		Context: map[string]interface{}{
			"score":  score,
			"mean":   baseline.Mean,
			"stddev": baseline.StdDev,
			"window": baseline.SampleCount,
		},
	}

	res, err := w.store.Submit(trigger)
	if err != nil {
		logger.Errorf("eval:%s submit failed: %v", w.Key(), err)
		return
	}
	logger.Debugf("eval:%s value=%v score=%.2f action=%s", w.Key(), latest.Value, score, res.Action)
}

func (w *RuleWorker) evalCondition(value float64, b *stats.Baseline, score float64) (bool, error) {
	env := conditionEnv{
		Value:  value,
		Mean:   b.Mean,
		StdDev: b.StdDev,
		Score:  score,
		Hour:   time.Now().Hour(),
	}
	out, err := expr.Run(w.condition, env)
	if err != nil {
		return false, err
	}
	pass, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not boolean", w.rule.Condition)
	}
	return pass, nil
}
