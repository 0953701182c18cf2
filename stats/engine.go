// Package stats keeps per-metric sample windows and the statistical
// baselines derived from them. The engine answers two questions: what does
// this metric normally look like, and how far off is the value we just saw.
package stats

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/klaxonhq/klaxon/storage"

	"github.com/toolkits/pkg/logger"
	"golang.org/x/exp/slices"
)

const baselineHashKey = "klaxon:baselines"

// Baseline is the learned profile of one (source, metric) pair.
type Baseline struct {
	Source      string  `json:"source"`
	Metric      string  `json:"metric"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	P95         float64 `json:"p95"`
	StdDev      float64 `json:"stddev"`
	SampleCount int     `json:"sample_count"`
	ComputedAt  int64   `json:"computed_at"`
}

// Pcts carries the nearest-rank percentiles of a sample set.
type Pcts struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type Config struct {
	WindowSize        int
	MinDataPoints     int
	RecomputeInterval int64
}

func (c *Config) PreCheck() {
	if c.WindowSize <= 0 {
		c.WindowSize = 1000
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = 30
	}
	if c.RecomputeInterval <= 0 {
		c.RecomputeInterval = 30
	}
}

type Engine struct {
	mu        sync.RWMutex
	windows   map[string]*Ring
	baselines map[string]*Baseline

	windowSize int
	minPoints  int

	redis storage.Redis
}

func NewEngine(cfg Config, redis storage.Redis) *Engine {
	cfg.PreCheck()
	return &Engine{
		windows:    make(map[string]*Ring),
		baselines:  make(map[string]*Baseline),
		windowSize: cfg.WindowSize,
		minPoints:  cfg.MinDataPoints,
		redis:      redis,
	}
}

func seriesKey(source, metric string) string {
	return source + "|" + metric
}

// Record appends one observation to the (source, metric) window, creating
// the window on first sight.
func (e *Engine) Record(source, metric string, value float64, ts int64) {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	key := seriesKey(source, metric)

	e.mu.RLock()
	ring := e.windows[key]
	e.mu.RUnlock()

	if ring == nil {
		e.mu.Lock()
		ring = e.windows[key]
		if ring == nil {
			ring = NewRing(e.windowSize)
			e.windows[key] = ring
		}
		e.mu.Unlock()
	}

	ring.Push(Sample{Value: value, Ts: ts})
}

// Latest returns the newest sample of the series.
func (e *Engine) Latest(source, metric string) (Sample, bool) {
	e.mu.RLock()
	ring := e.windows[seriesKey(source, metric)]
	e.mu.RUnlock()
	if ring == nil {
		return Sample{}, false
	}
	return ring.Latest()
}

// WindowLen returns how many samples the series currently holds.
func (e *Engine) WindowLen(source, metric string) int {
	e.mu.RLock()
	ring := e.windows[seriesKey(source, metric)]
	e.mu.RUnlock()
	if ring == nil {
		return 0
	}
	return ring.Len()
}

// ComputeBaseline derives a fresh baseline from the current window. The
// second return is false while the window holds fewer than minPoints
// samples; that is "cannot evaluate yet", not an error.
func (e *Engine) ComputeBaseline(source, metric string) (*Baseline, bool) {
	e.mu.RLock()
	ring := e.windows[seriesKey(source, metric)]
	e.mu.RUnlock()
	if ring == nil {
		return nil, false
	}

	values := ring.Values()
	if len(values) < e.minPoints {
		return nil, false
	}

	b := &Baseline{
		Source:      source,
		Metric:      metric,
		Mean:        mean(values),
		Median:      Percentiles(values).P50,
		P95:         Percentiles(values).P95,
		StdDev:      stddev(values),
		SampleCount: len(values),
		ComputedAt:  time.Now().Unix(),
	}

	e.mu.Lock()
	e.baselines[seriesKey(source, metric)] = b
	e.mu.Unlock()

	return b, true
}

// Baseline returns the cached baseline computed by the last recompute pass.
func (e *Engine) Baseline(source, metric string) (*Baseline, bool) {
	e.mu.RLock()
	b := e.baselines[seriesKey(source, metric)]
	e.mu.RUnlock()
	if b == nil {
		return nil, false
	}
	return b, true
}

// RecomputeAll refreshes the baseline of every series with enough samples
// and snapshots the result to redis when configured. Runs on a fixed
// interval, not per sample, to bound cost.
func (e *Engine) RecomputeAll(ctx context.Context) int {
	e.mu.RLock()
	keys := make([]string, 0, len(e.windows))
	for k := range e.windows {
		keys = append(keys, k)
	}
	e.mu.RUnlock()

	n := 0
	snapshot := make(map[string]interface{})
	for _, key := range keys {
		source, metric := splitSeriesKey(key)
		b, ok := e.ComputeBaseline(source, metric)
		if !ok {
			continue
		}
		n++
		if e.redis != nil {
			buf, err := json.Marshal(b)
			if err != nil {
				continue
			}
			snapshot[key] = string(buf)
		}
	}

	if e.redis != nil && len(snapshot) > 0 {
		if err := e.redis.HSet(ctx, baselineHashKey, snapshot).Err(); err != nil {
			logger.Warningf("failed to snapshot baselines to redis: %v", err)
		}
	}

	return n
}

// WarmLoad seeds the baseline cache from the redis snapshot, so anomaly
// evaluation works right after a restart while the windows refill.
func (e *Engine) WarmLoad(ctx context.Context) int {
	if e.redis == nil {
		return 0
	}
	kv, err := e.redis.HGetAll(ctx, baselineHashKey).Result()
	if err != nil {
		logger.Warningf("failed to load baseline snapshot: %v", err)
		return 0
	}

	n := 0
	e.mu.Lock()
	for key, raw := range kv {
		var b Baseline
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		e.baselines[key] = &b
		n++
	}
	e.mu.Unlock()
	return n
}

// Score is the anomaly score of a value against a baseline: distance from
// the mean in standard deviations. Zero stddev scores zero, no upper cap.
func (e *Engine) Score(value float64, b *Baseline) float64 {
	if b == nil || b.StdDev == 0 {
		return 0
	}
	return math.Abs(value-b.Mean) / b.StdDev
}

func splitSeriesKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// Percentiles computes nearest-rank percentiles over a sorted copy of the
// input. Defined for one or more samples; below ten samples the tails
// degenerate toward the max and should not be trusted.
func Percentiles(values []float64) Pcts {
	if len(values) == 0 {
		return Pcts{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return Pcts{
		P50: nearestRank(sorted, 50),
		P90: nearestRank(sorted, 90),
		P95: nearestRank(sorted, 95),
		P99: nearestRank(sorted, 99),
	}
}

func nearestRank(sorted []float64, p int) float64 {
	n := len(sorted)
	rank := int(math.Ceil(float64(p) / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation of the window.
func stddev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}
