package producer

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemProducer samples host cpu and memory usage. With a zero cpu
// interval gopsutil reports usage since the previous call, so the first
// collection after boot reads low.
type SystemProducer struct {
	source string
}

func NewSystemProducer(source string) *SystemProducer {
	if source == "" {
		if hn, err := os.Hostname(); err == nil {
			source = hn
		} else {
			source = "localhost"
		}
	}
	return &SystemProducer{source: source}
}

func (sp *SystemProducer) Name() string {
	return "system"
}

func (sp *SystemProducer) Collect(ctx context.Context) ([]Sample, error) {
	now := time.Now().Unix()
	var samples []Sample

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(percents) > 0 {
		samples = append(samples, Sample{Source: sp.source, Metric: "system.cpu.percent", Value: percents[0], Ts: now})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return samples, err
	}
	samples = append(samples, Sample{Source: sp.source, Metric: "system.mem.percent", Value: vm.UsedPercent, Ts: now})

	return samples, nil
}
