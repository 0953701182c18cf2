package aconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreCheckDefaults(t *testing.T) {
	var a Alert
	a.PreCheck()

	assert.Equal(t, int64(300), a.Alerting.GroupingWindow)
	assert.Equal(t, 3, a.Alerting.Notify.MaxRetries)
	assert.Equal(t, int64(5), a.Alerting.Notify.RetryDelay)
	assert.Equal(t, int64(30), a.Alerting.Notify.Timeout)
	assert.Equal(t, float64(10), a.Alerting.Notify.RateLimit)
	assert.Equal(t, 10, a.Alerting.Notify.RateBurst)
	assert.Equal(t, 10, a.Alerting.NotifyConcurrency)
	assert.Equal(t, int64(5), a.Alerting.Escalation.PollInterval)

	critical := a.Alerting.Escalation.Policies["critical"]
	assert.Empty(t, critical.InitialChannels)
	assert.Equal(t, []string{"pagerduty"}, critical.EscalationChannels)
	assert.Equal(t, int64(300), critical.Delay)
	assert.Equal(t, 3, critical.MaxLevel)

	warning := a.Alerting.Escalation.Policies["warning"]
	assert.Equal(t, []string{"sms"}, warning.EscalationChannels)
	assert.Equal(t, int64(900), warning.Delay)
	assert.Equal(t, 2, warning.MaxLevel)

	info := a.Alerting.Escalation.Policies["info"]
	assert.Equal(t, 0, info.MaxLevel)
}

func TestPreCheckKeepsConfigured(t *testing.T) {
	a := Alert{
		Alerting: Alerting{
			GroupingWindow: 60,
			Escalation: EscalationConfig{
				Policies: map[string]EscalationPolicy{
					"critical": {Delay: 60, MaxLevel: 1},
				},
			},
		},
	}
	a.PreCheck()

	assert.Equal(t, int64(60), a.Alerting.GroupingWindow)
	assert.Equal(t, int64(60), a.Alerting.Escalation.Policies["critical"].Delay)

	// missing severities are still filled in
	assert.Equal(t, int64(900), a.Alerting.Escalation.Policies["warning"].Delay)
}

func TestPreCheckWatchRuleDefaults(t *testing.T) {
	a := Alert{Alerting: Alerting{WatchRules: []WatchRule{{Name: "cpu-roof", Source: "web-01", Metric: "cpu_usage"}}}}
	a.PreCheck()

	rule := a.Alerting.WatchRules[0]
	assert.Equal(t, 2.5, rule.ZThreshold)
	assert.Equal(t, int64(60), rule.Interval)
	assert.Equal(t, "warning", rule.Severity)
}
