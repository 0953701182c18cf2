package aconf

import (
	"path"

	"github.com/toolkits/pkg/runner"
)

type Alert struct {
	EngineDelay int64
	Alerting    Alerting
	Producers   ProducersConfig
}

type Alerting struct {
	TemplatesDir      string
	NotifyConcurrency int
	QueueSize         int64
	RecordQueueSize   int64

	// one window drives both dedup and group attachment, in seconds
	GroupingEnabled bool `default:"true"`
	GroupingWindow  int64

	Notify     NotifyConfig
	SMTP       SMTPConfig
	Channels   map[string]map[string]interface{}
	Escalation EscalationConfig
	WatchRules []WatchRule
	Inbox      InboxConfig

	HistoryRetentionDays      int
	NotifyRecordRetentionDays int
	EscalationRetentionDays   int
}

type NotifyConfig struct {
	MaxRetries int
	RetryDelay int64
	Timeout    int64
	RateLimit  float64
	RateBurst  int
}

type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Pass               string
	From               string
	To                 []string
	InsecureSkipVerify bool
	Batch              int
}

type EscalationConfig struct {
	PollInterval int64
	Policies     map[string]EscalationPolicy
}

// EscalationPolicy widens the channel set level by level. InitialChannels
// empty means the built-in severity routing applies unchanged.
type EscalationPolicy struct {
	InitialChannels    []string
	EscalationChannels []string
	Delay              int64
	MaxLevel           int
}

type WatchRule struct {
	Name          string
	Source        string
	Metric        string
	Severity      string
	ZThreshold    float64
	MinDataPoints int
	Condition     string
	Interval      int64
}

type InboxConfig struct {
	MaxSize int64
}

// ProducersConfig controls the embedded collectors. External producers go
// through the HTTP API instead and need no config here.
type ProducersConfig struct {
	Interval int64
	System   SystemProducerConfig
}

type SystemProducerConfig struct {
	Enable bool
	Source string
}

func (a *Alert) PreCheck() {
	if a.Alerting.TemplatesDir == "" {
		a.Alerting.TemplatesDir = path.Join(runner.Cwd, "etc", "template")
	}

	if a.Alerting.NotifyConcurrency == 0 {
		a.Alerting.NotifyConcurrency = 10
	}

	if a.Alerting.QueueSize <= 0 {
		a.Alerting.QueueSize = 100000
	}

	if a.Alerting.RecordQueueSize <= 0 {
		a.Alerting.RecordQueueSize = 10000
	}

	if a.Alerting.GroupingWindow <= 0 {
		a.Alerting.GroupingWindow = 300
	}

	if a.Alerting.Notify.MaxRetries <= 0 {
		a.Alerting.Notify.MaxRetries = 3
	}

	if a.Alerting.Notify.RetryDelay <= 0 {
		a.Alerting.Notify.RetryDelay = 5
	}

	if a.Alerting.Notify.Timeout <= 0 {
		a.Alerting.Notify.Timeout = 30
	}

	if a.Alerting.Notify.RateLimit <= 0 {
		a.Alerting.Notify.RateLimit = 10
	}

	if a.Alerting.Notify.RateBurst <= 0 {
		a.Alerting.Notify.RateBurst = 10
	}

	if a.Alerting.Escalation.PollInterval <= 0 {
		a.Alerting.Escalation.PollInterval = 5
	}

	if a.Alerting.Escalation.Policies == nil {
		a.Alerting.Escalation.Policies = make(map[string]EscalationPolicy)
	}
	for severity, policy := range DefaultPolicies() {
		if _, has := a.Alerting.Escalation.Policies[severity]; !has {
			a.Alerting.Escalation.Policies[severity] = policy
		}
	}

	if a.Alerting.Inbox.MaxSize <= 0 {
		a.Alerting.Inbox.MaxSize = 1000
	}

	if a.Alerting.HistoryRetentionDays <= 0 {
		a.Alerting.HistoryRetentionDays = 30
	}

	if a.Alerting.NotifyRecordRetentionDays <= 0 {
		a.Alerting.NotifyRecordRetentionDays = 7
	}

	if a.Alerting.EscalationRetentionDays <= 0 {
		a.Alerting.EscalationRetentionDays = 7
	}

	if a.Producers.Interval <= 0 {
		a.Producers.Interval = 15
	}

	for i := range a.Alerting.WatchRules {
		rule := &a.Alerting.WatchRules[i]
		if rule.ZThreshold <= 0 {
			rule.ZThreshold = 2.5
		}
		if rule.Interval <= 0 {
			rule.Interval = 60
		}
		if rule.Severity == "" {
			rule.Severity = "warning"
		}
	}
}

// DefaultPolicies is the built-in escalation table. Critical pages fast and
// wide, warnings nudge, info never escalates. InitialChannels stays empty so
// the severity routing decides who hears about a fresh alert.
func DefaultPolicies() map[string]EscalationPolicy {
	return map[string]EscalationPolicy{
		"critical": {
			EscalationChannels: []string{"pagerduty"},
			Delay:              300,
			MaxLevel:           3,
		},
		"warning": {
			EscalationChannels: []string{"sms"},
			Delay:              900,
			MaxLevel:           2,
		},
		"info": {
			MaxLevel: 0,
		},
	}
}
