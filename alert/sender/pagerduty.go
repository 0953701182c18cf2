package sender

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/tidwall/gjson"
	"github.com/toolkits/pkg/logger"
)

const pagerdutyEventsUrl = "https://events.pagerduty.com/v2/enqueue"

type PagerdutyConfig struct {
	RoutingKey string `mapstructure:"routing_key"`
	Url        string `mapstructure:"url"`
	Timeout    int64  `mapstructure:"timeout"`
}

// PagerdutySender pushes Events API v2 trigger events. The fingerprint is
// the dedup key, so repeats of one alert collapse into one incident on the
// PagerDuty side too.
type PagerdutySender struct {
	conf   PagerdutyConfig
	client *http.Client
}

type pagerdutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key"`
	Payload     pagerdutyPayload `json:"payload"`
}

type pagerdutyPayload struct {
	Summary       string                 `json:"summary"`
	Source        string                 `json:"source"`
	Severity      string                 `json:"severity"`
	Timestamp     string                 `json:"timestamp"`
	CustomDetails map[string]interface{} `json:"custom_details,omitempty"`
}

func NewPagerdutySender(conf PagerdutyConfig) *PagerdutySender {
	if conf.Url == "" {
		conf.Url = pagerdutyEventsUrl
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10
	}
	return &PagerdutySender{
		conf:   conf,
		client: &http.Client{Timeout: time.Duration(conf.Timeout) * time.Second},
	}
}

func (ps *PagerdutySender) Send(ctx context.Context, m *Message) error {
	if ps.conf.RoutingKey == "" {
		return errx.NewNotification(models.Pagerduty, fmt.Errorf("routing_key not configured"))
	}

	a := m.Alert
	details := map[string]interface{}{
		"rule":          a.Rule,
		"metric":        a.Metric,
		"value":         a.Value,
		"threshold":     a.Threshold,
		"trigger_count": a.TriggerCount,
		"kind":          m.Kind,
	}
	if m.Level > 0 {
		details["escalation_level"] = m.Level
	}

	ev := pagerdutyEvent{
		RoutingKey:  ps.conf.RoutingKey,
		EventAction: "trigger",
		DedupKey:    a.Fingerprint,
		Payload: pagerdutyPayload{
			Summary:       m.Title,
			Source:        a.Source,
			Severity:      pagerdutySeverity(a.Severity),
			Timestamp:     time.Unix(a.LastTriggerTime, 0).UTC().Format(time.RFC3339),
			CustomDetails: details,
		},
	}

	body, code, err := doPost(ctx, ps.client, ps.conf.Url, ev, nil)
	if err != nil {
		return errx.NewNotification(models.Pagerduty, err)
	}
	if code != http.StatusAccepted {
		return errx.NewNotification(models.Pagerduty, fmt.Errorf("unexpected status %d: %s", code, string(body)))
	}
	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "success" {
		return errx.NewNotification(models.Pagerduty, fmt.Errorf("event rejected: %s", string(body)))
	}

	logger.Debugf("pagerduty_sender: result=succ alert=%s dedup_key=%s", a.Id, a.Fingerprint)
	return nil
}

func pagerdutySeverity(severity string) string {
	switch severity {
	case models.SeverityCritical, models.SeverityWarning, models.SeverityInfo:
		return severity
	default:
		return "error"
	}
}
