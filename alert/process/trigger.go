package process

import (
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/google/uuid"
)

// Trigger is the validated ingestion payload. Everything entering the store
// goes through one of these, whether it came from the HTTP API, a watch rule
// or an embedded producer.
type Trigger struct {
	Rule      string                 `json:"rule"`
	Metric    string                 `json:"metric"`
	Value     float64                `json:"value"`
	Threshold float64                `json:"threshold"`
	Severity  string                 `json:"severity"`
	Source    string                 `json:"source"`
	Context   map[string]interface{} `json:"context"`
}

func (t *Trigger) Validate() error {
	if t.Rule == "" {
		return errx.NewValidation("rule", "must not be empty")
	}
	if t.Metric == "" {
		return errx.NewValidation("metric", "must not be empty")
	}
	if t.Source == "" {
		return errx.NewValidation("source", "must not be empty")
	}
	if !models.SeverityValid(t.Severity) {
		return errx.NewValidation("severity", "unknown severity: %s", t.Severity)
	}
	return nil
}

func (t *Trigger) Fingerprint() string {
	return Fingerprint(t.Rule, t.Metric, t.Source, t.Severity)
}

// NewAlert materializes a fresh active alert from the trigger.
func (t *Trigger) NewAlert(now int64) *models.Alert {
	if now == 0 {
		now = time.Now().Unix()
	}
	return &models.Alert{
		Id:              uuid.NewString(),
		Fingerprint:     t.Fingerprint(),
		Rule:            t.Rule,
		Metric:          t.Metric,
		Source:          t.Source,
		Severity:        t.Severity,
		Value:           t.Value,
		Threshold:       t.Threshold,
		State:           models.StateActive,
		TriggerCount:    1,
		CreateAt:        now,
		LastTriggerTime: now,
		Context:         models.JSONMap(t.Context),
		Version:         1,
		UpdateAt:        now,
	}
}
