package process

import (
	"errors"
	"testing"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("cpu-roof", "cpu_usage", "web-01", "critical")
	b := Fingerprint("cpu-roof", "cpu_usage", "web-01", "critical")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	// any identity field flips the fingerprint
	assert.NotEqual(t, a, Fingerprint("cpu-roof", "cpu_usage", "web-02", "critical"))
	assert.NotEqual(t, a, Fingerprint("cpu-roof", "cpu_usage", "web-01", "warning"))
	assert.NotEqual(t, a, Fingerprint("cpu-roof", "mem_usage", "web-01", "critical"))
	assert.NotEqual(t, a, Fingerprint("disk-roof", "cpu_usage", "web-01", "critical"))
}

func TestFingerprintIgnoresValue(t *testing.T) {
	t1 := Trigger{Rule: "cpu-roof", Metric: "cpu_usage", Source: "web-01", Severity: "critical", Value: 91}
	t2 := Trigger{Rule: "cpu-roof", Metric: "cpu_usage", Source: "web-01", Severity: "critical", Value: 99,
		Context: map[string]interface{}{"region": "eu"}}
	assert.Equal(t, t1.Fingerprint(), t2.Fingerprint())
}

func TestTriggerValidate(t *testing.T) {
	good := Trigger{Rule: "cpu-roof", Metric: "cpu_usage", Source: "web-01", Severity: "warning"}
	assert.NoError(t, good.Validate())

	cases := []struct {
		name    string
		trigger Trigger
		field   string
	}{
		{"empty rule", Trigger{Metric: "m", Source: "s", Severity: "info"}, "rule"},
		{"empty metric", Trigger{Rule: "r", Source: "s", Severity: "info"}, "metric"},
		{"empty source", Trigger{Rule: "r", Metric: "m", Severity: "info"}, "source"},
		{"bad severity", Trigger{Rule: "r", Metric: "m", Source: "s", Severity: "fatal"}, "severity"},
		{"empty severity", Trigger{Rule: "r", Metric: "m", Source: "s"}, "severity"},
	}

	for _, c := range cases {
		err := c.trigger.Validate()
		require.Error(t, err, c.name)

		var verr *errx.ValidationError
		require.True(t, errors.As(err, &verr), c.name)
		assert.Equal(t, c.field, verr.Field, c.name)
	}
}

func TestNewAlert(t *testing.T) {
	tr := Trigger{
		Rule: "cpu-roof", Metric: "cpu_usage", Source: "web-01", Severity: "critical",
		Value: 97.2, Threshold: 90,
		Context: map[string]interface{}{"region": "eu-west-1"},
	}

	a := tr.NewAlert(1724576000)
	assert.NotEmpty(t, a.Id)
	assert.Equal(t, tr.Fingerprint(), a.Fingerprint)
	assert.Equal(t, models.StateActive, a.State)
	assert.Equal(t, int64(1), a.TriggerCount)
	assert.Equal(t, int64(1724576000), a.CreateAt)
	assert.Equal(t, int64(1724576000), a.LastTriggerTime)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, "eu-west-1", a.Context["region"])

	// ids are unique per materialization
	b := tr.NewAlert(1724576000)
	assert.NotEqual(t, a.Id, b.Id)
}
