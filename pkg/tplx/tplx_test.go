package tplx

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"testing"
)

func render(t *testing.T, text string, data interface{}) string {
	t.Helper()
	tpl, err := template.New("t").Funcs(TemplateFuncMap).Parse(text)
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		t.Fatalf("execute %q: %v", text, err)
	}
	return buf.String()
}

func TestTemplateFuncMapRendering(t *testing.T) {
	data := map[string]interface{}{
		"Severity": "critical",
		"Value":    92.456,
		"Ratio":    "0.985",
	}

	tests := []struct {
		text     string
		expected string
	}{
		{`{{toUpper .Severity}}`, "CRITICAL"},
		{`{{formatDecimal .Value 2}}`, "92.46"},
		{`{{humanizePercentage .Ratio}}`, "98.50%"},
		{`{{humanize "12500000"}}`, "12.50M"},
		{`{{humanizeDuration 3661}}`, "1h 1m 1s"},
		{`{{add 1 2}}`, "3"},
		{`{{div 5 2}}`, "2.5"},
		{`{{if contains .Severity "crit"}}page{{end}}`, "page"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := render(t, tt.text, data); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUnescapedKeepsMarkup(t *testing.T) {
	data := map[string]string{"Raw": "<b>down</b>"}

	if got := render(t, `{{.Raw}}`, data); got != "&lt;b&gt;down&lt;/b&gt;" {
		t.Errorf("expected escaped output, got %q", got)
	}
	if got := render(t, `{{unescaped .Raw}}`, data); got != "<b>down</b>" {
		t.Errorf("expected raw markup, got %q", got)
	}
}

func TestDivideByZeroFailsExecution(t *testing.T) {
	tpl, err := template.New("t").Funcs(TemplateFuncMap).Parse(`{{div 1 0}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, nil); err == nil {
		t.Error("expected execute error for division by zero")
	}
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		input    interface{}
		expected float64
		wantErr  bool
	}{
		{float64(3.5), 3.5, false},
		{int(7), 7, false},
		{int64(-2), -2, false},
		{uint64(9), 9, false},
		{"3.14", 3.14, false},
		{"abc", 0, true},
		{true, 0, true},
	}

	for _, tt := range tests {
		got, err := ToFloat64(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ToFloat64(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.expected {
			t.Errorf("ToFloat64(%v) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		input     interface{}
		precision int
		expected  string
	}{
		{92.456, 2, "92.46"},
		{"7", 0, "7"},
		{80.0, 1, "80.0"},
		{3.14159, -1, "3"},
		{"not-a-number", 2, "not-a-number"},
	}

	for _, tt := range tests {
		if got := FormatDecimal(tt.input, tt.precision); got != tt.expected {
			t.Errorf("FormatDecimal(%v, %d) = %q, want %q", tt.input, tt.precision, got, tt.expected)
		}
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"12500000", "12.50M"},
		{"1500", "1.50k"},
		{"0.0456", "45.60m"},
		{"0", "0.00"},
		{"abc", "abc"},
	}

	for _, tt := range tests {
		if got := Humanize(tt.input); got != tt.expected {
			t.Errorf("Humanize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestHumanize1024(t *testing.T) {
	if got := Humanize1024("1536"); got != "1.5ki" {
		t.Errorf("Humanize1024(1536) = %q, want 1.5ki", got)
	}
	if got := Humanize1024("1073741824"); got != "1Gi" {
		t.Errorf("Humanize1024(1073741824) = %q, want 1Gi", got)
	}
}

func TestHumanizeDurationFloat64(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0s"},
		{42, "42s"},
		{90061, "1d 1h 1m 1s"},
		{-61, "-1m 1s"},
		{0.5, "500ms"},
	}

	for _, tt := range tests {
		if got := HumanizeDurationFloat64(tt.input); got != tt.expected {
			t.Errorf("HumanizeDurationFloat64(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestReReplaceAll(t *testing.T) {
	if got := ReReplaceAll(`\d+`, "N", "host-42"); got != "host-N" {
		t.Errorf("got %q, want host-N", got)
	}
	// broken pattern leaves the text alone
	if got := ReReplaceAll(`(`, "N", "host-42"); got != "host-42" {
		t.Errorf("got %q, want host-42", got)
	}
}

func TestTimestampDefaultPattern(t *testing.T) {
	got := Timestamp()
	matched, err := regexp.MatchString(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, got)
	if err != nil || !matched {
		t.Errorf("Timestamp() = %q, want default datetime layout", got)
	}
	if y := Timestamp("2006"); len(y) != 4 || !strings.HasPrefix(y, "2") {
		t.Errorf("Timestamp(2006) = %q", y)
	}
}
