package tplx

import (
	"fmt"
	"html/template"
	"math"
	"regexp"
	"strconv"
	"time"
)

func Unescaped(str string) interface{} {
	return template.HTML(str)
}

func Urlconvert(str string) interface{} {
	return template.URL(str)
}

func Timeformat(ts int64, pattern ...string) string {
	defp := "2006-01-02 15:04:05"
	if len(pattern) > 0 {
		defp = pattern[0]
	}
	return time.Unix(ts, 0).Format(defp)
}

func Timestamp(pattern ...string) string {
	defp := "2006-01-02 15:04:05"
	if len(pattern) > 0 {
		defp = pattern[0]
	}
	return time.Now().Format(defp)
}

func Now() time.Time {
	return time.Now()
}

func ToString(v interface{}) string {
	return fmt.Sprint(v)
}

// ToFloat64 coerces the numeric types a template is likely to meet.
// Strings are parsed, everything else is an error.
func ToFloat64(i interface{}) (float64, error) {
	switch v := i.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", i)
	}
}

// FormatDecimal renders v with the given number of decimal places,
// falling back to fmt.Sprint for non-numeric input.
func FormatDecimal(v interface{}, precision int) string {
	f, err := ToFloat64(v)
	if err != nil {
		return ToString(v)
	}
	if precision < 0 {
		precision = 0
	}
	return strconv.FormatFloat(f, 'f', precision, 64)
}

func Add(a, b interface{}) (float64, error) {
	av, err := ToFloat64(a)
	if err != nil {
		return 0, fmt.Errorf("add: %v", err)
	}
	bv, err := ToFloat64(b)
	if err != nil {
		return 0, fmt.Errorf("add: %v", err)
	}
	return av + bv, nil
}

func Subtract(a, b interface{}) (float64, error) {
	av, err := ToFloat64(a)
	if err != nil {
		return 0, fmt.Errorf("sub: %v", err)
	}
	bv, err := ToFloat64(b)
	if err != nil {
		return 0, fmt.Errorf("sub: %v", err)
	}
	return av - bv, nil
}

func Multiply(a, b interface{}) (float64, error) {
	av, err := ToFloat64(a)
	if err != nil {
		return 0, fmt.Errorf("mul: %v", err)
	}
	bv, err := ToFloat64(b)
	if err != nil {
		return 0, fmt.Errorf("mul: %v", err)
	}
	return av * bv, nil
}

func Divide(a, b interface{}) (float64, error) {
	av, err := ToFloat64(a)
	if err != nil {
		return 0, fmt.Errorf("div: %v", err)
	}
	bv, err := ToFloat64(b)
	if err != nil {
		return 0, fmt.Errorf("div: %v", err)
	}
	if bv == 0 {
		return 0, fmt.Errorf("div: division by zero")
	}
	return av / bv, nil
}

// Humanize shortens a numeric string with metric prefixes, so a
// notification shows 12.50M instead of 12500000.
func Humanize(s string) string {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%.2f", v)
	}
	if math.Abs(v) >= 1 {
		prefix := ""
		for _, p := range []string{"k", "M", "G", "T", "P", "E", "Z", "Y"} {
			if math.Abs(v) < 1000 {
				break
			}
			prefix = p
			v /= 1000
		}
		return fmt.Sprintf("%.2f%s", v, prefix)
	}
	prefix := ""
	for _, p := range []string{"m", "u", "n", "p", "f", "a", "z", "y"} {
		if math.Abs(v) >= 1 {
			break
		}
		prefix = p
		v *= 1000
	}
	return fmt.Sprintf("%.2f%s", v, prefix)
}

// Humanize1024 is Humanize with binary prefixes, for byte counts.
func Humanize1024(s string) string {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if math.Abs(v) <= 1 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%.4g", v)
	}
	prefix := ""
	for _, p := range []string{"ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"} {
		if math.Abs(v) < 1024 {
			break
		}
		prefix = p
		v /= 1024
	}
	return fmt.Sprintf("%.4g%s", v, prefix)
}

func HumanizeDuration(i interface{}) string {
	f, err := ToFloat64(i)
	if err != nil {
		return ToString(i)
	}
	return HumanizeDurationFloat64(f)
}

// HumanizeDurationFloat64 renders a duration in seconds as "2d 3h 4m 5s".
func HumanizeDurationFloat64(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%.4g", v)
	}
	if v == 0 {
		return fmt.Sprintf("%.4gs", v)
	}
	if math.Abs(v) >= 1 {
		sign := ""
		if v < 0 {
			sign = "-"
			v = -v
		}
		seconds := int64(v) % 60
		minutes := (int64(v) / 60) % 60
		hours := (int64(v) / 60 / 60) % 24
		days := int64(v) / 60 / 60 / 24
		if days != 0 {
			return fmt.Sprintf("%s%dd %dh %dm %ds", sign, days, hours, minutes, seconds)
		}
		if hours != 0 {
			return fmt.Sprintf("%s%dh %dm %ds", sign, hours, minutes, seconds)
		}
		if minutes != 0 {
			return fmt.Sprintf("%s%dm %ds", sign, minutes, seconds)
		}
		return fmt.Sprintf("%s%.4gs", sign, v)
	}
	prefix := ""
	for _, p := range []string{"m", "u", "n", "p", "f", "a", "z", "y"} {
		if math.Abs(v) >= 1 {
			break
		}
		prefix = p
		v *= 1000
	}
	return fmt.Sprintf("%.4g%ss", v, prefix)
}

// HumanizePercentage treats the input as a ratio, 0.985 becomes 98.50%.
func HumanizePercentage(s string) string {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func Args(args ...interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for i, a := range args {
		result[fmt.Sprintf("arg%d", i)] = a
	}
	return result
}

// ReReplaceAll leaves the text untouched when the pattern does not
// compile, a template author typo should not break a notification.
func ReReplaceAll(pattern, repl, text string) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return text
	}
	return re.ReplaceAllString(text, repl)
}
