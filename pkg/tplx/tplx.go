// Package tplx holds the helper functions available to notification
// templates. Template authors format values, timestamps and durations
// with these instead of pre-rendering everything in Go.
package tplx

import (
	"html/template"
	"net/url"
	"regexp"
	"strings"
)

var TemplateFuncMap = template.FuncMap{
	"escape":             url.PathEscape,
	"unescaped":          Unescaped,
	"urlconvert":         Urlconvert,
	"timeformat":         Timeformat,
	"timestamp":          Timestamp,
	"now":                Now,
	"args":               Args,
	"reReplaceAll":       ReReplaceAll,
	"match":              regexp.MatchString,
	"toUpper":            strings.ToUpper,
	"toLower":            strings.ToLower,
	"contains":           strings.Contains,
	"humanize":           Humanize,
	"humanize1024":       Humanize1024,
	"humanizeDuration":   HumanizeDuration,
	"humanizePercentage": HumanizePercentage,
	"add":                Add,
	"sub":                Subtract,
	"mul":                Multiply,
	"div":                Divide,
	"toString":           ToString,
	"formatDecimal":      FormatDecimal,
}
