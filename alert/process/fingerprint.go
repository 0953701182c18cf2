package process

import (
	"fmt"

	"github.com/toolkits/pkg/str"
)

// Fingerprint is the dedup identity of an alert. Only the four identity
// fields participate; value, timestamps and context never do, so repeats of
// the same condition always collide.
func Fingerprint(rule, metric, source, severity string) string {
	return str.MD5(fmt.Sprintf("%s|%s|%s|%s", rule, metric, source, severity))
}
