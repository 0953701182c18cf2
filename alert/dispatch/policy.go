package dispatch

import (
	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/models"
)

// channelOrder fixes the fan-out order so the same alert always notifies the
// same way.
var channelOrder = []string{
	models.Email,
	models.Sms,
	models.Slack,
	models.Webhook,
	models.Telegram,
	models.Pagerduty,
	models.InApp,
}

// ChannelPolicy maps severity and escalation level to the channel set.
// Severity picks the base set, each escalation level widens it with the
// policy's escalation channels, and everything is filtered down to the
// channels that actually have a sender.
type ChannelPolicy struct {
	enabled  map[string]bool
	policies map[string]aconf.EscalationPolicy
}

func NewChannelPolicy(escalation aconf.EscalationConfig, enabled map[string]bool) *ChannelPolicy {
	policies := escalation.Policies
	if policies == nil {
		policies = aconf.DefaultPolicies()
	}
	return &ChannelPolicy{
		enabled:  enabled,
		policies: policies,
	}
}

// Policy returns the escalation policy for a severity, falling back to the
// builtin defaults.
func (p *ChannelPolicy) Policy(severity string) aconf.EscalationPolicy {
	if policy, has := p.policies[severity]; has {
		return policy
	}
	return aconf.DefaultPolicies()[severity]
}

// baseChannels is the level-0 set: the severity floor, unless the operator
// pinned initial_channels for that severity.
func (p *ChannelPolicy) baseChannels(severity string) []string {
	policy := p.Policy(severity)
	if len(policy.InitialChannels) > 0 {
		return policy.InitialChannels
	}

	switch severity {
	case models.SeverityCritical:
		return channelOrder
	case models.SeverityWarning:
		return []string{models.Email, models.Webhook, models.Slack, models.InApp}
	default:
		return []string{models.InApp}
	}
}

// ChannelsFor resolves the final channel list for one delivery: base set,
// plus the escalation channels once level > 0, deduplicated in first-seen
// order, filtered to enabled channels.
func (p *ChannelPolicy) ChannelsFor(severity string, level int) []string {
	candidates := p.baseChannels(severity)
	if level > 0 {
		candidates = append(append([]string{}, candidates...), p.Policy(severity).EscalationChannels...)
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, ch := range candidates {
		if seen[ch] || !p.enabled[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// Enabled reports whether the channel has a configured sender.
func (p *ChannelPolicy) Enabled(channel string) bool {
	return p.enabled[channel]
}
