// Package alerts implements the rule evaluation engine and webhook delivery
// for campaign and attribution alerting. Rules are "field op value"
// expressions evaluated against each received record; alerts move through a
// firing/resolved lifecycle and are delivered to Teams, Slack, or generic
// HTTP webhooks.
package alerts
