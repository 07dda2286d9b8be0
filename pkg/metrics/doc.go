// Package metrics registers the agent's Prometheus collectors: task state
// transition counters, status-update pipeline counters, framework message
// counters and registration gauges. The same numbers back /stats.json.
package metrics
