// Package api serves the agent's read-only observability surface: /vars
// (plain-text build and host facts), /stats.json (the counter block),
// /state.json (a consistent catalog snapshot taken on the agent's event
// loop) and /metrics (Prometheus). Nothing here mutates agent state.
package api
