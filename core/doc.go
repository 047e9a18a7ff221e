// Package core contains the domain model shared by every Watchtower
// component: check results and health reports, agent run aggregates,
// the issue lifecycle with SLA tracking, baselines and anomaly results,
// and the issue tracker engine.
package core
