// Package role holds the process-wide leader/follower fact.
//
// A Gate is built once at startup from the unit's configured identity and is
// passed by value to every component that must distinguish leader-only
// behaviour (central store access, transport publish, log ingest, exports).
// It has no setters.
package role

import (
	"strings"

	"reactorboard/pkg/domain"
)

// Gate records whether this process runs on the fleet leader.
type Gate struct {
	unit       string
	leaderHost string
}

// NewGate derives the role from the unit name and the configured leader
// hostname. Comparison ignores case and surrounding whitespace.
func NewGate(unit, leaderHost string) Gate {
	return Gate{unit: strings.TrimSpace(unit), leaderHost: strings.TrimSpace(leaderHost)}
}

// Leader returns a gate for a leader process named unit.
func Leader(unit string) Gate { return NewGate(unit, unit) }

// Follower returns a gate for unit whose leader is leaderHost.
func Follower(unit, leaderHost string) Gate { return NewGate(unit, leaderHost) }

// IsLeader reports whether this process is the fleet leader.
func (g Gate) IsLeader() bool {
	return g.unit != "" && strings.EqualFold(g.unit, g.leaderHost)
}

// Unit is this process's unit name.
func (g Gate) Unit() string { return g.unit }

// LeaderHost is the hostname of the fleet leader.
func (g Gate) LeaderHost() string { return g.leaderHost }

// Require returns a RoleViolation naming operation when the process is not
// the leader.
func (g Gate) Require(operation string) error {
	if g.IsLeader() {
		return nil
	}
	return &domain.RoleViolation{Operation: operation, Unit: g.unit}
}

func (g Gate) String() string {
	if g.IsLeader() {
		return "leader"
	}
	return "follower"
}
