package role

import (
	"testing"

	"reactorboard/pkg/domain"
)

func TestGateLeaderDerivation(t *testing.T) {
	cases := []struct {
		name       string
		unit       string
		leaderHost string
		leader     bool
	}{
		{"same host", "leader1", "leader1", true},
		{"case insensitive", "Leader1", "leader1 ", true},
		{"worker", "worker3", "leader1", false},
		{"empty unit", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(tc.unit, tc.leaderHost)
			if g.IsLeader() != tc.leader {
				t.Fatalf("IsLeader = %v, want %v", g.IsLeader(), tc.leader)
			}
		})
	}
}

func TestGateRequire(t *testing.T) {
	if err := Leader("l1").Require("publish"); err != nil {
		t.Fatalf("leader require: %v", err)
	}
	err := Follower("w1", "l1").Require("publish")
	if err == nil {
		t.Fatal("expected role violation for follower")
	}
	if !domain.IsRoleViolation(err) {
		t.Fatalf("expected RoleViolation, got %T", err)
	}
	if got := Follower("w1", "l1").String(); got != "follower" {
		t.Fatalf("String = %q", got)
	}
}
