package core

import (
	"testing"

	"reactorboard/pkg/domain"
)

func TestIncludedLevels(t *testing.T) {
	cases := []struct {
		min  string
		want []domain.Level
	}{
		{"DEBUG", []domain.Level{domain.LevelDebug, domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}},
		{"INFO", []domain.Level{domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}},
		{"NOTICE", []domain.Level{domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}},
		{"WARNING", []domain.Level{domain.LevelWarning, domain.LevelError}},
		{"ERROR", []domain.Level{domain.LevelError}},
		{"verbose", []domain.Level{domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}},
		{"", []domain.Level{domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}},
		{"error", []domain.Level{domain.LevelError}},
	}
	for _, tc := range cases {
		t.Run(tc.min, func(t *testing.T) {
			got := IncludedLevels(tc.min)
			if len(got) != len(tc.want) {
				t.Fatalf("IncludedLevels(%q) = %v, want %v", tc.min, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("IncludedLevels(%q) = %v, want %v", tc.min, got, tc.want)
				}
			}
		})
	}
}

func TestIncludeLevelMonotonic(t *testing.T) {
	mins := []string{"DEBUG", "INFO", "NOTICE", "WARNING", "ERROR", "bogus"}
	for _, level := range domain.Levels {
		if !IncludeLevel(level, "ERROR") {
			continue
		}
		for _, m := range mins {
			if !IncludeLevel(level, m) {
				t.Fatalf("%s included at ERROR but not at %s", level, m)
			}
		}
	}
}

func TestDebugOnlyAtDebug(t *testing.T) {
	for _, m := range []string{"INFO", "NOTICE", "WARNING", "ERROR", "x"} {
		if IncludeLevel(domain.LevelDebug, m) {
			t.Fatalf("DEBUG leaked into %s", m)
		}
	}
	if !IncludeLevel(domain.LevelDebug, "debug") {
		t.Fatal("DEBUG excluded at DEBUG")
	}
}

func TestIncludedLevelsReturnsCopy(t *testing.T) {
	got := IncludedLevels("ERROR")
	got[0] = domain.LevelDebug
	if IncludedLevels("ERROR")[0] != domain.LevelError {
		t.Fatal("caller mutation leaked into inclusion set")
	}
}
