package game

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func TestRegen_KeepsPhase(t *testing.T) {
	recovered, at := Regen(2, 5, 30*time.Second, t0, t0.Add(95000*time.Millisecond))
	if recovered != 3 {
		t.Fatalf("recovered=%d want=3", recovered)
	}
	if want := t0.Add(90000 * time.Millisecond); !at.Equal(want) {
		t.Fatalf("updatedAt=%s want=%s", at, want)
	}
}

func TestRegen_CappedAtMax(t *testing.T) {
	recovered, at := Regen(4, 5, 30*time.Second, t0, t0.Add(10*time.Minute))
	if recovered != 1 {
		t.Fatalf("recovered=%d want=1", recovered)
	}
	if want := t0.Add(30 * time.Second); !at.Equal(want) {
		t.Fatalf("updatedAt=%s want=%s", at, want)
	}
}

func TestRegen_NoOps(t *testing.T) {
	cases := []struct {
		name     string
		energy   int
		interval time.Duration
		now      time.Time
	}{
		{"full", 5, 30 * time.Second, t0.Add(time.Hour)},
		{"under one interval", 1, 30 * time.Second, t0.Add(29 * time.Second)},
		{"clock went backwards", 1, 30 * time.Second, t0.Add(-time.Hour)},
		{"zero interval", 1, 0, t0.Add(time.Hour)},
	}
	for _, c := range cases {
		recovered, at := Regen(c.energy, 5, c.interval, t0, c.now)
		if recovered != 0 || !at.Equal(t0) {
			t.Fatalf("%s: recovered=%d at=%s", c.name, recovered, at)
		}
	}
}
