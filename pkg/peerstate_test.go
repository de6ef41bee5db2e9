package phifd

import (
	"testing"
	"time"
)

// TestWindowCapacityBelowMinimumFails covers boundary behavior B1.
func TestWindowCapacityBelowMinimumFails(t *testing.T) {
	if _, err := NewInterArrivalWindow(2); err == nil {
		t.Fatal("expected an error for capacity < 3")
	}
	if _, err := NewInterArrivalWindow(3); err != nil {
		t.Fatalf("capacity == 3 should be accepted, got %v", err)
	}
}

// TestPhiUndefinedBeforeSecondTick covers boundary behavior B2.
func TestPhiUndefinedBeforeSecondTick(t *testing.T) {
	w, err := NewInterArrivalWindow(3)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	w.tick(now)
	if _, ok := w.phi(now.Add(time.Second)); ok {
		t.Fatal("phi should be undefined before a second tick is observed")
	}

	// The second tick folds in one 2s gap: σ is still 0, so still no value.
	w.tick(now.Add(2 * time.Second))
	if _, ok := w.phi(now.Add(3 * time.Second)); ok {
		t.Fatal("phi should be undefined while only one inter-arrival gap is known")
	}

	// A third tick adds a differing 3s gap, giving a non-zero σ.
	w.tick(now.Add(5 * time.Second))
	if _, ok := w.phi(now.Add(6 * time.Second)); !ok {
		t.Fatal("phi should be defined once two differing gaps are known")
	}
}

// TestPhiClockSkewGuard ensures a last-seen time after the query instant
// never invents a negative duration (spec §4.3, §7).
func TestPhiClockSkewGuard(t *testing.T) {
	w, _ := NewInterArrivalWindow(3)
	now := time.Now()
	w.tick(now)
	w.tick(now.Add(time.Second))

	if _, ok := w.phi(now.Add(-time.Hour)); ok {
		t.Fatal("phi should be undefined when queried before the last arrival")
	}
}

// TestMergeHeartbeatMonotonicUnderReorder covers spec §8 scenario S3: the
// final heartbeat is the max seen, and the window ticks exactly twice.
func TestMergeHeartbeatMonotonicUnderReorder(t *testing.T) {
	p := NewPeerState(Member{IP: 1, Port: 1}, 3)

	now := time.Now()
	sequence := []uint64{5, 3, 7, 7, 4}
	var ticks int
	var lastHeartbeat uint64
	for i, hb := range sequence {
		before := p.member.Heartbeat
		p.Merge(0, hb, now.Add(time.Duration(i)*time.Second))
		if p.member.Heartbeat != before {
			ticks++
		}
		lastHeartbeat = p.member.Heartbeat
	}

	if lastHeartbeat != 7 {
		t.Fatalf("final heartbeat = %d, want 7", lastHeartbeat)
	}
	if ticks != 2 {
		t.Fatalf("window ticked %d times, want 2", ticks)
	}
}

// TestMergeIsNoOpForNonIncreasingHeartbeat ensures a stale or equal
// heartbeat never regresses the stored member state.
func TestMergeIsNoOpForNonIncreasingHeartbeat(t *testing.T) {
	p := NewPeerState(Member{IP: 1, Port: 1, Heartbeat: 10}, 3)
	now := time.Now()

	p.Merge(0, 10, now)
	if p.member.Heartbeat != 10 {
		t.Fatalf("equal heartbeat should be a no-op, got %d", p.member.Heartbeat)
	}

	p.Merge(0, 5, now)
	if p.member.Heartbeat != 10 {
		t.Fatalf("lower heartbeat should be a no-op, got %d", p.member.Heartbeat)
	}
}
