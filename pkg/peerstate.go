package phifd

import (
	"fmt"
	"time"
)

// minWindowCapacity is the smallest capacity InterArrivalWindow accepts
// (spec invariant I6). The value is retained purely as a backward-compatible
// configuration constant: the estimator itself is EWMA and never buffers a
// window of samples (spec §9).
const minWindowCapacity = 3

// InterArrivalWindow tracks the most recent arrival instant for one peer
// and feeds the gaps between arrivals into an InterArrivalDistribution.
// "Window" is a historical name: see spec §3.
type InterArrivalWindow struct {
	capacity   int
	dist       InterArrivalDistribution
	lastArrive time.Time
	hasLast    bool
}

// NewInterArrivalWindow creates a window with the given capacity. It fails
// deterministically (spec B1) when capacity < 3.
func NewInterArrivalWindow(capacity int) (*InterArrivalWindow, error) {
	if capacity < minWindowCapacity {
		return nil, fmt.Errorf("phifd: window capacity %d below minimum %d", capacity, minWindowCapacity)
	}
	return &InterArrivalWindow{capacity: capacity}, nil
}

// Capacity returns the configured capacity constant.
func (w *InterArrivalWindow) Capacity() int { return w.capacity }

// tick records an arrival at instant t. The first call only stores t; every
// later call computes the gap since the previous arrival and folds it into
// the distribution.
func (w *InterArrivalWindow) tick(t time.Time) {
	if w.hasLast {
		delta := t.Sub(w.lastArrive)
		w.dist.update(delta.Seconds())
	}
	w.lastArrive = t
	w.hasLast = true
}

// phi computes the suspicion level as of instant at. It returns false ("no
// value") when the peer has never been observed, when at predates the last
// observed arrival (clock skew guard), or when the distribution's σ is still
// zero (fewer than two gaps folded in, or only identical ones).
func (w *InterArrivalWindow) phi(at time.Time) (float64, bool) {
	if !w.hasLast {
		return 0, false
	}
	if w.lastArrive.After(at) {
		return 0, false
	}
	delta := at.Sub(w.lastArrive)
	if delta < 0 {
		delta = 0
	}
	return w.dist.phi(delta.Seconds())
}

// PeerState is the per-peer record kept by the membership table: the last
// known Member record, the instant it was last updated, and the inter-
// arrival bookkeeping used to derive φ.
type PeerState struct {
	member     Member
	lastUpdate time.Time
	window     *InterArrivalWindow
	capacity   int
}

// NewPeerState creates a freshly-learned PeerState for member, with no
// inter-arrival distribution yet (it is created lazily on the first merge).
func NewPeerState(member Member, capacity int) *PeerState {
	return &PeerState{
		member:     member,
		lastUpdate: time.Now(),
		capacity:   capacity,
	}
}

// Member returns the peer's last known Member record.
func (p *PeerState) Member() Member { return p.member }

// LastUpdate returns the instant this peer's state was last merged.
func (p *PeerState) LastUpdate() time.Time { return p.lastUpdate }

// Merge applies an incoming observation of this peer. It is a no-op unless
// heartbeat strictly exceeds the currently-known heartbeat (spec §4.4); the
// suspicion argument is accepted but not currently consulted (reserved,
// spec §9).
func (p *PeerState) Merge(suspicion float64, heartbeat uint64, now time.Time) {
	_ = suspicion
	if heartbeat <= p.member.Heartbeat {
		return
	}
	p.member.Heartbeat = heartbeat
	p.lastUpdate = now

	if p.window == nil {
		// Lazily constructed: NewFDState has already validated the
		// configured capacity, so this cannot fail for table members.
		w, _ := NewInterArrivalWindow(p.capacity)
		p.window = w
	}
	p.window.tick(now)
}

// Phi delegates to the peer's inter-arrival window, or reports "no value"
// if no window has been constructed yet (i.e. the peer has only ever been
// observed once).
func (p *PeerState) Phi(at time.Time) (float64, bool) {
	if p.window == nil {
		return 0, false
	}
	return p.window.phi(at)
}
