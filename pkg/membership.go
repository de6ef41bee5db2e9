package phifd

import (
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"
)

// FDState is the single mutable object owned by the event loop (spec §5):
// the local membership table, the tuning configuration, and the local
// node's own heartbeat counter. It is never accessed from more than one
// goroutine at a time, so it carries no lock (spec §4.6, §5).
type FDState struct {
	members   map[MemberID]*PeerState
	config    *Config
	heartbeat uint64
	self      MemberID
	logger    *zap.Logger
}

// NewFDState creates an empty FDState for the given configuration. It fails
// if config.Addr is not IPv4 or config.WindowSize is below the minimum
// window capacity.
func NewFDState(config *Config, logger *zap.Logger) (*FDState, error) {
	self, err := encodeAddr(config.Addr)
	if err != nil {
		return nil, err
	}
	if _, err := NewInterArrivalWindow(config.WindowSize); err != nil {
		return nil, err
	}
	return &FDState{
		members: map[MemberID]*PeerState{},
		config:  config,
		self:    self,
		logger:  logger,
	}, nil
}

// NewFDStateWithMembers seeds an FDState with an initial set of known
// members (e.g. introducers supplied on the command line), in addition to
// the empty state NewFDState would produce.
func NewFDStateWithMembers(members []Member, config *Config, logger *zap.Logger) (*FDState, error) {
	state, err := NewFDState(config, logger)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		id := m.ID()
		if id == state.self {
			continue
		}
		state.members[id] = NewPeerState(m, config.WindowSize)
	}
	return state, nil
}

// Heartbeat returns the local node's current heartbeat counter.
func (s *FDState) Heartbeat() uint64 { return s.heartbeat }

// Self returns the local node's own MemberID, derived from config.Addr.
func (s *FDState) Self() MemberID { return s.self }

// Len reports how many peers are currently known.
func (s *FDState) Len() int { return len(s.members) }

// Snapshot returns every currently known Member record, in no particular
// order. Used to populate the `members` field of an outgoing gossip.
func (s *FDState) Snapshot() []Member {
	out := make([]Member, 0, len(s.members))
	for _, p := range s.members {
		out = append(out, p.Member())
	}
	return out
}

// Phi reports the suspicion level for the given peer at instant at. The
// second return value is false ("no value") if id is unknown or if the
// peer's window reports "no value" per spec §4.3.
func (s *FDState) Phi(id MemberID, at time.Time) (float64, bool) {
	p, ok := s.members[id]
	if !ok {
		return 0, false
	}
	return p.Phi(at)
}

// Merge integrates a sender's gossip into local state (spec §4.5). fromAddr
// is the UDP address the datagram actually arrived from; gossip carries the
// sender's heartbeat and its view of every other peer it knows.
//
// A non-IPv4 fromAddr or a candidate member whose MemberID equals our own
// are both dropped with a warning log; neither is fatal, since only
// startup-time address configuration errors are fatal (spec §7).
func (s *FDState) Merge(fromAddr *net.UDPAddr, gossip Gossip, now time.Time) {
	senderID, err := encodeAddr(fromAddr)
	if err != nil {
		s.logger.Warn("dropping gossip from non-IPv4 peer", zap.String("addr", fromAddr.String()))
		return
	}

	sender := Member{
		IP:        senderID.IP,
		Port:      uint32(senderID.Port),
		Heartbeat: gossip.Heartbeat,
	}

	candidates := make([]Member, 0, 1+len(gossip.Members))
	candidates = append(candidates, sender)
	candidates = append(candidates, gossip.Members...)

	for _, m := range candidates {
		id := m.ID()
		if id == s.self {
			s.logger.Warn("dropping self from received membership", zap.Stringer("addr", id))
			continue
		}
		s.upsert(m, now)
	}
}

func (s *FDState) upsert(m Member, now time.Time) {
	id := m.ID()
	p, ok := s.members[id]
	if !ok {
		s.members[id] = NewPeerState(m, s.config.WindowSize)
		return
	}
	p.Merge(m.Suspicion, m.Heartbeat, now)
}

// sample returns up to k peers chosen uniformly at random without
// replacement via a partial Fisher-Yates shuffle: the shuffle does only k
// swaps, though every member is first copied into a slice (spec §4.5,
// property B3: k > len never panics).
func (s *FDState) sample(k int) []*PeerState {
	all := make([]*PeerState, 0, len(s.members))
	for _, p := range s.members {
		all = append(all, p)
	}
	if k > len(all) {
		k = len(all)
	}
	for i := 0; i < k; i++ {
		j := i + rand.Intn(len(all)-i)
		all[i], all[j] = all[j], all[i]
	}
	return all[:k]
}

// Ping builds the per-tick Syn gossip targeted at up to
// config.NumMembersToPing randomly sampled peers, using the heartbeat as of
// *before* this tick's increment (spec §4.6: "pings sent at tick N carry
// heartbeat N, not N+1"). It does not advance the heartbeat; call Epoch
// after building the pings.
func (s *FDState) Ping() []Pong {
	peers := s.sample(s.config.NumMembersToPing)
	gossip := Gossip{
		Heartbeat: s.heartbeat,
		Kind:      KindSyn,
		Members:   s.Snapshot(),
	}
	out := make([]Pong, len(peers))
	for i, p := range peers {
		out[i] = Pong{Addr: decodeAddr(p.Member().ID()), Gossip: gossip}
	}
	return out
}

// Epoch advances the local heartbeat by exactly one (spec invariant I4).
func (s *FDState) Epoch() {
	s.heartbeat++
}

// Ack builds the Ack gossip to reply to a just-merged Syn from fromAddr.
// The heartbeat carried is the local heartbeat *after* the triggering merge
// but the tick's Epoch has not yet run for this round (spec §4.5).
func (s *FDState) Ack(fromAddr *net.UDPAddr) Pong {
	gossip := Gossip{
		Heartbeat: s.heartbeat,
		Kind:      KindAck,
		Members:   s.Snapshot(),
	}
	return Pong{Addr: fromAddr, Gossip: gossip}
}

// Pong is an outbound (destination, gossip) pair ready to hand to the
// boundary I/O sink.
type Pong struct {
	Addr   *net.UDPAddr
	Gossip Gossip
}
