package phifd

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind distinguishes the two legs of a gossip exchange: Syn initiates a
// round, Ack replies to one. There is never a second round trip.
type Kind uint32

const (
	KindSyn Kind = 0
	KindAck Kind = 1
)

// Member is the on-wire and in-memory representation of a peer the sender
// knows about. All four fields are required on the wire.
type Member struct {
	IP        uint32
	Port      uint32
	Suspicion float64
	Heartbeat uint64
}

// ID returns the MemberID this Member record identifies.
func (m Member) ID() MemberID {
	return MemberID{IP: m.IP, Port: uint16(m.Port)}
}

// Gossip is the message exchanged between two peers: the sender's current
// heartbeat, the kind of exchange, and the sender's entire known membership
// (excluding itself).
type Gossip struct {
	Heartbeat uint64
	Kind      Kind
	Members   []Member
}

// Wire field numbers, kept stable for interoperability (spec §6).
const (
	fieldMemberIP        = 1
	fieldMemberPort      = 2
	fieldMemberSuspicion = 3
	fieldMemberHeartbeat = 4

	fieldGossipHeartbeat = 1
	fieldGossipMembers   = 2
	fieldGossipKind      = 3
)

// encodeMember appends the raw (unframed) field-sequence encoding of m to
// buf; the caller adds the length-delimited framing.
func encodeMember(buf []byte, m Member) []byte {
	buf = protowire.AppendTag(buf, fieldMemberIP, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.IP))
	buf = protowire.AppendTag(buf, fieldMemberPort, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Port))
	buf = protowire.AppendTag(buf, fieldMemberSuspicion, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(m.Suspicion))
	buf = protowire.AppendTag(buf, fieldMemberHeartbeat, protowire.VarintType)
	buf = protowire.AppendVarint(buf, m.Heartbeat)
	return buf
}

// decodeMember parses a Member out of a raw (unframed) field-sequence.
func decodeMember(data []byte) (Member, error) {
	var m Member
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Member{}, fmt.Errorf("phifd: malformed member tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldMemberIP:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Member{}, fmt.Errorf("phifd: malformed member.ip: %w", protowire.ParseError(n))
			}
			m.IP = uint32(v)
			data = data[n:]
		case fieldMemberPort:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Member{}, fmt.Errorf("phifd: malformed member.port: %w", protowire.ParseError(n))
			}
			m.Port = uint32(v)
			data = data[n:]
		case fieldMemberSuspicion:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return Member{}, fmt.Errorf("phifd: malformed member.suspicion: %w", protowire.ParseError(n))
			}
			m.Suspicion = math.Float64frombits(v)
			data = data[n:]
		case fieldMemberHeartbeat:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Member{}, fmt.Errorf("phifd: malformed member.heartbeat: %w", protowire.ParseError(n))
			}
			m.Heartbeat = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Member{}, fmt.Errorf("phifd: malformed member field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}

// EncodeGossip serializes g into a length-delimited wire payload suitable
// for a single UDP datagram.
func EncodeGossip(g Gossip) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldGossipHeartbeat, protowire.VarintType)
	buf = protowire.AppendVarint(buf, g.Heartbeat)

	for _, m := range g.Members {
		var mbuf []byte
		mbuf = encodeMember(mbuf, m)
		buf = protowire.AppendTag(buf, fieldGossipMembers, protowire.BytesType)
		buf = protowire.AppendBytes(buf, mbuf)
	}

	buf = protowire.AppendTag(buf, fieldGossipKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(g.Kind))
	return buf
}

// ErrMalformedGossip is returned by DecodeGossip when the buffer cannot be
// parsed as a Gossip message. Per spec §7 this is always recoverable: the
// caller drops the datagram and keeps the event loop alive.
var ErrMalformedGossip = errors.New("phifd: malformed gossip datagram")

// DecodeGossip parses a Gossip out of a raw datagram payload. A parse
// failure returns ErrMalformedGossip (wrapped with detail); it is never a
// fatal condition.
func DecodeGossip(data []byte) (Gossip, error) {
	var g Gossip
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Gossip{}, fmt.Errorf("%w: tag: %v", ErrMalformedGossip, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldGossipHeartbeat:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Gossip{}, fmt.Errorf("%w: heartbeat: %v", ErrMalformedGossip, protowire.ParseError(n))
			}
			g.Heartbeat = v
			data = data[n:]
		case fieldGossipMembers:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Gossip{}, fmt.Errorf("%w: members: %v", ErrMalformedGossip, protowire.ParseError(n))
			}
			member, err := decodeMember(v)
			if err != nil {
				return Gossip{}, fmt.Errorf("%w: %v", ErrMalformedGossip, err)
			}
			g.Members = append(g.Members, member)
			data = data[n:]
		case fieldGossipKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Gossip{}, fmt.Errorf("%w: kind: %v", ErrMalformedGossip, protowire.ParseError(n))
			}
			g.Kind = Kind(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Gossip{}, fmt.Errorf("%w: field %d: %v", ErrMalformedGossip, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return g, nil
}
