package phifd

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mustListen(t *testing.T, port int) *Conn {
	t.Helper()
	conn, err := Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

// TestTwoNodeBootstrap covers spec §8 scenario S1: node A starts with no
// introducers, node B starts knowing about A. After a few ticks both
// tables contain exactly one peer (the other), with heartbeats that have
// advanced, and A's view of B has a defined, low phi.
func TestTwoNodeBootstrap(t *testing.T) {
	portA, portB := 21001, 21002
	cfg := func(port int) *Config {
		return NewConfig().
			WithAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}).
			WithPingInterval(20 * time.Millisecond).
			WithNumMembersToPing(3)
	}

	logger := zap.NewNop()

	stateA, err := NewFDState(cfg(portA), logger)
	if err != nil {
		t.Fatal(err)
	}
	connA := mustListen(t, portA)
	defer connA.Close()
	loopA := NewEventLoop(stateA, connA, logger)

	bMember := Member{IP: ipLiteral(127, 0, 0, 1), Port: uint32(portA)}
	stateB, err := NewFDStateWithMembers([]Member{bMember}, cfg(portB), logger)
	if err != nil {
		t.Fatal(err)
	}
	connB := mustListen(t, portB)
	defer connB.Close()
	loopB := NewEventLoop(stateB, connB, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loopA.Run(ctx)
	go loopB.Run(ctx)

	deadline := time.After(2 * time.Second)
	idA := MemberID{IP: ipLiteral(127, 0, 0, 1), Port: uint16(portB)}
	idB := MemberID{IP: ipLiteral(127, 0, 0, 1), Port: uint16(portA)}

	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for mutual discovery: A knows %d peers, B knows %d peers",
				stateA.Len(), stateB.Len())
		default:
		}

		_, aKnowsB := stateA.members[idA]
		_, bKnowsA := stateB.members[idB]
		if aKnowsB && bKnowsA && stateA.Heartbeat() >= 4 && stateB.Heartbeat() >= 4 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := stateA.Len(); got != 1 {
		t.Fatalf("A knows %d peers, want exactly 1", got)
	}
	if got := stateB.Len(); got != 1 {
		t.Fatalf("B knows %d peers, want exactly 1", got)
	}

	phi, ok := stateA.Phi(idA, time.Now())
	if !ok {
		t.Fatal("phi(A->B) should be defined after several ticks")
	}
	if phi >= 1 {
		t.Fatalf("phi(A->B) = %v, want < 1 for a freshly-ticking peer", phi)
	}
}

func ipLiteral(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// TestMalformedDatagramDoesNotKillLoop covers spec §8 scenario S6: a short
// garbage payload is dropped, and the loop still answers a subsequent
// valid Syn with an Ack.
func TestMalformedDatagramDoesNotKillLoop(t *testing.T) {
	port := 21010
	logger := zap.NewNop()

	cfg := NewConfig().
		WithAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}).
		WithPingInterval(time.Hour) // disable ticking noise for this test

	state, err := NewFDState(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	conn := mustListen(t, port)
	defer conn.Close()
	loop := NewEventLoop(state, conn, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Write([]byte{1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	valid := EncodeGossip(Gossip{Heartbeat: 1, Kind: KindSyn})
	if _, err := client.Write(valid); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, maxDatagramSize)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("expected an ack after the malformed datagram was dropped: %v", err)
	}
	ack, err := DecodeGossip(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if ack.Kind != KindAck {
		t.Fatalf("expected an ack, got kind %d", ack.Kind)
	}
}
