package phifd

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxDatagramSize bounds the buffer used to read inbound datagrams. Spec §6
// notes implementers should keep member lists small enough to stay under
// ~1400 bytes to avoid IP fragmentation, but this layer itself does not
// enforce an MTU — it just needs a buffer large enough for the OS to hand
// back whatever arrived.
const maxDatagramSize = 65507

// Conn is the UDP boundary (spec C8): a thin framed wrapper around a bound
// socket, decoding with the C2 codec on the way in and encoding on the way
// out.
type Conn struct {
	pc     *net.UDPConn
	logger *zap.Logger
}

// Listen binds a UDP socket to addr. A bind failure is fatal at startup
// (spec §7).
func Listen(addr *net.UDPAddr, logger *zap.Logger) (*Conn, error) {
	pc, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("phifd: bind %s: %w", addr, err)
	}
	return &Conn{pc: pc, logger: logger}, nil
}

// LocalAddr returns the address actually bound, which may differ from the
// requested one (e.g. port 0 resolving to an ephemeral port).
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.pc.LocalAddr().(*net.UDPAddr)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// Inbound is one successfully-decoded datagram, tagged with the address it
// arrived from.
type Inbound struct {
	Addr   *net.UDPAddr
	Gossip Gossip
}

// Recv blocks until the next inbound event: either a successfully-decoded
// datagram, or a terminal error (e.g. the socket was closed). Malformed
// datagrams are dropped and logged internally; they never surface as a
// terminal error, matching the "keep the loop alive" policy in spec §7.
// Decoding happens here, off the event-loop goroutine, but it only touches
// the received bytes — never FDState — so it introduces no race.
func (c *Conn) Recv() (Inbound, error) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.pc.ReadFromUDP(buf)
		if err != nil {
			if isRecoverableReadError(err) {
				c.logger.Warn("recoverable udp read error, continuing", zap.Error(err))
				continue
			}
			return Inbound{}, err
		}

		gossip, err := DecodeGossip(buf[:n])
		if err != nil {
			c.logger.Warn("dropping malformed datagram",
				zap.String("from", addr.String()), zap.Error(err))
			continue
		}
		return Inbound{Addr: addr, Gossip: gossip}, nil
	}
}

// isRecoverableReadError reports whether err from ReadFromUDP reflects a
// stale condition the loop should shrug off rather than treat as the socket
// dying. An unconnected UDP socket can surface a delayed ICMP
// port-unreachable from a *previous* send as ECONNREFUSED on a later read;
// that belongs to a send we already gave up on (spec §7), not to this read.
// Everything else (in particular the socket being closed) is terminal.
func isRecoverableReadError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	return errors.Is(err, syscall.Errno(unix.ECONNREFUSED))
}

// Send writes a gossip to its destination. UDP sends are best-effort: a
// failure is logged but otherwise ignored (spec §7, "UDP send failure:
// ignored").
func (c *Conn) Send(p Pong) {
	buf := EncodeGossip(p.Gossip)
	if _, err := c.pc.WriteToUDP(buf, p.Addr); err != nil {
		c.logger.Warn("udp send failed", zap.String("to", p.Addr.String()), zap.Error(err))
	}
}
