package phifd

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// EventLoop is the single-threaded cooperative scheduler fusing a periodic
// ticker, an inbound datagram stream, and an outbound send sink into one
// driven computation (spec §4.6). FDState is owned exclusively by the
// goroutine running Run; nothing else ever mutates it, so no lock is
// needed (spec §5).
type EventLoop struct {
	state  *FDState
	conn   *Conn
	logger *zap.Logger

	closing chan chan error
}

// NewEventLoop wires a state machine to a bound connection.
func NewEventLoop(state *FDState, conn *Conn, logger *zap.Logger) *EventLoop {
	return &EventLoop{
		state:   state,
		conn:    conn,
		logger:  logger,
		closing: make(chan chan error),
	}
}

// Shutdown requests the loop stop and waits for it to do so. It is safe to
// call concurrently with Run.
func (l *EventLoop) Shutdown() error {
	errch := make(chan error)
	l.closing <- errch
	return <-errch
}

// Run drives the loop until ctx is cancelled or Shutdown is called. It
// blocks for the lifetime of the loop; callers typically run it in its own
// goroutine.
//
// Ordering guarantees upheld here (spec §5):
//   - within one tick: sample peers, build gossip from that snapshot, THEN
//     advance the heartbeat — pings sent at tick N carry heartbeat N.
//   - between an inbound Syn and the Ack it provokes: the merge completes
//     before the Ack gossip is built, so the Ack reflects merged state.
func (l *EventLoop) Run(ctx context.Context) error {
	inbound := make(chan Inbound)
	recvErr := make(chan error, 1)
	go l.recvLoop(inbound, recvErr)

	timer := time.NewTimer(l.nextTick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case errch := <-l.closing:
			errch <- nil
			return nil

		case err := <-recvErr:
			return err

		case <-timer.C:
			l.onTick()
			timer.Reset(l.nextTick())

		case in := <-inbound:
			l.onInbound(in)
		}
	}
}

// recvLoop blocks on the connection and forwards each successfully-decoded
// datagram to the event loop. It terminates (and reports the terminal
// error) only when the underlying socket itself fails, e.g. because it was
// closed during shutdown.
func (l *EventLoop) recvLoop(out chan<- Inbound, errc chan<- error) {
	for {
		in, err := l.conn.Recv()
		if err != nil {
			errc <- err
			return
		}
		out <- in
	}
}

// nextTick computes the delay until the next tick, applying the
// configured jitter (spec §4.6 "Optional jitter"): a uniform random delay
// in [0, ticker_delay] is added on top of the base ping interval so
// cluster-wide pinging decorrelates. Disabled (zero added delay) when
// TickerDelay is zero.
func (l *EventLoop) nextTick() time.Duration {
	delay := l.state.config.PingInterval
	if jitter := l.state.config.TickerDelay; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	return delay
}

func (l *EventLoop) onTick() {
	pings := l.state.Ping()
	l.state.Epoch()

	for _, p := range pings {
		l.conn.Send(p)
	}
	l.logSuspicions()
}

func (l *EventLoop) onInbound(in Inbound) {
	switch in.Gossip.Kind {
	case KindSyn:
		l.state.Merge(in.Addr, in.Gossip, time.Now())
		ack := l.state.Ack(in.Addr)
		l.conn.Send(ack)
	case KindAck:
		l.state.Merge(in.Addr, in.Gossip, time.Now())
		// No reply: this concludes the one-round-trip exchange.
	default:
		l.logger.Warn("dropping gossip with unexpected kind tag",
			zap.Uint32("kind", uint32(in.Gossip.Kind)), zap.String("from", in.Addr.String()))
	}
}

// logSuspicions emits a debug-level φ reading for every peer that currently
// has a defined one. Grounded on the reference implementation's periodic
// diagnostic (SPEC_FULL.md, "SUPPLEMENTED FEATURES"); it never fails when φ is
// undefined for a peer, it just skips that peer.
func (l *EventLoop) logSuspicions() {
	if ce := l.logger.Check(zap.DebugLevel, "suspicion levels"); ce == nil {
		return
	}
	now := time.Now()
	for id, p := range l.state.members {
		if phi, ok := p.Phi(now); ok {
			l.logger.Debug("phi", zap.Stringer("peer", id), zap.Float64("phi", phi))
		}
	}
}
