// Package phifd implements a phi-accrual failure detector for a peer-to-peer
// cluster: each node gossips membership and heartbeat information with a
// randomly chosen subset of peers over UDP, and for every known peer
// maintains a statistical model of inter-arrival times from which it
// derives a continuous suspicion level φ. Consumers read Phi(peer, now) and
// apply their own threshold; this package never decides alive/dead itself.
//
// The key points of this implementation are the following:
//   - every node's knowledge of the cluster is limited to what it has
//     learned via gossip; there is no central directory.
//   - on every tick, the node exchanges its current heartbeat and its full
//     membership view with a small random sample of known peers via a
//     Syn/Ack exchange.
//   - a member, once learned, is retained for the life of the process; this
//     package does not evict stale peers (spec-level non-goal).
package phifd
