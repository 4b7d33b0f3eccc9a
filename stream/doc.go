// Package stream implements the sender and receiver instances of the AES67
// virtual sound card and the lifecycle state machine they share.
//
// # Architecture Overview
//
// A stream instance ties three independent timelines together:
//
//   - the synchronized media clock (wall-clock time projected onto the
//     stream's sample rate)
//   - network packet arrival or departure on the RTP layer
//   - the host application's fixed-cadence service cycle
//
// The join point is the clock-addressed buffer from the buffer package:
// the network path writes (receiver) or reads (sender) at the media time
// carried in RTP timestamps, while the service cycle reads or writes at a
// playout or send time it chooses itself. Neither path ever blocks on the
// other.
//
// # Lifecycle
//
// Receivers move through Created → WarmingUp → Streaming and oscillate
// between Streaming and Muted while underruns are bridged with silence.
// Senders skip warm-up and stream immediately. A clock fault (the caller's
// timeline falling behind the buffer by more than its capacity, or time
// running backward) is terminal: the instance must be destroyed and
// recreated. All transitions are driven by the outcome of Receive/Send
// calls; the only background activity is the network goroutine feeding or
// draining the buffer.
//
// # Status codes
//
// Data-path calls report their outcome as a Status value rather than an
// error. Real-time callers branch on the status and substitute silence,
// retry or tear down; none of the expected conditions (NoData, warm-up,
// underrun) allocate or raise.
package stream
