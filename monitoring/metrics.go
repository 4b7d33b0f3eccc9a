// Package monitoring provides stream statistics for the virtual sound card:
// OpenTelemetry metric instruments and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter can be wired in via [InitProvider] so that metrics are scrapable
// from a standard /metrics endpoint. Instruments are cheap to record but not
// free; the stream engine records them on the network paths and on state
// transitions, never inside the real-time service cycle's copy loop.
package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VSC metrics.
const meterName = "github.com/babymotte/aes67-vsc-2"

// delayBuckets defines histogram bucket boundaries (in seconds) sized for
// network transit delays on a local audio network.
var delayBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.05, 0.1,
}

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PacketsReceived counts RTP packets accepted by receiver instances.
	PacketsReceived metric.Int64Counter

	// PacketsSent counts RTP packets emitted by sender instances.
	PacketsSent metric.Int64Counter

	// LateWrites counts writes dropped because their media time had already
	// left the buffer's retention window.
	LateWrites metric.Int64Counter

	// SequenceGaps counts RTP sequence number discontinuities.
	SequenceGaps metric.Int64Counter

	// Underruns counts transitions into the muted state.
	Underruns metric.Int64Counter

	// ClockFaults counts terminal clock synchronisation failures.
	ClockFaults metric.Int64Counter

	// NetworkDelay tracks the smoothed delay between a packet's media time
	// and the local media clock at arrival.
	NetworkDelay metric.Float64Histogram

	// ActiveStreams tracks the number of live stream instances. Use with
	// attribute.String("direction", "rx"|"tx").
	ActiveStreams metric.Int64UpDownCounter
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.PacketsReceived, err = m.Int64Counter("aes67.rtp.packets_received",
		metric.WithDescription("RTP packets accepted by receiver instances."),
	); err != nil {
		return nil, err
	}
	if met.PacketsSent, err = m.Int64Counter("aes67.rtp.packets_sent",
		metric.WithDescription("RTP packets emitted by sender instances."),
	); err != nil {
		return nil, err
	}
	if met.LateWrites, err = m.Int64Counter("aes67.buffer.late_writes",
		metric.WithDescription("Writes dropped because their media time was no longer retained."),
	); err != nil {
		return nil, err
	}
	if met.SequenceGaps, err = m.Int64Counter("aes67.rtp.sequence_gaps",
		metric.WithDescription("RTP sequence number discontinuities."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("aes67.stream.underruns",
		metric.WithDescription("Transitions into the muted state."),
	); err != nil {
		return nil, err
	}
	if met.ClockFaults, err = m.Int64Counter("aes67.stream.clock_faults",
		metric.WithDescription("Terminal clock synchronisation failures."),
	); err != nil {
		return nil, err
	}
	if met.NetworkDelay, err = m.Float64Histogram("aes67.rtp.network_delay",
		metric.WithDescription("Delay between packet media time and local media clock at arrival."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(delayBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("aes67.streams.active",
		metric.WithDescription("Number of live stream instances."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default creates a [Metrics] instance backed by the global OTel meter
// provider. Instrument creation against the global provider cannot fail.
func Default() *Metrics {
	m, _ := NewMetrics(otel.GetMeterProvider())
	return m
}

// StreamStats records metrics for one stream instance. The attribute set is
// built once at stream creation so that recording does not allocate per
// event. A nil *StreamStats is valid and records nothing.
type StreamStats struct {
	metrics *Metrics
	add     []metric.AddOption
	record  []metric.RecordOption
}

// ForStream returns a recorder bound to the given stream id and direction
// ("rx" or "tx").
func (m *Metrics) ForStream(id, direction string) *StreamStats {
	if m == nil {
		return nil
	}
	attrs := attribute.NewSet(
		attribute.String("stream", id),
		attribute.String("direction", direction),
	)
	return &StreamStats{
		metrics: m,
		add:     []metric.AddOption{metric.WithAttributeSet(attrs)},
		record:  []metric.RecordOption{metric.WithAttributeSet(attrs)},
	}
}

func (s *StreamStats) PacketsReceived(n int64) {
	if s == nil {
		return
	}
	s.metrics.PacketsReceived.Add(context.Background(), n, s.add...)
}

func (s *StreamStats) PacketSent() {
	if s == nil {
		return
	}
	s.metrics.PacketsSent.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) LateWrite() {
	if s == nil {
		return
	}
	s.metrics.LateWrites.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) SequenceGap() {
	if s == nil {
		return
	}
	s.metrics.SequenceGaps.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) Underrun() {
	if s == nil {
		return
	}
	s.metrics.Underruns.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) ClockFault() {
	if s == nil {
		return
	}
	s.metrics.ClockFaults.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) NetworkDelay(seconds float64) {
	if s == nil {
		return
	}
	s.metrics.NetworkDelay.Record(context.Background(), seconds, s.record...)
}

func (s *StreamStats) StreamOpened() {
	if s == nil {
		return
	}
	s.metrics.ActiveStreams.Add(context.Background(), 1, s.add...)
}

func (s *StreamStats) StreamClosed() {
	if s == nil {
		return
	}
	s.metrics.ActiveStreams.Add(context.Background(), -1, s.add...)
}
