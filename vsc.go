// Package aes67 implements a virtual sound card for AES67 audio-over-IP
// streams: RTP-encapsulated linear PCM, multicast delivery and playout
// timing derived from a network-synchronized TAI clock.
//
// The package root is the registry: a VirtualSoundCard owns receiver and
// sender instances and is the only way to create, look up and destroy them.
// The heavy lifting lives in the subpackages: media (formats and the media
// clock), sdp (session negotiation), buffer (the clock-addressed frame
// store), stream (instance state machines and RTP ingress/egress), capi
// (the flat handle-based host API) and monitoring (OpenTelemetry metrics).
package aes67

import (
	"fmt"
	"sort"
	"sync"

	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/monitoring"
	"github.com/babymotte/aes67-vsc-2/stream"
	"github.com/sirupsen/logrus"
)

// VirtualSoundCard is the registry owning every stream instance of one
// virtual device. All instance state lives here and is reached only through
// the registry's methods; there are no process-wide singletons.
//
// The registry is a control-path object: its methods take a lock and are
// meant for creation, lookup and teardown at API timescales. The instances
// it hands out carry their own lock-free data paths.
type VirtualSoundCard struct {
	name    string
	clock   media.Clock
	metrics *monitoring.Metrics
	log     *logrus.Entry

	mu        sync.RWMutex
	receivers map[string]*stream.Receiver
	senders   map[string]*stream.Sender
	closed    bool
}

// Option customizes a VirtualSoundCard at creation.
type Option func(*VirtualSoundCard)

// WithClock pins all stream instances to the given media clock instead of
// deriving a system clock per sample rate. Intended for tests.
func WithClock(c media.Clock) Option {
	return func(v *VirtualSoundCard) {
		v.clock = c
	}
}

// WithMetrics selects the metrics instruments stream statistics are
// recorded on. The default records against the global meter provider.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(v *VirtualSoundCard) {
		v.metrics = m
	}
}

// New creates an empty virtual sound card.
func New(name string, opts ...Option) *VirtualSoundCard {
	v := &VirtualSoundCard{
		name:      name,
		log:       logrus.WithFields(logrus.Fields{"vsc": name}),
		receivers: make(map[string]*stream.Receiver),
		senders:   make(map[string]*stream.Sender),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.metrics == nil {
		v.metrics = monitoring.Default()
	}
	v.log.Info("Virtual sound card created")
	return v
}

// Name returns the device name.
func (v *VirtualSoundCard) Name() string {
	return v.name
}

func (v *VirtualSoundCard) clockFor(sampleRate int) media.Clock {
	if v.clock != nil {
		return v.clock
	}
	return media.NewSystemClock(sampleRate)
}

// CreateReceiver instantiates a receiver for the given descriptor and
// registers it under its id. A failed create leaves no instance behind.
func (v *VirtualSoundCard) CreateReceiver(desc stream.RxDescriptor) (*stream.Receiver, error) {
	if desc.ID == "" {
		return nil, ErrEmptyID
	}
	if desc.Session == nil {
		return nil, stream.ErrNoSession
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	if _, ok := v.receivers[desc.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrReceiverExists, desc.ID)
	}

	r, err := stream.NewReceiver(desc, v.clockFor(desc.Format().SampleRate), v.metrics.ForStream(desc.ID, "rx"))
	if err != nil {
		return nil, err
	}
	v.receivers[desc.ID] = r
	return r, nil
}

// CreateSender instantiates a sender for the given descriptor and registers
// it under its id. A failed create leaves no instance behind.
func (v *VirtualSoundCard) CreateSender(desc stream.TxDescriptor) (*stream.Sender, error) {
	if desc.ID == "" {
		return nil, ErrEmptyID
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	if _, ok := v.senders[desc.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSenderExists, desc.ID)
	}

	s, err := stream.NewSender(desc, v.metrics.ForStream(desc.ID, "tx"))
	if err != nil {
		return nil, err
	}
	v.senders[desc.ID] = s
	return s, nil
}

// Receiver looks up a registered receiver by id.
func (v *VirtualSoundCard) Receiver(id string) (*stream.Receiver, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	r, ok := v.receivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReceiverNotFound, id)
	}
	return r, nil
}

// Sender looks up a registered sender by id.
func (v *VirtualSoundCard) Sender(id string) (*stream.Sender, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s, ok := v.senders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSenderNotFound, id)
	}
	return s, nil
}

// DestroyReceiver tears down the receiver registered under id and removes
// it from the registry.
func (v *VirtualSoundCard) DestroyReceiver(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.receivers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, id)
	}
	delete(v.receivers, id)
	r.Destroy()
	return nil
}

// DestroySender tears down the sender registered under id and removes it
// from the registry.
func (v *VirtualSoundCard) DestroySender(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.senders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSenderNotFound, id)
	}
	delete(v.senders, id)
	s.Destroy()
	return nil
}

// ReceiverIDs returns the ids of all registered receivers in sorted order.
func (v *VirtualSoundCard) ReceiverIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.receivers))
	for id := range v.receivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SenderIDs returns the ids of all registered senders in sorted order.
func (v *VirtualSoundCard) SenderIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.senders))
	for id := range v.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close destroys every registered instance and rejects all further
// creates. Close is idempotent.
func (v *VirtualSoundCard) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	for id, r := range v.receivers {
		r.Destroy()
		delete(v.receivers, id)
	}
	for id, s := range v.senders {
		s.Destroy()
		delete(v.senders, id)
	}
	v.log.Info("Virtual sound card closed")
}
