package capi

import (
	"errors"
	"net"
	"sync"

	aes67 "github.com/babymotte/aes67-vsc-2"
	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/sdp"
	"github.com/babymotte/aes67-vsc-2/stream"
	"github.com/sirupsen/logrus"
)

// Host owns the state behind the flat API: the virtual sound card and the
// handle table mapping numeric handles to stream instances. A binding layer
// keeps exactly one Host per process, but the state deliberately lives in
// an instance rather than package-level variables.
type Host struct {
	opts []aes67.Option
	log  *logrus.Entry

	mu          sync.RWMutex
	initialized bool
	card        *aes67.VirtualSoundCard
	receivers   map[int32]*stream.Receiver
	senders     map[int32]*stream.Sender
	nextHandle  int32
}

// NewHost creates an uninitialized host. Options are forwarded to the
// virtual sound card once it is created.
func NewHost(opts ...aes67.Option) *Host {
	return &Host{
		opts: opts,
		log:  logrus.WithFields(logrus.Fields{"component": "capi"}),
	}
}

// Initialize prepares the host for use. Every other call fails with
// NotInitialized until this has succeeded once.
func (h *Host) Initialize() Code {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return AlreadyInitialized
	}
	h.initialized = true
	h.receivers = make(map[int32]*stream.Receiver)
	h.senders = make(map[int32]*stream.Sender)
	h.nextHandle = 1
	h.log.Info("Host initialized")
	return OK
}

// Shutdown destroys the virtual sound card and all its streams and returns
// the host to the uninitialized state.
func (h *Host) Shutdown() Code {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return NotInitialized
	}
	if h.card != nil {
		h.card.Close()
		h.card = nil
	}
	h.initialized = false
	h.receivers = nil
	h.senders = nil
	h.log.Info("Host shut down")
	return OK
}

// CreateVirtualSoundCard creates the device all streams of this host belong
// to. A host owns at most one device.
func (h *Host) CreateVirtualSoundCard(name string) Code {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return NotInitialized
	}
	if h.card != nil {
		return AlreadyInitialized
	}
	h.card = aes67.New(name, h.opts...)
	return OK
}

// CreateReceiver creates a receiver from a session description and returns
// its handle. On failure the negated status code is returned instead.
func (h *Host) CreateReceiver(id, sessionDescription string, linkOffset, bufferTime float64, interfaceIP string) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return -int32(NotInitialized)
	}
	if h.card == nil {
		return -int32(VscNotCreated)
	}

	ifaceIP, code := parseInterfaceIP(interfaceIP)
	if code != OK {
		return -int32(code)
	}

	session, err := sdp.Parse(sessionDescription)
	if err != nil {
		return -int32(codeFor(err))
	}

	r, err := h.card.CreateReceiver(stream.RxDescriptor{
		ID:          id,
		Session:     session,
		LinkOffset:  linkOffset,
		BufferTime:  bufferTime,
		InterfaceIP: ifaceIP,
	})
	if err != nil {
		return -int32(codeFor(err))
	}

	handle := h.nextHandle
	h.nextHandle++
	h.receivers[handle] = r
	return handle
}

// CreateSender creates a sender towards the given destination and returns
// its handle. The format uses rtpmap notation, e.g. "L24/48000/2"; the
// destination is an address-port pair, e.g. "239.69.1.1:5004". On failure
// the negated status code is returned instead.
func (h *Host) CreateSender(id, format string, packetTime float64, payloadType uint8, destination string, bufferTime float64, interfaceIP string) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return -int32(NotInitialized)
	}
	if h.card == nil {
		return -int32(VscNotCreated)
	}

	ifaceIP, code := parseInterfaceIP(interfaceIP)
	if code != OK {
		return -int32(code)
	}

	audioFormat, err := media.ParseAudioFormat(format)
	if err != nil {
		return -int32(codeFor(err))
	}

	dest, err := net.ResolveUDPAddr("udp4", destination)
	if err != nil {
		return -int32(InvalidIp)
	}

	s, err := h.card.CreateSender(stream.TxDescriptor{
		ID:          id,
		Format:      audioFormat,
		PacketTime:  packetTime,
		PayloadType: payloadType,
		Destination: dest,
		BufferTime:  bufferTime,
		InterfaceIP: ifaceIP,
	})
	if err != nil {
		return -int32(codeFor(err))
	}

	handle := h.nextHandle
	h.nextHandle++
	h.senders[handle] = s
	return handle
}

// Receive copies frames beginning at the given playout time into out.
// Unlike the underlying instance it reports a misaligned buffer as a code
// rather than panicking, since a binding caller cannot recover a panic.
func (h *Host) Receive(handle int32, playoutTime uint64, out []float32) Code {
	h.mu.RLock()
	r, ok := h.receivers[handle]
	initialized := h.initialized
	h.mu.RUnlock()

	if !initialized {
		return NotInitialized
	}
	if !ok {
		return ReceiverNotFound
	}
	if len(out) == 0 || len(out)%r.Descriptor().Format().FrameFormat.Channels != 0 {
		return InvalidChannel
	}
	return receiveCode(r.Receive(media.MediaTime(playoutTime), out))
}

// Send places frames beginning at the given write time into the outgoing
// stream.
func (h *Host) Send(handle int32, writeTime uint64, in []float32) Code {
	h.mu.RLock()
	s, ok := h.senders[handle]
	initialized := h.initialized
	h.mu.RUnlock()

	if !initialized {
		return NotInitialized
	}
	if !ok {
		return SenderNotFound
	}
	if len(in) == 0 || len(in)%s.Descriptor().Format.FrameFormat.Channels != 0 {
		return InvalidChannel
	}
	return sendCode(s.Send(media.MediaTime(writeTime), in))
}

// DestroyReceiver tears down the receiver behind the handle.
func (h *Host) DestroyReceiver(handle int32) Code {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return NotInitialized
	}
	r, ok := h.receivers[handle]
	if !ok {
		return ReceiverNotFound
	}
	delete(h.receivers, handle)
	if err := h.card.DestroyReceiver(r.ID()); err != nil {
		return codeFor(err)
	}
	return OK
}

// DestroySender tears down the sender behind the handle.
func (h *Host) DestroySender(handle int32) Code {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return NotInitialized
	}
	s, ok := h.senders[handle]
	if !ok {
		return SenderNotFound
	}
	delete(h.senders, handle)
	if err := h.card.DestroySender(s.ID()); err != nil {
		return codeFor(err)
	}
	return OK
}

func parseInterfaceIP(s string) (net.IP, Code) {
	if s == "" {
		return nil, OK
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, InvalidIp
	}
	return ip, OK
}

// codeFor maps engine errors onto the stable code taxonomy.
func codeFor(err error) Code {
	switch {
	case errors.Is(err, stream.ErrUnsupportedSampleRate):
		return UnsupportedSampleRate
	case errors.Is(err, stream.ErrUnsupportedBitDepth):
		return UnsupportedBitDepth
	case errors.Is(err, stream.ErrInvalidChannelCount):
		return InvalidChannel
	case errors.Is(err, media.ErrUnknownSampleFormat), errors.Is(err, sdp.ErrUnsupportedFormat):
		return UnknownSampleFormat
	case errors.Is(err, sdp.ErrMalformedDescriptor):
		return InvalidSdp
	case errors.Is(err, aes67.ErrReceiverNotFound):
		return ReceiverNotFound
	case errors.Is(err, aes67.ErrSenderNotFound):
		return SenderNotFound
	case errors.Is(err, aes67.ErrClosed):
		return VscNotCreated
	default:
		return Other
	}
}

func receiveCode(s stream.Status) Code {
	switch s {
	case stream.StatusOK:
		return OK
	case stream.StatusNotReadyYet:
		return NotReadyYet
	case stream.StatusNoData:
		return NoData
	case stream.StatusUnderrun:
		return BufferUnderrun
	case stream.StatusClockFault:
		return ClockSyncError
	case stream.StatusDestroyed:
		return ReceiverNotFound
	default:
		return Other
	}
}

func sendCode(s stream.Status) Code {
	switch s {
	case stream.StatusOK:
		return OK
	case stream.StatusClockFault:
		return ClockSyncError
	case stream.StatusDestroyed:
		return SenderNotFound
	default:
		return Other
	}
}
