// Package sdp extracts AES67 stream parameters from SDP session
// descriptions.
//
// It uses the pion/sdp library for standards-compliant SDP parsing and
// reduces the result to the handful of values the stream engine needs:
// transport address, payload type, audio format and packet time. Timing
// parameters (link offset, buffer time) are deliberately not part of the
// session description; they come from the receiver's own configuration.
package sdp

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/babymotte/aes67-vsc-2/media"
	pionsdp "github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// DefaultPacketTime is assumed when the session description carries no
// a=ptime attribute. 1 ms is the AES67 baseline packet time.
const DefaultPacketTime = 1.0

// Session holds the stream parameters extracted from a session description.
type Session struct {
	// OriginIP is the sender's unicast address from the o= line. The
	// receiver drops packets arriving from any other source.
	OriginIP net.IP

	// DestIP is the connection address the media is sent to, usually a
	// multicast group.
	DestIP net.IP

	// Port is the destination UDP port from the media line.
	Port int

	// PayloadType is the dynamic RTP payload type announced in the media
	// line and bound to the audio format by the rtpmap attribute.
	PayloadType uint8

	// Format is the negotiated audio format.
	Format media.AudioFormat

	// PacketTime is the announced packet time in milliseconds.
	PacketTime float64

	// RTPOffset is the static timestamp offset announced via
	// a=mediaclk:direct=<offset>, zero if absent.
	RTPOffset uint32
}

// Multicast reports whether the session's destination is a multicast group.
func (s *Session) Multicast() bool {
	return s.DestIP != nil && s.DestIP.IsMulticast()
}

// Addr returns the UDP destination address of the session.
func (s *Session) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: s.DestIP, Port: s.Port}
}

// Parse extracts the stream parameters from an SDP document.
//
// It fails with ErrMalformedDescriptor if the media line or the matching
// rtpmap line is absent or unparsable, and with ErrUnsupportedFormat if the
// announced encoding is not L16 or L24. No partial result is returned on
// failure.
func Parse(text string) (*Session, error) {
	var sd pionsdp.SessionDescription
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	if len(sd.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("%w: media description is missing", ErrMalformedDescriptor)
	}
	if len(sd.MediaDescriptions) > 1 {
		return nil, fmt.Errorf("%w: redundant streams are not supported", ErrMalformedDescriptor)
	}

	md := sd.MediaDescriptions[0]
	if md.MediaName.Media != "audio" {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrMalformedDescriptor, md.MediaName.Media)
	}
	if !containsAll(md.MediaName.Protos, "RTP", "AVP") {
		return nil, fmt.Errorf("%w: unsupported media protocols %v, only RTP/AVP is supported", ErrMalformedDescriptor, md.MediaName.Protos)
	}
	if len(md.MediaName.Formats) == 0 {
		return nil, fmt.Errorf("%w: media line carries no payload type", ErrMalformedDescriptor)
	}

	payloadType, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload type %q", ErrMalformedDescriptor, md.MediaName.Formats[0])
	}

	format, err := parseRtpmap(md, uint8(payloadType))
	if err != nil {
		return nil, err
	}

	destIP, err := connectionAddress(&sd, md)
	if err != nil {
		return nil, err
	}

	session := &Session{
		DestIP:      destIP,
		Port:        md.MediaName.Port.Value,
		PayloadType: uint8(payloadType),
		Format:      format,
		PacketTime:  DefaultPacketTime,
	}

	if sd.Origin.UnicastAddress != "" {
		session.OriginIP = net.ParseIP(sd.Origin.UnicastAddress)
	}

	if ptime, ok := attribute(md, "ptime"); ok {
		pt, err := strconv.ParseFloat(ptime, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ptime %q", ErrMalformedDescriptor, ptime)
		}
		session.PacketTime = pt
	}

	if mediaclk, ok := attribute(md, "mediaclk"); ok {
		if offset, ok := strings.CutPrefix(mediaclk, "direct="); ok {
			v, err := strconv.ParseUint(offset, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid mediaclk offset %q", ErrMalformedDescriptor, offset)
			}
			session.RTPOffset = uint32(v)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Parse",
		"destination":  session.Addr().String(),
		"payload_type": session.PayloadType,
		"format":       session.Format.String(),
		"packet_time":  session.PacketTime,
	}).Debug("Parsed session description")

	return session, nil
}

// parseRtpmap locates the rtpmap attribute bound to the given payload type
// and decodes its encoding/rate/channels triple.
func parseRtpmap(md *pionsdp.MediaDescription, payloadType uint8) (media.AudioFormat, error) {
	var mapping string
	prefix := fmt.Sprintf("%d ", payloadType)
	for _, attr := range md.Attributes {
		if attr.Key == "rtpmap" && strings.HasPrefix(attr.Value, prefix) {
			mapping = strings.TrimPrefix(attr.Value, prefix)
			break
		}
	}
	if mapping == "" {
		return media.AudioFormat{}, fmt.Errorf("%w: no rtpmap for payload type %d", ErrMalformedDescriptor, payloadType)
	}

	parts := strings.Split(strings.TrimSpace(mapping), "/")
	if len(parts) < 2 {
		return media.AudioFormat{}, fmt.Errorf("%w: invalid rtpmap %q", ErrMalformedDescriptor, mapping)
	}

	sampleFormat, err := media.ParseSampleFormat(parts[0])
	if err != nil {
		return media.AudioFormat{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, parts[0])
	}

	sampleRate, err := strconv.Atoi(parts[1])
	if err != nil {
		return media.AudioFormat{}, fmt.Errorf("%w: invalid sample rate %q", ErrMalformedDescriptor, parts[1])
	}

	channels := 1
	if len(parts) > 2 {
		channels, err = strconv.Atoi(parts[2])
		if err != nil {
			return media.AudioFormat{}, fmt.Errorf("%w: invalid channel count %q", ErrMalformedDescriptor, parts[2])
		}
	}

	return media.AudioFormat{
		SampleRate: sampleRate,
		FrameFormat: media.FrameFormat{
			Channels:     channels,
			SampleFormat: sampleFormat,
		},
	}, nil
}

// connectionAddress resolves the media connection address, preferring the
// media-level c= line over the session-level one.
func connectionAddress(sd *pionsdp.SessionDescription, md *pionsdp.MediaDescription) (net.IP, error) {
	ci := md.ConnectionInformation
	if ci == nil {
		ci = sd.ConnectionInformation
	}
	if ci == nil || ci.Address == nil {
		return nil, fmt.Errorf("%w: connection data is missing", ErrMalformedDescriptor)
	}
	if ci.NetworkType != "IN" {
		return nil, fmt.Errorf("%w: unsupported nettype %q", ErrMalformedDescriptor, ci.NetworkType)
	}
	if ci.AddressType != "IP4" && ci.AddressType != "IP6" {
		return nil, fmt.Errorf("%w: unsupported addrtype %q", ErrMalformedDescriptor, ci.AddressType)
	}

	// Multicast connection addresses may carry a TTL and address count
	// suffix, e.g. "239.1.178.124/15".
	addr, _, _ := strings.Cut(ci.Address.Address, "/")
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("%w: invalid connection address %q", ErrMalformedDescriptor, ci.Address.Address)
	}
	return ip, nil
}

func containsAll(haystack []string, needles ...string) bool {
	for _, needle := range needles {
		found := false
		for _, s := range haystack {
			if s == needle {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// attribute returns the value of the first media-level attribute with the
// given key.
func attribute(md *pionsdp.MediaDescription, key string) (string, bool) {
	for _, attr := range md.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}
