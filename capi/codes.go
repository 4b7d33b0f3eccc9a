// Package capi exposes the virtual sound card through a flat, handle-based
// API with stable small-integer status codes, suitable for binding from
// audio backends written in other languages.
//
// Every operation returns a Code (or a handle that is the negated Code on
// failure) instead of a Go error. The numeric values are part of the
// external contract and must never be reordered.
package capi

import "fmt"

// Code is a stable status code of the host API.
type Code uint8

const (
	// OK signals success.
	OK Code = 0x00
	// NotInitialized is returned by every call before Initialize.
	NotInitialized Code = 0x01
	// AlreadyInitialized is returned by repeated Initialize calls.
	AlreadyInitialized Code = 0x02
	// UnsupportedBitDepth rejects a sample format the engine cannot service.
	UnsupportedBitDepth Code = 0x03
	// UnsupportedSampleRate rejects a sample rate the engine cannot service.
	UnsupportedSampleRate Code = 0x04
	// VscNotCreated is returned by stream operations before
	// CreateVirtualSoundCard.
	VscNotCreated Code = 0x05
	// ReceiverNotFound signals an unknown or destroyed receiver handle.
	ReceiverNotFound Code = 0x06
	// SenderNotFound signals an unknown or destroyed sender handle.
	SenderNotFound Code = 0x07
	// InvalidChannel rejects a channel count outside the supported range.
	InvalidChannel Code = 0x08
	// BufferUnderrun signals that silence was substituted for evicted data.
	BufferUnderrun Code = 0x09
	// ClockSyncError signals an unrecoverable clock divergence; the
	// instance must be destroyed and recreated.
	ClockSyncError Code = 0x0A
	// NotReadyYet signals a read during warm-up.
	NotReadyYet Code = 0x0B
	// NoData signals a read ahead of the newest buffered data.
	NoData Code = 0x0C

	// UnknownSampleFormat rejects an unparsable sample format token.
	UnknownSampleFormat Code = 0x17
	// InvalidSdp rejects an unparsable session description.
	InvalidSdp Code = 0x18
	// InvalidIp rejects an unparsable IP address.
	InvalidIp Code = 0x19
	// Other covers failures with no more specific code.
	Other Code = 0x1F
)

func (c Code) String() string {
	switch c {
	case OK:
		return "Ok"
	case NotInitialized:
		return "NotInitialized"
	case AlreadyInitialized:
		return "AlreadyInitialized"
	case UnsupportedBitDepth:
		return "UnsupportedBitDepth"
	case UnsupportedSampleRate:
		return "UnsupportedSampleRate"
	case VscNotCreated:
		return "VscNotCreated"
	case ReceiverNotFound:
		return "ReceiverNotFound"
	case SenderNotFound:
		return "SenderNotFound"
	case InvalidChannel:
		return "InvalidChannel"
	case BufferUnderrun:
		return "BufferUnderrun"
	case ClockSyncError:
		return "ClockSyncError"
	case NotReadyYet:
		return "NotReadyYet"
	case NoData:
		return "NoData"
	case UnknownSampleFormat:
		return "UnknownSampleFormat"
	case InvalidSdp:
		return "InvalidSdp"
	case InvalidIp:
		return "InvalidIp"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("Code(0x%02X)", uint8(c))
	}
}
