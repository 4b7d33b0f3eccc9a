package stream

import "fmt"

// State represents the lifecycle state of a stream instance.
type State int32

const (
	// StateCreated indicates the buffer is allocated but no data has been
	// exchanged yet.
	StateCreated State = iota
	// StateWarmingUp indicates a receiver has not yet buffered enough data
	// to satisfy its link offset.
	StateWarmingUp
	// StateStreaming is the steady state.
	StateStreaming
	// StateMuted indicates an underrun is being bridged with silence for a
	// bounded number of service cycles.
	StateMuted
	// StateClockFault indicates unrecoverable divergence between the
	// caller's timeline and the buffered data. Terminal.
	StateClockFault
	// StateDestroyed indicates the instance has been torn down. Terminal.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWarmingUp:
		return "warming up"
	case StateStreaming:
		return "streaming"
	case StateMuted:
		return "muted"
	case StateClockFault:
		return "clock fault"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Status is the outcome of a data-path call. Expected conditions are
// reported as statuses, never as errors, so the real-time service cycle can
// branch on them without allocation.
type Status int

const (
	// StatusOK means the requested frames were copied.
	StatusOK Status = iota
	// StatusNotReadyYet means the receiver is still warming up; the caller
	// should retry without treating this as an error.
	StatusNotReadyYet
	// StatusNoData means the requested window has not arrived yet; the
	// caller substitutes silence or retries at the same time.
	StatusNoData
	// StatusUnderrun means data was missed and silence has been substituted
	// into the output buffer.
	StatusUnderrun
	// StatusClockFault means the instance has diverged unrecoverably from
	// its clock; it must be destroyed and recreated.
	StatusClockFault
	// StatusDestroyed means the instance has already been torn down.
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotReadyYet:
		return "not ready yet"
	case StatusNoData:
		return "no data"
	case StatusUnderrun:
		return "underrun"
	case StatusClockFault:
		return "clock fault"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
