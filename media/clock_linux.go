//go:build linux

package media

import (
	"time"

	"golang.org/x/sys/unix"
)

// taiNow reads CLOCK_TAI. PTP daemons discipline this clock, so on a
// synchronized host it tracks the grandmaster within the PTP servo's error.
func taiNow() (int64, int64) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_TAI, &ts); err != nil {
		// CLOCK_TAI is always present on modern kernels; if the syscall
		// fails we fall back to realtime plus the static TAI-UTC offset.
		return fallbackTAI()
	}
	return ts.Sec, ts.Nsec
}

func fallbackTAI() (int64, int64) {
	now := time.Now().Add(taiUTCOffset)
	return now.Unix(), int64(now.Nanosecond())
}
