//go:build !linux

package media

import "time"

func taiNow() (int64, int64) {
	now := time.Now().Add(taiUTCOffset)
	return now.Unix(), int64(now.Nanosecond())
}
