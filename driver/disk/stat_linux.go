//go:build linux

package disk

import (
	"syscall"
	"time"
)

func statCtime(stat *syscall.Stat_t) time.Time {
	return time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec))
}
