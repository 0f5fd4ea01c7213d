//go:build darwin || freebsd

package disk

import (
	"syscall"
	"time"
)

func statCtime(stat *syscall.Stat_t) time.Time {
	return time.Unix(int64(stat.Ctimespec.Sec), int64(stat.Ctimespec.Nsec))
}
