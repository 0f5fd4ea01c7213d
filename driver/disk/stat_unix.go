//go:build linux || darwin || freebsd

package disk

import (
	"io/fs"
	"syscall"
	"time"
)

// freeSpace returns the bytes available to unprivileged users at path
func freeSpace(path string) int64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return -1
	}
	return int64(st.Bavail) * int64(st.Bsize)
}

// changeTime returns the inode change time, or the zero time
func changeTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}
	}
	return statCtime(stat)
}
