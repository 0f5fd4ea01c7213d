//go:build !(linux || darwin || freebsd)

package disk

import (
	"io/fs"
	"time"
)

func freeSpace(string) int64 {
	return -1
}

func changeTime(fs.FileInfo) time.Time {
	return time.Time{}
}
