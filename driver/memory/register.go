package memory

import (
	"context"
	"strconv"

	vfs "github.com/os-js/OS.js-sub002"
)

func init() {
	vfs.RegisterTransport("memory", func(_ context.Context, mc vfs.MountConfig, _ *vfs.Config) (vfs.Transport, error) {
		maxSize, _ := strconv.ParseInt(mc.Option("maxSize", "0"), 10, 64)
		return New(Config{MaxSize: maxSize}), nil
	})
}
