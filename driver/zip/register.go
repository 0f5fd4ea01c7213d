package zip

import (
	"context"
	"fmt"

	vfs "github.com/os-js/OS.js-sub002"
)

func init() {
	vfs.RegisterTransport("zip", func(_ context.Context, mc vfs.MountConfig, _ *vfs.Config) (vfs.Transport, error) {
		archive := mc.Option("archive", "")
		if archive == "" {
			return nil, fmt.Errorf("%w: zip transport needs an archive path", vfs.ErrInvalidArgument)
		}
		a, err := Open(archive)
		if err != nil {
			return nil, err
		}
		return vfs.NewReadOnlyTransport(a), nil
	})
}
