package web

import (
	"context"
	"fmt"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
)

func init() {
	vfs.RegisterTransport("web", createTransport)
}

// createTransport mounts the site named by the "url" option read-only
func createTransport(ctx context.Context, mc vfs.MountConfig, _ *vfs.Config) (vfs.Transport, error) {
	site := mc.Option("url", "")
	if site == "" {
		return nil, fmt.Errorf("%w: web transport needs a url", vfs.ErrInvalidArgument)
	}
	a, err := New(Config{URL: site}, WithLogger(logging.FromContext(ctx, nil)))
	if err != nil {
		return nil, err
	}
	return vfs.NewReadOnlyTransport(a), nil
}
