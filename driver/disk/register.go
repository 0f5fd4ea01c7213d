package disk

import (
	"context"
	"errors"
	"strings"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
)

func init() {
	vfs.RegisterTransport("disk", func(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
		root := mc.Option("root", cfg.DistPath)
		if root == "" {
			return nil, errors.New("disk transport needs a root directory")
		}

		scheme := strings.ToLower(strings.Join(strings.Fields(mc.Name), "-"))
		if mc.Root != "" {
			scheme = vfs.Scheme(mc.Root)
		}
		a, err := New(root,
			WithScheme(scheme),
			WithLogger(logging.FromContext(ctx, nil)),
		)
		if err != nil {
			return nil, err
		}
		if mc.ReadOnly {
			return vfs.NewReadOnlyTransport(a), nil
		}
		return a, nil
	})
}
