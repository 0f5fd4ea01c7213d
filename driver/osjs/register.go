package osjs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
)

func init() {
	vfs.RegisterTransport("osjs", createTransport)
}

// createTransport builds the server file API transport. Mount options
// "endpoint", "maxRetries" and "cacheTTL" override the environment; a
// positive cacheTTL caches listings and metadata.
func createTransport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	httpCfg := HTTPConfig{Endpoint: mc.Option("endpoint", cfg.OSjsEndpoint)}
	if httpCfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: osjs transport needs an endpoint", vfs.ErrInvalidArgument)
	}
	if s := mc.Option("maxRetries", ""); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: maxRetries %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		httpCfg.MaxRetries = n
	}

	var t vfs.Transport = New(NewHTTPInvoker(httpCfg),
		WithMaxUploadSize(cfg.MaxUploadSize),
		WithLogger(logging.FromContext(ctx, nil)),
	)

	if s := mc.Option("cacheTTL", ""); s != "" {
		ttl, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: cacheTTL %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		if ttl > 0 {
			t = vfs.NewCachingTransport(t, nil, ttl)
		}
	}
	return t, nil
}
