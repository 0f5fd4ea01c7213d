package webdav

import (
	"context"
	"fmt"
	"strconv"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
)

func init() {
	vfs.RegisterTransport("webdav", createTransport)
}

// createTransport builds a WebDAV transport. Mount options "host",
// "username", "password" and "maxRetries" override the environment.
func createTransport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	conf := Config{
		Host:     mc.Option("host", cfg.WebDAVHost),
		Username: mc.Option("username", cfg.WebDAVUsername),
		Password: mc.Option("password", cfg.WebDAVPassword),
	}
	if conf.Host == "" {
		return nil, fmt.Errorf("%w: webdav transport needs a host", vfs.ErrInvalidArgument)
	}
	if s := mc.Option("maxRetries", ""); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: maxRetries %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		conf.MaxRetries = n
	}
	return New(conf, WithLogger(logging.FromContext(ctx, nil)))
}
