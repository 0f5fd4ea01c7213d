package sftp

import (
	"context"
	"fmt"
	"os"
	"strconv"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
)

func init() {
	vfs.RegisterTransport("sftp", createTransport)
}

// createTransport builds an SFTP transport. Mount table options "host",
// "port", "username", "password", "privateKeyFile", "knownHostsFile" and
// "basePath" override the environment config. The connection is opened
// when the mount is mounted.
func createTransport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	conf := Config{
		Host:           mc.Option("host", cfg.SFTPHost),
		Username:       mc.Option("username", cfg.SFTPUsername),
		Password:       mc.Option("password", cfg.SFTPPassword),
		KnownHostsFile: mc.Option("knownHostsFile", cfg.SFTPKnownHostsFile),
	}
	if conf.Host == "" {
		return nil, fmt.Errorf("%w: sftp transport needs a host", vfs.ErrInvalidArgument)
	}

	port, err := strconv.Atoi(mc.Option("port", strconv.Itoa(cfg.SFTPPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: sftp port: %w", vfs.ErrInvalidArgument, err)
	}
	conf.Port = port

	if keyFile := mc.Option("privateKeyFile", cfg.SFTPPrivateKeyFile); keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read sftp private key: %w", err)
		}
		conf.PrivateKey = key
	}

	return New(conf,
		WithBasePath(mc.Option("basePath", cfg.SFTPBasePath)),
		WithLogger(logging.FromContext(ctx, nil)),
	), nil
}
