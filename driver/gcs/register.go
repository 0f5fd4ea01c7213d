package gcs

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	vfs "github.com/os-js/OS.js-sub002"
	"google.golang.org/api/option"
)

func init() {
	vfs.RegisterTransport("gcs", createTransport)
}

// createTransport builds a GCS transport. Without a credentials file the
// client falls back to application default credentials. Mount table
// options "bucket", "prefix", "credentialsFile" and "urlExpiry" override
// the environment config.
func createTransport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	bucket := mc.Option("bucket", cfg.GCSBucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: gcs transport needs a bucket", vfs.ErrInvalidArgument)
	}

	var clientOpts []option.ClientOption
	if f := mc.Option("credentialsFile", cfg.GCSCredentialsFile); f != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(f))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	var opts []AdapterOption
	if prefix := mc.Option("prefix", cfg.GCSPrefix); prefix != "" {
		opts = append(opts, WithPrefix(prefix))
	}
	if s := mc.Option("urlExpiry", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: urlExpiry %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		opts = append(opts, WithURLExpiry(d))
	}
	return New(client, bucket, opts...), nil
}
