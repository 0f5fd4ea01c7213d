package vfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/os-js/OS.js-sub002/internal/logging"
	"go.uber.org/zap"
)

// NewFromConfig builds a VFS from cfg: the mount table (cfg.MountsFile or
// the built-in one, plus the remote mounts configured in the environment),
// the transports through the factory registry and the Façade settings. opts
// are applied after the configured ones.
//
// Transport drivers must be linked in, e.g.
//
//	import _ "github.com/os-js/OS.js-sub002/driver/osjs"
func NewFromConfig(ctx context.Context, cfg *Config, opts ...Option) (*VFS, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	table, err := mountTableFor(cfg)
	if err != nil {
		return nil, err
	}

	scandir := DefaultScandirOptions()
	scandir.ShowHiddenFiles = cfg.ShowHiddenFiles

	all := []Option{
		WithLogger(logger),
		WithScandirDefaults(scandir),
		WithMaxUploadSize(cfg.MaxUploadSize),
		WithUploadConcurrency(cfg.UploadConcurrency),
		WithUserPackages(cfg.UserPackagesDir, nil),
	}
	v := New(NewMountManager(cfg.DefaultMount), append(all, opts...)...)

	fctx := logging.NewContext(ctx, v.logger)
	for _, mc := range table.Mounts {
		m, err := mc.Build(fctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", mc.Name, err)
		}
		if err := v.mounts.Add(m); err != nil {
			return nil, err
		}
	}

	for _, m := range v.mounts.List(ListFilter{}) {
		if err := v.Mount(ctx, m.Name); err != nil {
			if IsCanceled(err) {
				return nil, err
			}
			v.logger.Warn("mount failed; left unmounted", zap.String("mount", m.Name), zap.Error(err))
		}
	}
	return v, nil
}

// NewFromEnv creates a VFS configured from environment variables
func NewFromEnv(ctx context.Context, opts ...Option) (*VFS, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return NewFromConfig(ctx, cfg, opts...)
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cfg.MaxUploadSize < 0 {
		return errors.New("max upload size must not be negative")
	}
	if cfg.UploadConcurrency < 0 {
		return errors.New("upload concurrency must not be negative")
	}
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return errors.New("S3 access key id and secret must be set together")
	}
	return nil
}

// mountTableFor returns the configured table with the env-defined cloud
// mounts appended.
func mountTableFor(cfg *Config) (*MountTable, error) {
	var table *MountTable
	if cfg.MountsFile != "" {
		t, err := LoadMountTable(cfg.MountsFile)
		if err != nil {
			return nil, err
		}
		table = t
	} else {
		table = DefaultMountTable()
	}

	if cfg.S3Bucket != "" && !table.has("s3") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:       "s3",
			Title:      "Amazon S3",
			Transport:  "s3",
			Icon:       "places/network-server.png",
			Searchable: true,
		})
	}
	if cfg.GCSBucket != "" && !table.has("gcs") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:       "gcs",
			Title:      "Cloud Storage",
			Transport:  "gcs",
			Icon:       "places/network-server.png",
			Searchable: true,
		})
	}
	if cfg.AzureContainer != "" && !table.has("azure") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:       "azure",
			Title:      "Azure Storage",
			Transport:  "azure",
			Icon:       "places/network-server.png",
			Searchable: true,
		})
	}
	if cfg.SFTPHost != "" && !table.has("sftp") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:      "sftp",
			Title:     cfg.SFTPHost,
			Transport: "sftp",
			Icon:      "places/folder-remote.png",
		})
	}
	if cfg.WebDAVHost != "" && !table.has("webdav") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:      "webdav",
			Title:     "WebDAV",
			Transport: "webdav",
			Icon:      "places/folder-remote.png",
		})
	}
	if cfg.GDriveCredentialsFile != "" && !table.has("google-drive") {
		table.Mounts = append(table.Mounts, MountConfig{
			Name:       "google-drive",
			Title:      "Google Drive",
			Transport:  "gdrive",
			Icon:       "places/google-drive.png",
			Searchable: true,
		})
	}
	return table, nil
}
