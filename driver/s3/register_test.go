package s3

import (
	"context"
	"errors"
	"testing"

	vfs "github.com/os-js/OS.js-sub002"
)

func TestSettingsFor(t *testing.T) {
	base := vfs.Config{S3Region: "us-east-1", S3Endpoint: "http://minio:9000", S3ForcePathStyle: true}

	tests := []struct {
		name    string
		options map[string]any
		cfg     vfs.Config
		want    clientSettings
		wantErr bool
	}{
		{
			name: "env only",
			cfg:  base,
			want: clientSettings{region: "us-east-1", endpoint: "http://minio:9000", pathStyle: true},
		},
		{
			name:    "mount options win",
			options: map[string]any{"region": "eu-west-1", "forcePathStyle": "false", "accessKeyId": "id", "secretAccessKey": "secret"},
			cfg:     base,
			want:    clientSettings{region: "eu-west-1", endpoint: "http://minio:9000", accessKey: "id", secret: "secret"},
		},
		{
			name:    "bad bool",
			options: map[string]any{"forcePathStyle": "sometimes"},
			cfg:     base,
			wantErr: true,
		},
		{
			name:    "half credentials",
			options: map[string]any{"accessKeyId": "id"},
			cfg:     base,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settingsFor(vfs.MountConfig{Name: "s3", Options: tt.options}, &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("settingsFor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("settingsFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCreateS3TransportValidation(t *testing.T) {
	ctx := context.Background()
	cfg := vfs.Config{S3Region: "us-east-1"}

	if _, err := createS3Transport(ctx, vfs.MountConfig{Name: "s3"}, &cfg); !errors.Is(err, vfs.ErrInvalidArgument) {
		t.Errorf("missing bucket error = %v", err)
	}
	mc := vfs.MountConfig{Name: "s3", Options: map[string]any{"bucket": "b", "urlExpiry": "later"}}
	if _, err := createS3Transport(ctx, mc, &cfg); !errors.Is(err, vfs.ErrInvalidArgument) {
		t.Errorf("bad urlExpiry error = %v", err)
	}
}
