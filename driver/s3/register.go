package s3

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	vfs "github.com/os-js/OS.js-sub002"
)

func init() {
	vfs.RegisterTransport("s3", createS3Transport)
}

// clientSettings is the environment config with mount options applied
type clientSettings struct {
	region, endpoint  string
	accessKey, secret string
	pathStyle         bool
}

func settingsFor(mc vfs.MountConfig, cfg *vfs.Config) (clientSettings, error) {
	s := clientSettings{
		region:    mc.Option("region", cfg.S3Region),
		endpoint:  mc.Option("endpoint", cfg.S3Endpoint),
		accessKey: mc.Option("accessKeyId", cfg.S3AccessKeyID),
		secret:    mc.Option("secretAccessKey", cfg.S3SecretAccessKey),
		pathStyle: cfg.S3ForcePathStyle,
	}
	if v := mc.Option("forcePathStyle", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%w: forcePathStyle %q", vfs.ErrInvalidArgument, v)
		}
		s.pathStyle = b
	}
	if (s.accessKey == "") != (s.secret == "") {
		return s, fmt.Errorf("%w: S3 access key id and secret must be set together", vfs.ErrInvalidArgument)
	}
	return s, nil
}

// createS3Transport builds the transport from the environment config.
// Mount table options "bucket", "prefix", "region", "endpoint",
// "accessKeyId", "secretAccessKey", "forcePathStyle" and "urlExpiry"
// override it.
func createS3Transport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	bucket := mc.Option("bucket", cfg.S3Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 transport needs a bucket", vfs.ErrInvalidArgument)
	}
	settings, err := settingsFor(mc, cfg)
	if err != nil {
		return nil, err
	}

	var opts []AdapterOption
	if prefix := mc.Option("prefix", cfg.S3Prefix); prefix != "" {
		opts = append(opts, WithPrefix(prefix))
	}
	if v := mc.Option("urlExpiry", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: urlExpiry %q: %w", vfs.ErrInvalidArgument, v, err)
		}
		opts = append(opts, WithURLExpiry(d))
	}

	client, err := createS3Client(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return New(client, bucket, opts...), nil
}

func createS3Client(ctx context.Context, s clientSettings) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
	if err != nil {
		return nil, err
	}
	if s.accessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(s.accessKey, s.secret, "")
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
		o.UsePathStyle = s.pathStyle
	}), nil
}
