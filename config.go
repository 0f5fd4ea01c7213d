package vfs

import (
	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Mount receiving paths without a scheme
	DefaultMount string `env:"VFS_DEFAULT_MOUNT,default:home"`

	// Mount table (yaml or json, chosen by extension). Empty means the
	// built-in table derived from the fields below.
	MountsFile string `env:"VFS_MOUNTS_FILE"`

	// Unlinking directly inside this directory regenerates package metadata
	UserPackagesDir string `env:"VFS_USER_PACKAGES_DIR,default:home:///.packages"`

	// Upload limits
	MaxUploadSize     int64 `env:"VFS_MAX_UPLOAD_SIZE,default:0"` // 0 = unlimited
	UploadConcurrency int   `env:"VFS_UPLOAD_CONCURRENCY,default:4"`

	// Scandir defaults
	ShowHiddenFiles bool `env:"VFS_SHOW_HIDDEN_FILES,default:true"`

	// Logging
	LogLevel  string `env:"VFS_LOG_LEVEL,default:info"`
	LogFormat string `env:"VFS_LOG_FORMAT,default:json"`

	// Server file API behind the osjs transport
	OSjsEndpoint string `env:"VFS_OSJS_ENDPOINT,default:http://localhost:8000"`

	// Directory served by the read-only distribution mount
	DistPath string `env:"VFS_DIST_PATH"`

	// S3 mount configuration
	S3Bucket          string `env:"VFS_S3_BUCKET"`
	S3Region          string `env:"VFS_S3_REGION,default:us-east-1"`
	S3Prefix          string `env:"VFS_S3_PREFIX"`
	S3Endpoint        string `env:"VFS_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"VFS_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"VFS_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"VFS_S3_FORCE_PATH_STYLE,default:false"`

	// Google Cloud Storage mount configuration
	GCSBucket          string `env:"VFS_GCS_BUCKET"`
	GCSPrefix          string `env:"VFS_GCS_PREFIX"`
	GCSCredentialsFile string `env:"VFS_GCS_CREDENTIALS_FILE"` // empty = application default credentials

	// Azure Blob Storage mount configuration
	AzureContainer        string `env:"VFS_AZURE_CONTAINER"`
	AzurePrefix           string `env:"VFS_AZURE_PREFIX"`
	AzureConnectionString string `env:"VFS_AZURE_CONNECTION_STRING"`
	AzureAccountName      string `env:"VFS_AZURE_ACCOUNT_NAME"`
	AzureAccountKey       string `env:"VFS_AZURE_ACCOUNT_KEY"`
	AzureEndpoint         string `env:"VFS_AZURE_ENDPOINT"` // default https://<account>.blob.core.windows.net/

	// SFTP mount configuration
	SFTPHost           string `env:"VFS_SFTP_HOST"`
	SFTPPort           int    `env:"VFS_SFTP_PORT,default:22"`
	SFTPUsername       string `env:"VFS_SFTP_USERNAME"`
	SFTPPassword       string `env:"VFS_SFTP_PASSWORD"`
	SFTPPrivateKeyFile string `env:"VFS_SFTP_PRIVATE_KEY_FILE"`
	SFTPKnownHostsFile string `env:"VFS_SFTP_KNOWN_HOSTS_FILE"` // empty = accept any host key
	SFTPBasePath       string `env:"VFS_SFTP_BASE_PATH"`

	// WebDAV mount configuration
	WebDAVHost     string `env:"VFS_WEBDAV_HOST"` // collection URL
	WebDAVUsername string `env:"VFS_WEBDAV_USERNAME"`
	WebDAVPassword string `env:"VFS_WEBDAV_PASSWORD"`

	// Google Drive mount configuration
	GDriveCredentialsFile string `env:"VFS_GDRIVE_CREDENTIALS_FILE"` // OAuth client JSON
	GDriveTokenFile       string `env:"VFS_GDRIVE_TOKEN_FILE"`       // cached OAuth token JSON
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Builder loads Config with a custom environment prefix
type Builder struct {
	prefix string
}

// WithPrefix creates a Builder reading variables under prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Config loads the configuration under the builder's prefix
func (b *Builder) Config() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}
