package vfs

import (
	"context"

	"go.uber.org/zap"
)

// ============================================================================
// VFS options
// ============================================================================

// Option configures a VFS
type Option func(*VFS)

// PackageManager regenerates package metadata after the user packages
// directory changed.
type PackageManager interface {
	GenerateUserMetadata(ctx context.Context) error
}

// PackageManagerFunc adapts a function to PackageManager
type PackageManagerFunc func(ctx context.Context) error

// GenerateUserMetadata implements PackageManager
func (f PackageManagerFunc) GenerateUserMetadata(ctx context.Context) error {
	return f(ctx)
}

// WithLogger sets the logger (default: no-op)
func WithLogger(logger *zap.Logger) Option {
	return func(v *VFS) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithBroadcaster sets where vfs:<method> notifications go (default: a
// private EventBus reachable through VFS.Subscribe)
func WithBroadcaster(b Broadcaster) Option {
	return func(v *VFS) {
		if b != nil {
			v.broadcaster = b
		}
	}
}

// WithMetrics enables prometheus instrumentation
func WithMetrics(m *Metrics) Option {
	return func(v *VFS) {
		v.metrics = m
	}
}

// WithScandirDefaults sets the options every Scandir starts from
func WithScandirDefaults(opts ScandirOptions) Option {
	return func(v *VFS) {
		v.scandirDefaults = opts
	}
}

// WithUserPackages configures the user packages directory and the manager
// whose metadata is regenerated when something directly inside it is
// unlinked.
func WithUserPackages(dir string, pm PackageManager) Option {
	return func(v *VFS) {
		v.userPackagesDir = dir
		v.packages = pm
	}
}

// WithPackageManager sets the manager regenerating user package metadata
// and keeps whatever directory is already configured.
func WithPackageManager(pm PackageManager) Option {
	return func(v *VFS) {
		v.packages = pm
	}
}

// WithMaxUploadSize rejects uploads larger than n bytes (0 = unlimited)
func WithMaxUploadSize(n int64) Option {
	return func(v *VFS) {
		v.maxUploadSize = n
	}
}

// WithUploadConcurrency bounds the number of files uploaded in parallel
// (0 = unbounded)
func WithUploadConcurrency(n int) Option {
	return func(v *VFS) {
		v.uploadConcurrency = n
	}
}

// ============================================================================
// Operation options
// ============================================================================

// ProgressFunc reports progress as done out of total. Copy and move report
// 50/100 after the read and 100/100 when finished; uploads report bytes.
type ProgressFunc func(done, total int64)

// OpOptions contains the options of a single operation
type OpOptions struct {
	// Overwrite skips the destination existence check
	Overwrite bool

	// Progress receives progress updates
	Progress ProgressFunc

	// ReadAs selects the read conversion
	ReadAs ReadType

	// StrictJSON turns JSON parse failures into ErrConversionFailure
	StrictJSON bool

	// MIME overrides the descriptor's content type for writes
	MIME string
}

// OpOption configures a single operation
type OpOption func(*OpOptions)

func processOptions(options ...OpOption) *OpOptions {
	opts := &OpOptions{}
	for _, o := range options {
		o(opts)
	}
	return opts
}

// WithOverwrite skips the destination existence check
func WithOverwrite() OpOption {
	return func(o *OpOptions) {
		o.Overwrite = true
	}
}

// WithProgress sets a progress callback
func WithProgress(fn ProgressFunc) OpOption {
	return func(o *OpOptions) {
		o.Progress = fn
	}
}

// As selects the read conversion
func As(t ReadType) OpOption {
	return func(o *OpOptions) {
		o.ReadAs = t
	}
}

// WithStrictJSON makes JSON reads fail on unparsable content
func WithStrictJSON() OpOption {
	return func(o *OpOptions) {
		o.StrictJSON = true
	}
}

// WithMIME sets the content type used to encode and store written data
func WithMIME(contentType string) OpOption {
	return func(o *OpOptions) {
		o.MIME = contentType
	}
}

func (o *OpOptions) progress(done, total int64) {
	if o.Progress != nil {
		o.Progress(done, total)
	}
}

// ============================================================================
// Scandir options
// ============================================================================

// SortKey is a field scandir results can be sorted by
type SortKey string

const (
	SortNone     SortKey = ""
	SortFilename SortKey = "filename"
	SortSize     SortKey = "size"
	SortMIME     SortKey = "mime"
	SortCtime    SortKey = "ctime"
	SortMtime    SortKey = "mtime"
)

// SortDir is the sort direction
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ScandirOptions controls scandir post-processing
type ScandirOptions struct {
	TypeFilter      FileType
	MIMEFilter      []string
	ShowHiddenFiles bool
	Backlink        bool
	SortBy          SortKey
	SortDir         SortDir
	// Selector is an extra filter applied after the built-in ones.
	Selector FileSelector
}

// DefaultScandirOptions shows hidden files and synthesizes backlinks
func DefaultScandirOptions() ScandirOptions {
	return ScandirOptions{
		ShowHiddenFiles: true,
		Backlink:        true,
		SortDir:         SortAsc,
	}
}

// ScandirOption configures a single Scandir call
type ScandirOption func(*ScandirOptions)

// WithTypeFilter keeps entries of one type
func WithTypeFilter(t FileType) ScandirOption {
	return func(o *ScandirOptions) {
		o.TypeFilter = t
	}
}

// WithMIMEFilter keeps files whose MIME type matches any pattern
func WithMIMEFilter(patterns ...string) ScandirOption {
	return func(o *ScandirOptions) {
		o.MIMEFilter = patterns
	}
}

// ShowHiddenFiles toggles dotfiles
func ShowHiddenFiles(show bool) ScandirOption {
	return func(o *ScandirOptions) {
		o.ShowHiddenFiles = show
	}
}

// WithBacklink toggles the synthesized ".." entry
func WithBacklink(enabled bool) ScandirOption {
	return func(o *ScandirOptions) {
		o.Backlink = enabled
	}
}

// SortBy sorts by key in direction dir instead of listing directories first
func SortBy(key SortKey, dir SortDir) ScandirOption {
	return func(o *ScandirOptions) {
		o.SortBy = key
		o.SortDir = dir
	}
}

// WithSelector adds a custom filter
func WithSelector(s FileSelector) ScandirOption {
	return func(o *ScandirOptions) {
		o.Selector = s
	}
}
