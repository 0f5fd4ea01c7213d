package vfs

import (
	"context"
)

// ============================================================================
// ReadOnlyTransport Decorator
// ============================================================================

// ReadOnlyTransport wraps a Transport and rejects every mutating call with
// ErrReadOnly. Mount tables use it for stores that must never be written
// even when reached through a mount that is not flagged read-only, e.g. an
// alias onto the distribution store.
type ReadOnlyTransport struct {
	Transport
	opts ReadOnlyOptions
}

// ReadOnlyOptions configures the ReadOnlyTransport behavior
type ReadOnlyOptions struct {
	// AllowMkdir permits directory creation.
	AllowMkdir bool

	// OnWriteAttempt is called with the rejected operation and path, e.g.
	// for logging or metrics.
	OnWriteAttempt func(op, path string)
}

// ReadOnlyOption is a functional option for ReadOnlyTransport
type ReadOnlyOption func(*ReadOnlyOptions)

// WithAllowMkdir allows directory creation through the decorator
func WithAllowMkdir(allow bool) ReadOnlyOption {
	return func(o *ReadOnlyOptions) {
		o.AllowMkdir = allow
	}
}

// WithWriteAttemptHandler sets a hook observing rejected writes
func WithWriteAttemptHandler(fn func(op, path string)) ReadOnlyOption {
	return func(o *ReadOnlyOptions) {
		o.OnWriteAttempt = fn
	}
}

// NewReadOnlyTransport creates a read-only wrapper around t
func NewReadOnlyTransport(t Transport, opts ...ReadOnlyOption) *ReadOnlyTransport {
	options := ReadOnlyOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &ReadOnlyTransport{Transport: t, opts: options}
}

// Unwrap returns the underlying Transport
func (r *ReadOnlyTransport) Unwrap() Transport {
	return r.Transport
}

func (r *ReadOnlyTransport) readOnlyError(op, path string) error {
	if r.opts.OnWriteAttempt != nil {
		r.opts.OnWriteAttempt(op, path)
	}
	return &PathError{Op: op, Path: path, Err: ErrReadOnly}
}

func (r *ReadOnlyTransport) Write(_ context.Context, file File, _ []byte) error {
	return r.readOnlyError("write", file.Path)
}

func (r *ReadOnlyTransport) Copy(_ context.Context, _ File, dest File) error {
	return r.readOnlyError("copy", dest.Path)
}

func (r *ReadOnlyTransport) Move(_ context.Context, src, _ File) error {
	return r.readOnlyError("move", src.Path)
}

func (r *ReadOnlyTransport) Unlink(_ context.Context, file File) error {
	return r.readOnlyError("unlink", file.Path)
}

func (r *ReadOnlyTransport) Mkdir(ctx context.Context, dir File) error {
	if r.opts.AllowMkdir {
		return r.Transport.Mkdir(ctx, dir)
	}
	return r.readOnlyError("mkdir", dir.Path)
}

func (r *ReadOnlyTransport) Upload(_ context.Context, dest File, _ UploadFile) error {
	return r.readOnlyError("upload", dest.Path)
}

func (r *ReadOnlyTransport) Trash(_ context.Context, file File) error {
	return r.readOnlyError("trash", file.Path)
}

func (r *ReadOnlyTransport) Untrash(_ context.Context, file File) error {
	return r.readOnlyError("untrash", file.Path)
}

func (r *ReadOnlyTransport) EmptyTrash(context.Context) error {
	return r.readOnlyError("emptyTrash", "")
}

var _ Transport = (*ReadOnlyTransport)(nil)
