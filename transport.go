package vfs

import (
	"context"
	"io"
)

// ============================================================================
// Transport
// ============================================================================

// Transport is the backend driver behind a Mountpoint. Every capability is
// declared; variants that cannot serve one return ErrNotSupported (embed
// Unsupported to get that for free).
//
// Paths handed to a transport are literal virtual paths, already rewritten
// from any alias and owned by the transport's mount. Transports return
// descriptors addressed the same way.
type Transport interface {
	// Scandir lists the direct children of dir, unfiltered.
	Scandir(ctx context.Context, dir File) ([]File, error)

	// Read returns the whole content of file.
	Read(ctx context.Context, file File) ([]byte, error)

	// Write creates or replaces file with data.
	Write(ctx context.Context, file File, data []byte) error

	// Copy duplicates src to dest inside the same backend.
	Copy(ctx context.Context, src, dest File) error

	// Move renames src to dest inside the same backend.
	Move(ctx context.Context, src, dest File) error

	// Unlink removes a file or a directory tree.
	Unlink(ctx context.Context, file File) error

	// Mkdir creates dir and missing parents.
	Mkdir(ctx context.Context, dir File) error

	// Exists reports whether file is present.
	Exists(ctx context.Context, file File) (bool, error)

	// FileInfo returns the backend's view of file.
	FileInfo(ctx context.Context, file File) (File, error)

	// URL returns an address a client can fetch file from.
	URL(ctx context.Context, file File) (string, error)

	// Upload streams one uploaded file to dest.
	Upload(ctx context.Context, dest File, upload UploadFile) error

	// Download opens file for streaming.
	Download(ctx context.Context, file File) (io.ReadCloser, error)

	// Find searches below dir.
	Find(ctx context.Context, dir File, query FindQuery) ([]File, error)

	// Trash moves file to the backend's trash.
	Trash(ctx context.Context, file File) error

	// Untrash restores file from the trash.
	Untrash(ctx context.Context, file File) error

	// EmptyTrash purges the trash.
	EmptyTrash(ctx context.Context) error

	// FreeSpace returns the available bytes under root, or -1 when unknown.
	FreeSpace(ctx context.Context, root string) (int64, error)
}

// UploadFile is one file of an Upload request
type UploadFile struct {
	Name string
	MIME string
	// Size is -1 when the length is unknown
	Size int64
	Body io.Reader
}

// FindQuery describes a search
type FindQuery struct {
	Query     string
	Limit     int
	Recursive bool
}

// ============================================================================
// Optional Capability Interfaces
// ============================================================================

// Initializer is implemented by transports that need a one-time session
// setup. Init must be idempotent.
type Initializer interface {
	Init(ctx context.Context) error
}

// Change is an out-of-band modification observed by a backend
type Change struct {
	Method string
	File   File
}

// Notifier is implemented by transports that observe changes made outside
// the VFS. Notify blocks until ctx is done.
type Notifier interface {
	Notify(ctx context.Context, fn func(Change)) error
}

// CanChecksum is implemented by transports that can hash content without
// transferring it.
type CanChecksum interface {
	Checksum(ctx context.Context, file File, algorithm ChecksumAlgorithm) (string, error)
}

// capability finds an optional interface on t or on any transport it
// wraps through Unwrap.
func capability[T any](t Transport) (T, bool) {
	for t != nil {
		if c, ok := t.(T); ok {
			return c, true
		}
		u, ok := t.(interface{ Unwrap() Transport })
		if !ok {
			break
		}
		t = u.Unwrap()
	}
	var zero T
	return zero, false
}

// ============================================================================
// Unsupported / NullTransport
// ============================================================================

// Unsupported implements every Transport method by returning
// ErrNotSupported.
type Unsupported struct{}

func unsupported(op, p string) error {
	return &PathError{Op: op, Path: p, Err: ErrNotSupported}
}

func (Unsupported) Scandir(_ context.Context, dir File) ([]File, error) {
	return nil, unsupported("scandir", dir.Path)
}

func (Unsupported) Read(_ context.Context, file File) ([]byte, error) {
	return nil, unsupported("read", file.Path)
}

func (Unsupported) Write(_ context.Context, file File, _ []byte) error {
	return unsupported("write", file.Path)
}

func (Unsupported) Copy(_ context.Context, src, _ File) error {
	return unsupported("copy", src.Path)
}

func (Unsupported) Move(_ context.Context, src, _ File) error {
	return unsupported("move", src.Path)
}

func (Unsupported) Unlink(_ context.Context, file File) error {
	return unsupported("unlink", file.Path)
}

func (Unsupported) Mkdir(_ context.Context, dir File) error {
	return unsupported("mkdir", dir.Path)
}

func (Unsupported) Exists(_ context.Context, file File) (bool, error) {
	return false, unsupported("exists", file.Path)
}

func (Unsupported) FileInfo(_ context.Context, file File) (File, error) {
	return File{}, unsupported("fileinfo", file.Path)
}

func (Unsupported) URL(_ context.Context, file File) (string, error) {
	return "", unsupported("url", file.Path)
}

func (Unsupported) Upload(_ context.Context, dest File, _ UploadFile) error {
	return unsupported("upload", dest.Path)
}

func (Unsupported) Download(_ context.Context, file File) (io.ReadCloser, error) {
	return nil, unsupported("download", file.Path)
}

func (Unsupported) Find(_ context.Context, dir File, _ FindQuery) ([]File, error) {
	return nil, unsupported("find", dir.Path)
}

func (Unsupported) Trash(_ context.Context, file File) error {
	return unsupported("trash", file.Path)
}

func (Unsupported) Untrash(_ context.Context, file File) error {
	return unsupported("untrash", file.Path)
}

func (Unsupported) EmptyTrash(_ context.Context) error {
	return unsupported("emptyTrash", "")
}

func (Unsupported) FreeSpace(_ context.Context, root string) (int64, error) {
	return 0, unsupported("freeSpace", root)
}

// NullTransport backs disabled and placeholder mounts. Every operation
// fails with ErrNotSupported.
type NullTransport struct {
	Unsupported
}

// Interface assertions
var (
	_ Transport = Unsupported{}
	_ Transport = NullTransport{}
)
