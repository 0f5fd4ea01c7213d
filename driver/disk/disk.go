package disk

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// Adapter is a Transport over a local directory. URL and trash are not
// supported.
type Adapter struct {
	vfs.Unsupported

	root   string
	scheme string
	logger *zap.Logger
}

// AdapterOption configures Adapter
type AdapterOption func(*Adapter)

// WithScheme sets the scheme used for paths reported by Notify
func WithScheme(scheme string) AdapterOption {
	return func(a *Adapter) {
		a.scheme = scheme
	}
}

// WithLogger sets the logger for watcher errors
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a disk transport rooted at root, creating it when missing
func New(root string, opts ...AdapterOption) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}

	a := &Adapter{root: absRoot, scheme: "disk", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Root returns the absolute directory the adapter serves
func (a *Adapter) Root() string {
	return a.root
}

// resolve maps a virtual path to a path below root
func (a *Adapter) resolve(op, p string) (string, error) {
	full := filepath.Join(a.root, filepath.FromSlash(vfs.Rel(p)))
	if !isPathUnderRoot(a.root, full) {
		return "", vfs.NewPathError(op, p, vfs.ErrInvalidArgument)
	}
	return full, nil
}

func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mapOSError maps os errors onto vfs errors
func mapOSError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return vfs.NewPathError(op, p, vfs.ErrNotExist)
	case errors.Is(err, fs.ErrExist):
		return vfs.NewPathError(op, p, vfs.ErrFileExists)
	default:
		return vfs.NewPathError(op, p, err)
	}
}

func describe(p string, info fs.FileInfo) vfs.File {
	if info.IsDir() {
		f := vfs.NewDir(p)
		f.Mtime = info.ModTime()
		return f
	}
	f := vfs.NewFile(p)
	f.Size = info.Size()
	f.Mtime = info.ModTime()
	f.Ctime = changeTime(info)
	return f
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("scandir", dir.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapOSError("scandir", dir.Path, err)
	}

	files := make([]vfs.File, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, describe(vfs.Join(dir.Path, e.Name()), info))
	}
	return files, nil
}

// Read implements vfs.Transport
func (a *Adapter) Read(ctx context.Context, file vfs.File) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("read", file.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapOSError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := a.resolve("download", file.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, mapOSError("download", file.Path, err)
	}
	return f, nil
}

func (a *Adapter) writeFrom(ctx context.Context, op, p string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve(op, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mapOSError(op, p, err)
	}

	f, err := os.Create(full)
	if err != nil {
		return mapOSError(op, p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return vfs.NewPathError(op, p, err)
	}
	if err := f.Close(); err != nil {
		return vfs.NewPathError(op, p, err)
	}
	return nil
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.writeFrom(ctx, "write", file.Path, strings.NewReader(string(data)))
}

// Upload implements vfs.Transport
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	return a.writeFrom(ctx, "upload", vfs.Join(dest.Path, upload.Name), upload.Body)
}

// Copy implements vfs.Transport. Directories are copied recursively.
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	from, err := a.resolve("copy", src.Path)
	if err != nil {
		return err
	}
	to, err := a.resolve("copy", dest.Path)
	if err != nil {
		return err
	}

	info, err := os.Stat(from)
	if err != nil {
		return mapOSError("copy", src.Path, err)
	}
	if !info.IsDir() {
		return copyFile(from, to, info.Mode())
	}
	if isPathUnderRoot(from, to) {
		return vfs.NewPathError("copy", dest.Path, vfs.ErrInvalidArgument)
	}

	return filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(from, p)
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode())
	})
}

func copyFile(from, to string, mode fs.FileMode) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Move implements vfs.Transport with rename
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := a.resolve("move", src.Path)
	if err != nil {
		return err
	}
	to, err := a.resolve("move", dest.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return mapOSError("move", dest.Path, err)
	}
	if err := os.Rename(from, to); err != nil {
		return mapOSError("move", src.Path, err)
	}
	return nil
}

// Unlink implements vfs.Transport
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("unlink", file.Path)
	if err != nil {
		return err
	}
	if full == a.root {
		return vfs.NewPathError("unlink", file.Path, vfs.ErrInvalidArgument)
	}
	if _, err := os.Lstat(full); err != nil {
		return mapOSError("unlink", file.Path, err)
	}
	if err := os.RemoveAll(full); err != nil {
		return mapOSError("unlink", file.Path, err)
	}
	return nil
}

// Mkdir implements vfs.Transport
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := a.resolve("mkdir", dir.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return mapOSError("mkdir", dir.Path, err)
	}
	return nil
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	_, err := a.FileInfo(ctx, file)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	if err := ctx.Err(); err != nil {
		return vfs.File{}, err
	}
	full, err := a.resolve("fileinfo", file.Path)
	if err != nil {
		return vfs.File{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return vfs.File{}, mapOSError("fileinfo", file.Path, err)
	}
	return describe(file.Path, info), nil
}

// Find matches entry names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding root, or -1 where that cannot be determined.
func (a *Adapter) FreeSpace(ctx context.Context, root string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := a.resolve("freeSpace", root)
	if err != nil {
		return 0, err
	}
	return freeSpace(full), nil
}

// Checksum implements vfs.CanChecksum
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	rc, err := a.Download(ctx, file)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := vfs.CalculateChecksum(rc, algorithm)
	if err != nil {
		return "", vfs.NewPathError("checksum", file.Path, err)
	}
	return sum, nil
}

// Ensure Adapter implements interfaces
var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
	_ vfs.Notifier    = (*Adapter)(nil)
)
