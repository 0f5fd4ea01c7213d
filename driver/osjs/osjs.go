// Package osjs is the transport for the internal mounts (osjs:///,
// home:///). Every operation is a call to the server file API.
package osjs

import (
	"bytes"
	"context"
	"io"

	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// Adapter proxies file operations to the server. The server has no trash.
type Adapter struct {
	vfs.Unsupported

	invoker       Invoker
	maxUploadSize int64
	logger        *zap.Logger
}

// AdapterOption configures Adapter
type AdapterOption func(*Adapter)

// WithMaxUploadSize rejects uploads larger than n bytes. Zero disables the
// check.
func WithMaxUploadSize(n int64) AdapterOption {
	return func(a *Adapter) {
		a.maxUploadSize = n
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an adapter calling through invoker
func New(invoker Invoker, opts ...AdapterOption) *Adapter {
	a := &Adapter{invoker: invoker, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type pathArgs struct {
	Path string `json:"path"`
}

type pairArgs struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

type findArgs struct {
	Path string    `json:"path"`
	Args findQuery `json:"args"`
}

type findQuery struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

type rootArgs struct {
	Root string `json:"root"`
}

func (a *Adapter) call(ctx context.Context, op, method, p string, args, out any) error {
	if err := a.invoker.Call(ctx, method, args, out); err != nil {
		if vfs.IsCanceled(err) {
			return err
		}
		return vfs.NewPathError(op, p, err)
	}
	return nil
}

func (a *Adapter) list(ctx context.Context, op, method, p string, args any) ([]vfs.File, error) {
	var raw []map[string]any
	if err := a.call(ctx, op, method, p, args, &raw); err != nil {
		return nil, err
	}
	files := make([]vfs.File, 0, len(raw))
	for _, m := range raw {
		files = append(files, vfs.FileFromMap(m))
	}
	return files, nil
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	return a.list(ctx, "scandir", "scandir", dir.Path, pathArgs{Path: dir.Path})
}

// Read fetches the raw content through FS:get
func (a *Adapter) Read(ctx context.Context, file vfs.File) ([]byte, error) {
	rc, err := a.Download(ctx, file)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, vfs.NewPathError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	rc, err := a.invoker.Fetch(ctx, file.Path)
	if err != nil {
		if vfs.IsCanceled(err) {
			return nil, err
		}
		return nil, vfs.NewPathError("read", file.Path, err)
	}
	return rc, nil
}

// Write uploads data into the parent directory, replacing any existing
// file.
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	upload := vfs.UploadFile{
		Name: vfs.Basename(file.Path),
		MIME: file.MIME,
		Size: int64(len(data)),
		Body: bytes.NewReader(data),
	}
	return a.send(ctx, "write", vfs.Dirname(file.Path), upload, true)
}

// Upload implements vfs.Transport. Existing files are not replaced.
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	return a.send(ctx, "upload", dest.Path, upload, false)
}

func (a *Adapter) send(ctx context.Context, op, dir string, upload vfs.UploadFile, overwrite bool) error {
	if a.maxUploadSize > 0 && upload.Size > a.maxUploadSize {
		return vfs.NewPathError(op, vfs.Join(dir, upload.Name), vfs.ErrTooLarge)
	}
	if a.maxUploadSize > 0 && upload.Size < 0 {
		upload.Body = &vfs.SizeLimitReader{Reader: upload.Body, MaxSize: a.maxUploadSize}
	}
	if err := a.invoker.Upload(ctx, dir, upload, overwrite); err != nil {
		if vfs.IsCanceled(err) {
			return err
		}
		return vfs.NewPathError(op, vfs.Join(dir, upload.Name), err)
	}
	return nil
}

// Copy implements vfs.Transport
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	return a.call(ctx, "copy", "copy", src.Path, pairArgs{Src: src.Path, Dest: dest.Path}, nil)
}

// Move implements vfs.Transport
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	return a.call(ctx, "move", "move", src.Path, pairArgs{Src: src.Path, Dest: dest.Path}, nil)
}

// Unlink implements vfs.Transport through FS:delete
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	return a.call(ctx, "unlink", "delete", file.Path, pathArgs{Path: file.Path}, nil)
}

// Mkdir implements vfs.Transport
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	return a.call(ctx, "mkdir", "mkdir", dir.Path, pathArgs{Path: dir.Path}, nil)
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	var exists bool
	if err := a.call(ctx, "exists", "exists", file.Path, pathArgs{Path: file.Path}, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	var raw map[string]any
	if err := a.call(ctx, "fileinfo", "fileinfo", file.Path, pathArgs{Path: file.Path}, &raw); err != nil {
		return vfs.File{}, err
	}
	info := vfs.FileFromMap(raw)
	if info.Path == "" {
		info = info.WithPath(file.Path)
	}
	return info, nil
}

// URL implements vfs.Transport
func (a *Adapter) URL(_ context.Context, file vfs.File) (string, error) {
	return a.invoker.URL(file.Path), nil
}

// Find implements vfs.Transport
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	args := findArgs{
		Path: dir.Path,
		Args: findQuery{Query: query.Query, Limit: query.Limit, Recursive: query.Recursive},
	}
	return a.list(ctx, "find", "find", dir.Path, args)
}

// FreeSpace implements vfs.Transport
func (a *Adapter) FreeSpace(ctx context.Context, root string) (int64, error) {
	var free float64
	if err := a.call(ctx, "freeSpace", "freeSpace", root, rootArgs{Root: root}, &free); err != nil {
		return 0, err
	}
	return int64(free), nil
}

var _ vfs.Transport = (*Adapter)(nil)
