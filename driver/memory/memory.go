package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	vfs "github.com/os-js/OS.js-sub002"
)

// memoryFile represents a file stored in memory
type memoryFile struct {
	content []byte
	mime    string
	ctime   time.Time
	mtime   time.Time
}

// memoryDir represents a directory in memory
type memoryDir struct {
	ctime time.Time
}

// trashed is a subtree removed by Trash, keyed by its original paths
type trashed struct {
	files map[string]*memoryFile
	dirs  map[string]*memoryDir
}

// Adapter is an in-memory Transport. Entries are keyed by their full
// virtual path, so one adapter can back several mounts.
type Adapter struct {
	mu      sync.RWMutex
	files   map[string]*memoryFile
	dirs    map[string]*memoryDir
	trash   map[string]*trashed
	maxSize int64 // Maximum total storage size (0 = unlimited)
	size    int64 // Current total size
}

// Config holds configuration for the memory adapter
type Config struct {
	// MaxSize is the maximum total storage size in bytes (0 = unlimited)
	MaxSize int64
}

// New creates a new in-memory transport
func New(cfg ...Config) *Adapter {
	var maxSize int64
	if len(cfg) > 0 {
		maxSize = cfg[0].MaxSize
	}
	return &Adapter{
		files:   make(map[string]*memoryFile),
		dirs:    make(map[string]*memoryDir),
		trash:   make(map[string]*trashed),
		maxSize: maxSize,
	}
}

func key(p string) string {
	return vfs.Join(p)
}

func pathError(op, p string, err error) error {
	return &vfs.PathError{Op: op, Path: p, Err: err}
}

// isDirLocked reports whether p is a directory. Mount roots always are.
func (a *Adapter) isDirLocked(p string) bool {
	if vfs.IsRootPath(p) {
		return true
	}
	_, ok := a.dirs[p]
	return ok
}

// ensureParentDirs creates all parent directories for p.
// Must be called with lock held
func (a *Adapter) ensureParentDirs(p string) {
	now := time.Now()
	for dir := vfs.Dirname(p); !vfs.IsRootPath(dir); dir = vfs.Dirname(dir) {
		if _, exists := a.dirs[dir]; !exists {
			a.dirs[dir] = &memoryDir{ctime: now}
		}
	}
}

// under reports whether p lies strictly below dir
func under(p, dir string) bool {
	if vfs.IsRootPath(dir) {
		return vfs.Scheme(p) == vfs.Scheme(dir) && !vfs.IsRootPath(p)
	}
	return strings.HasPrefix(p, dir+"/")
}

func (a *Adapter) describeLocked(p string) (vfs.File, bool) {
	if f, ok := a.files[p]; ok {
		out := vfs.NewFile(p, f.mime)
		out.Size = int64(len(f.content))
		out.Ctime = f.ctime
		out.Mtime = f.mtime
		return out, true
	}
	if a.isDirLocked(p) {
		out := vfs.NewDir(p)
		if d, ok := a.dirs[p]; ok {
			out.Ctime = d.ctime
			out.Mtime = d.ctime
		}
		return out, true
	}
	return vfs.File{}, false
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := key(dir.Path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.isDirLocked(p) {
		if _, isFile := a.files[p]; isFile {
			return nil, pathError("scandir", p, vfs.ErrNotDir)
		}
		return nil, pathError("scandir", p, vfs.ErrNotExist)
	}

	var list []vfs.File
	for d := range a.dirs {
		if vfs.Dirname(d) == p && d != p {
			f, _ := a.describeLocked(d)
			list = append(list, f)
		}
	}
	for fp := range a.files {
		if vfs.Dirname(fp) == p {
			f, _ := a.describeLocked(fp)
			list = append(list, f)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list, nil
}

// Read implements vfs.Transport
func (a *Adapter) Read(ctx context.Context, file vfs.File) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := key(file.Path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	f, exists := a.files[p]
	if !exists {
		if a.isDirLocked(p) {
			return nil, pathError("read", p, vfs.ErrIsDir)
		}
		return nil, pathError("read", p, vfs.ErrNotExist)
	}
	return bytes.Clone(f.content), nil
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := key(file.Path)
	if vfs.IsRootPath(p) {
		return pathError("write", p, vfs.ErrIsDir)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeLocked(p, file.MIME, data)
}

func (a *Adapter) writeLocked(p, contentType string, data []byte) error {
	if _, isDir := a.dirs[p]; isDir {
		return pathError("write", p, vfs.ErrIsDir)
	}

	now := time.Now()
	newSize := a.size + int64(len(data))
	ctime := now
	if existing, exists := a.files[p]; exists {
		newSize -= int64(len(existing.content))
		ctime = existing.ctime
	}
	if a.maxSize > 0 && newSize > a.maxSize {
		return pathError("write", p, vfs.ErrTooLarge)
	}

	if contentType == "" || contentType == vfs.MIMEOctetStream {
		contentType = vfs.GuessContentType(vfs.Basename(p), data)
	}

	a.ensureParentDirs(p)
	a.files[p] = &memoryFile{
		content: bytes.Clone(data),
		mime:    contentType,
		ctime:   ctime,
		mtime:   now,
	}
	a.size = newSize
	return nil
}

// Copy implements vfs.Transport
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.transfer("copy", key(src.Path), key(dest.Path), false)
}

// Move implements vfs.Transport
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.transfer("move", key(src.Path), key(dest.Path), true)
}

func (a *Adapter) transfer(op, src, dst string, remove bool) error {
	if src == dst {
		return nil
	}
	if under(dst, src) {
		return pathError(op, dst, vfs.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if f, ok := a.files[src]; ok {
		if err := a.writeLocked(dst, f.mime, f.content); err != nil {
			return err
		}
		if remove {
			a.size -= int64(len(f.content))
			delete(a.files, src)
		}
		return nil
	}

	if _, ok := a.dirs[src]; !ok {
		return pathError(op, src, vfs.ErrNotExist)
	}

	rebase := func(p string) string { return dst + strings.TrimPrefix(p, src) }
	a.ensureParentDirs(dst)
	a.dirs[dst] = &memoryDir{ctime: time.Now()}
	for d, info := range a.dirs {
		if under(d, src) {
			a.dirs[rebase(d)] = &memoryDir{ctime: info.ctime}
		}
	}
	for fp, f := range a.files {
		if under(fp, src) {
			if err := a.writeLocked(rebase(fp), f.mime, f.content); err != nil {
				return err
			}
		}
	}
	if remove {
		a.removeLocked(src)
	}
	return nil
}

// removeLocked deletes p and everything below it
func (a *Adapter) removeLocked(p string) {
	if f, ok := a.files[p]; ok {
		a.size -= int64(len(f.content))
		delete(a.files, p)
		return
	}
	for fp, f := range a.files {
		if under(fp, p) {
			a.size -= int64(len(f.content))
			delete(a.files, fp)
		}
	}
	for d := range a.dirs {
		if d == p || under(d, p) {
			delete(a.dirs, d)
		}
	}
}

// Unlink implements vfs.Transport
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := key(file.Path)
	if vfs.IsRootPath(p) {
		return pathError("unlink", p, vfs.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.describeLocked(p); !ok {
		return pathError("unlink", p, vfs.ErrNotExist)
	}
	a.removeLocked(p)
	return nil
}

// Mkdir implements vfs.Transport
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := key(dir.Path)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, isFile := a.files[p]; isFile {
		return pathError("mkdir", p, vfs.ErrFileExists)
	}
	if a.isDirLocked(p) {
		return nil
	}
	a.ensureParentDirs(p)
	a.dirs[p] = &memoryDir{ctime: time.Now()}
	return nil
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.describeLocked(key(file.Path))
	return ok, nil
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	if err := ctx.Err(); err != nil {
		return vfs.File{}, err
	}
	p := key(file.Path)

	a.mu.RLock()
	defer a.mu.RUnlock()

	info, ok := a.describeLocked(p)
	if !ok {
		return vfs.File{}, pathError("fileinfo", p, vfs.ErrNotExist)
	}
	return info, nil
}

// URL returns the content as a data URL
func (a *Adapter) URL(ctx context.Context, file vfs.File) (string, error) {
	data, err := a.Read(ctx, file)
	if err != nil {
		return "", err
	}
	info, err := a.FileInfo(ctx, file)
	if err != nil {
		return "", err
	}
	return vfs.DataURL{MIME: info.MIME, Data: data}.String(), nil
}

// Upload implements vfs.Transport
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return pathError("upload", dest.Path, err)
	}
	target := vfs.NewFile(vfs.Join(dest.Path, upload.Name), upload.MIME)
	return a.Write(ctx, target, data)
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	data, err := a.Read(ctx, file)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Find matches entry names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// Trash implements vfs.Transport
func (a *Adapter) Trash(ctx context.Context, file vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := key(file.Path)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.describeLocked(p); !ok || vfs.IsRootPath(p) {
		return pathError("trash", p, vfs.ErrNotExist)
	}
	t := &trashed{files: map[string]*memoryFile{}, dirs: map[string]*memoryDir{}}
	for fp, f := range a.files {
		if fp == p || under(fp, p) {
			t.files[fp] = f
		}
	}
	for d, info := range a.dirs {
		if d == p || under(d, p) {
			t.dirs[d] = info
		}
	}
	a.removeLocked(p)
	a.trash[p] = t
	return nil
}

// Untrash implements vfs.Transport
func (a *Adapter) Untrash(ctx context.Context, file vfs.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := key(file.Path)

	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.trash[p]
	if !ok {
		return pathError("untrash", p, vfs.ErrNotExist)
	}
	if _, taken := a.describeLocked(p); taken {
		return pathError("untrash", p, vfs.ErrFileExists)
	}
	a.ensureParentDirs(p)
	for d, info := range t.dirs {
		a.dirs[d] = info
	}
	for fp, f := range t.files {
		a.files[fp] = f
		a.size += int64(len(f.content))
	}
	delete(a.trash, p)
	return nil
}

// EmptyTrash implements vfs.Transport
func (a *Adapter) EmptyTrash(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.trash = make(map[string]*trashed)
	a.mu.Unlock()
	return nil
}

// FreeSpace returns the remaining capacity, or -1 when unlimited
func (a *Adapter) FreeSpace(ctx context.Context, _ string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if a.maxSize <= 0 {
		return -1, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxSize - a.size, nil
}

// Checksum implements vfs.CanChecksum
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	data, err := a.Read(ctx, file)
	if err != nil {
		return "", err
	}
	return vfs.CalculateChecksum(bytes.NewReader(data), algorithm)
}

// Clear removes all files and directories
func (a *Adapter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.files = make(map[string]*memoryFile)
	a.dirs = make(map[string]*memoryDir)
	a.trash = make(map[string]*trashed)
	a.size = 0
}

// Size returns the current total size of all stored files
func (a *Adapter) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// FileCount returns the number of files stored
func (a *Adapter) FileCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.files)
}

// Ensure Adapter implements interfaces
var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
)
