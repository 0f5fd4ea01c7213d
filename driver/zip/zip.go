package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	vfs "github.com/os-js/OS.js-sub002"
)

// zipEntry is a file or directory inside the archive. Directories that
// the archive only implies through member names have no header.
type zipEntry struct {
	file  *zip.File
	isDir bool
}

// Adapter serves the members of a ZIP archive as a read-only Transport.
// Mutating operations return ErrNotSupported.
type Adapter struct {
	vfs.Unsupported

	mu      sync.RWMutex
	path    string
	reader  *zip.ReadCloser
	entries map[string]*zipEntry // keyed by "/"-rooted member path
	opened  time.Time
}

// Open indexes the archive at zipPath
func Open(zipPath string) (*Adapter, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	a := &Adapter{
		path:    zipPath,
		reader:  reader,
		entries: map[string]*zipEntry{"/": {isDir: true}},
		opened:  time.Now(),
	}
	for _, f := range reader.File {
		name := normalizePath(f.Name)
		if name == "/" {
			continue
		}
		a.entries[name] = &zipEntry{file: f, isDir: f.FileInfo().IsDir()}
		a.ensureParentDirs(name)
	}
	return a, nil
}

// Close releases the archive
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reader == nil {
		return nil
	}
	err := a.reader.Close()
	a.reader = nil
	return err
}

func (a *Adapter) ensureParentDirs(name string) {
	for dir := path.Dir(name); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := a.entries[dir]; ok {
			return
		}
		a.entries[dir] = &zipEntry{isDir: true}
	}
}

// normalizePath turns a member name or virtual path into a rooted,
// cleaned path that cannot climb out of the archive.
func normalizePath(p string) string {
	return path.Clean("/" + strings.TrimSuffix(p, "/"))
}

func (a *Adapter) lookup(op string, file vfs.File) (*zipEntry, error) {
	if a.reader == nil {
		return nil, vfs.NewPathError(op, file.Path, vfs.ErrNotMounted)
	}
	e, ok := a.entries[normalizePath(vfs.Rel(file.Path))]
	if !ok {
		return nil, vfs.NewPathError(op, file.Path, vfs.ErrNotExist)
	}
	return e, nil
}

func (a *Adapter) describe(p string, e *zipEntry) vfs.File {
	if e.isDir {
		d := vfs.NewDir(p)
		d.Mtime = a.opened
		if e.file != nil {
			d.Mtime = e.file.Modified
		}
		return d
	}
	f := vfs.NewFile(p)
	f.Size = int64(e.file.UncompressedSize64)
	f.Mtime = e.file.Modified
	return f
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(_ context.Context, dir vfs.File) ([]vfs.File, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, err := a.lookup("scandir", dir)
	if err != nil {
		return nil, err
	}
	if !e.isDir {
		return nil, vfs.NewPathError("scandir", dir.Path, vfs.ErrNotDir)
	}

	parent := normalizePath(vfs.Rel(dir.Path))
	scheme := vfs.Scheme(dir.Path)
	var files []vfs.File
	for name, child := range a.entries {
		if name == "/" || path.Dir(name) != parent {
			continue
		}
		files = append(files, a.describe(vfs.Build(scheme, name), child))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Read implements vfs.Transport
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

// Download implements vfs.Transport. The member is inflated lazily.
func (a *Adapter) Download(_ context.Context, file vfs.File) (io.ReadCloser, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, err := a.lookup("read", file)
	if err != nil {
		return nil, err
	}
	if e.isDir {
		return nil, vfs.NewPathError("read", file.Path, vfs.ErrIsDir)
	}
	rc, err := e.file.Open()
	if err != nil {
		return nil, vfs.NewPathError("read", file.Path, err)
	}
	return rc, nil
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(_ context.Context, file vfs.File) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, err := a.lookup("exists", file)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(_ context.Context, file vfs.File) (vfs.File, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, err := a.lookup("fileinfo", file)
	if err != nil {
		return vfs.File{}, err
	}
	return a.describe(file.Path, e), nil
}

// Find implements vfs.Transport
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace implements vfs.Transport; an archive has no room to grow.
func (a *Adapter) FreeSpace(context.Context, string) (int64, error) {
	return 0, nil
}

// Checksum implements vfs.CanChecksum. CRC32 comes from the member
// header; other algorithms inflate the member.
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	if algorithm == vfs.ChecksumCRC32 {
		a.mu.RLock()
		e, err := a.lookup("checksum", file)
		a.mu.RUnlock()
		if err != nil {
			return "", err
		}
		if e.isDir {
			return "", vfs.NewPathError("checksum", file.Path, vfs.ErrIsDir)
		}
		return hex.EncodeToString(binary.BigEndian.AppendUint32(nil, e.file.CRC32)), nil
	}

	data, err := a.Read(ctx, file)
	if err != nil {
		return "", err
	}
	sum, err := vfs.CalculateChecksum(bytes.NewReader(data), algorithm)
	if err != nil {
		return "", vfs.NewPathError("checksum", file.Path, err)
	}
	return sum, nil
}

func (a *Adapter) String() string {
	return "zip:" + a.path
}

var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
)
