package gcs

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	vfs "github.com/os-js/OS.js-sub002"
	"google.golang.org/api/iterator"
)

// dirContentType marks the empty objects standing in for directories
const dirContentType = "application/x-directory"

// Adapter is a Transport over one Google Cloud Storage bucket. Trash is
// not supported.
type Adapter struct {
	vfs.Unsupported

	client    *storage.Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithPrefix stores every object below prefix
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithURLExpiry sets how long signed URLs stay valid
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.urlExpiry = d
	}
}

// New creates a GCS transport
func New(client *storage.Client, bucket string, options ...AdapterOption) *Adapter {
	a := &Adapter{
		client:    client,
		bucket:    bucket,
		urlExpiry: 15 * time.Minute,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Adapter) object(p string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(a.key(p))
}

// key maps a virtual path to an object name
func (a *Adapter) key(p string) string {
	return a.prefix + strings.TrimPrefix(vfs.Rel(p), "/")
}

// dirKey is the name prefix of the directory p
func (a *Adapter) dirKey(p string) string {
	k := a.key(p)
	if k == "" || strings.HasSuffix(k, "/") {
		return k
	}
	return k + "/"
}

// virtual maps an object name back into the scheme of like
func (a *Adapter) virtual(like, key string) string {
	rel := strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), "/")
	return vfs.Build(vfs.Scheme(like), "/"+rel)
}

// mapGCSError maps GCS errors onto vfs errors
func mapGCSError(op, filePath string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return vfs.NewPathError(op, filePath, vfs.ErrNotExist)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return vfs.NewPathError(op, filePath, err)
}

func isDirObject(attrs *storage.ObjectAttrs) bool {
	return strings.HasSuffix(attrs.Name, "/") || attrs.ContentType == dirContentType
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	listPrefix := a.dirKey(dir.Path)

	var files []vfs.File
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{
		Prefix:    listPrefix,
		Delimiter: "/",
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapGCSError("scandir", dir.Path, err)
		}

		if attrs.Prefix != "" {
			if attrs.Prefix != listPrefix {
				files = append(files, vfs.NewDir(a.virtual(dir.Path, attrs.Prefix)))
			}
			continue
		}
		if attrs.Name == listPrefix || isDirObject(attrs) {
			continue
		}
		f := vfs.NewFile(a.virtual(dir.Path, attrs.Name), attrs.ContentType)
		f.Size = attrs.Size
		f.Ctime = attrs.Created
		f.Mtime = attrs.Updated
		files = append(files, f)
	}
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
		return nil, mapGCSError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	r, err := a.object(file.Path).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("read", file.Path, err)
	}
	return r, nil
}

func (a *Adapter) put(ctx context.Context, op, p string, body io.Reader, contentType string) error {
	w := a.object(p).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = vfs.GuessMIME(p)
	}

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return mapGCSError(op, p, err)
	}
	if err := w.Close(); err != nil {
		return mapGCSError(op, p, err)
	}
	return nil
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.put(ctx, "write", file.Path, bytes.NewReader(data), file.MIME)
}

// Upload implements vfs.Transport by streaming the body into the object
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	return a.put(ctx, "upload", vfs.Join(dest.Path, upload.Name), upload.Body, upload.MIME)
}

// listAll returns every object name below prefix
func (a *Adapter) listAll(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

// copyTree copies src to dest server side and returns the source object
// names. Directories are copied object by object.
func (a *Adapter) copyTree(ctx context.Context, op string, src, dest vfs.File) ([]string, error) {
	bkt := a.client.Bucket(a.bucket)
	if !src.IsDir() {
		srcKey := a.key(src.Path)
		if _, err := bkt.Object(a.key(dest.Path)).CopierFrom(bkt.Object(srcKey)).Run(ctx); err != nil {
			return nil, mapGCSError(op, src.Path, err)
		}
		return []string{srcKey}, nil
	}

	srcPrefix, dstPrefix := a.dirKey(src.Path), a.dirKey(dest.Path)
	names, err := a.listAll(ctx, srcPrefix)
	if err != nil {
		return nil, mapGCSError(op, src.Path, err)
	}
	if len(names) == 0 {
		return nil, vfs.NewPathError(op, src.Path, vfs.ErrNotExist)
	}
	for _, n := range names {
		target := bkt.Object(dstPrefix + strings.TrimPrefix(n, srcPrefix))
		if _, err := target.CopierFrom(bkt.Object(n)).Run(ctx); err != nil {
			return nil, mapGCSError(op, src.Path, err)
		}
	}
	return names, nil
}

// Copy implements vfs.Transport with the native object copier
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	_, err := a.copyTree(ctx, "copy", src, dest)
	return err
}

// Move implements vfs.Transport as copy followed by delete
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	names, err := a.copyTree(ctx, "move", src, dest)
	if err != nil {
		return err
	}
	return a.deleteAll(ctx, "move", src.Path, names)
}

func (a *Adapter) deleteAll(ctx context.Context, op, p string, names []string) error {
	bkt := a.client.Bucket(a.bucket)
	for _, n := range names {
		if err := bkt.Object(n).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return mapGCSError(op, p, err)
		}
	}
	return nil
}

// Unlink implements vfs.Transport. Directories are removed with all
// objects below them.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	if !file.IsDir() {
		err := a.object(file.Path).Delete(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return mapGCSError("unlink", file.Path, err)
		}
	}

	names, err := a.listAll(ctx, a.dirKey(file.Path))
	if err != nil {
		return mapGCSError("unlink", file.Path, err)
	}
	if len(names) == 0 {
		return vfs.NewPathError("unlink", file.Path, vfs.ErrNotExist)
	}
	return a.deleteAll(ctx, "unlink", file.Path, names)
}

// Mkdir creates a directory marker object
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	w := a.client.Bucket(a.bucket).Object(a.dirKey(dir.Path)).NewWriter(ctx)
	w.ContentType = dirContentType
	if err := w.Close(); err != nil {
		return mapGCSError("mkdir", dir.Path, err)
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

// FileInfo implements vfs.Transport. Prefixes without a marker object
// still count as directories.
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	if vfs.IsRootPath(file.Path) {
		return vfs.NewDir(file.Path), nil
	}

	attrs, err := a.object(file.Path).Attrs(ctx)
	if err == nil {
		info := vfs.NewFile(file.Path, attrs.ContentType)
		info.Size = attrs.Size
		info.Ctime = attrs.Created
		info.Mtime = attrs.Updated
		return info, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return vfs.File{}, mapGCSError("fileinfo", file.Path, err)
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: a.dirKey(file.Path)})
	if _, err := it.Next(); err != nil {
		if errors.Is(err, iterator.Done) {
			return vfs.File{}, vfs.NewPathError("fileinfo", file.Path, vfs.ErrNotExist)
		}
		return vfs.File{}, mapGCSError("fileinfo", file.Path, err)
	}
	return vfs.NewDir(file.Path), nil
}

// URL returns a signed GET URL
func (a *Adapter) URL(_ context.Context, file vfs.File) (string, error) {
	u, err := a.client.Bucket(a.bucket).SignedURL(a.key(file.Path), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(a.urlExpiry),
	})
	if err != nil {
		return "", mapGCSError("url", file.Path, err)
	}
	return u, nil
}

// Find matches object names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace is unknown for buckets
func (a *Adapter) FreeSpace(context.Context, string) (int64, error) {
	return -1, nil
}

// Checksum implements vfs.CanChecksum from the MD5 GCS stores with every
// object. Other algorithms need the content.
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	if algorithm != vfs.ChecksumMD5 {
		return "", vfs.NewPathError("checksum", file.Path, vfs.ErrNotSupported)
	}
	attrs, err := a.object(file.Path).Attrs(ctx)
	if err != nil {
		return "", mapGCSError("checksum", file.Path, err)
	}
	// composite objects carry no MD5
	if len(attrs.MD5) == 0 {
		return "", vfs.NewPathError("checksum", file.Path, vfs.ErrNotSupported)
	}
	return hex.EncodeToString(attrs.MD5), nil
}

// Close releases the storage client
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) String() string {
	return fmt.Sprintf("gs://%s/%s", a.bucket, a.prefix)
}

var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
	_ io.Closer       = (*Adapter)(nil)
)
