package azure

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	vfs "github.com/os-js/OS.js-sub002"
)

// dirContentType marks the empty blobs standing in for directories
const dirContentType = "application/x-directory"

// Adapter is a Transport over one Azure Blob Storage container. Trash is
// not supported.
type Adapter struct {
	vfs.Unsupported

	client    *container.Client
	prefix    string
	urlExpiry time.Duration
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithPrefix stores every blob below prefix
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// WithURLExpiry sets how long SAS URLs stay valid
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.urlExpiry = d
	}
}

// New creates an Azure transport over a container client. URL and Copy
// need a client built with a shared key credential.
func New(client *container.Client, options ...AdapterOption) *Adapter {
	a := &Adapter{client: client, urlExpiry: 15 * time.Minute}
	for _, option := range options {
		option(a)
	}
	return a
}

// key maps a virtual path to a blob name
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

// virtual maps a blob name back into the scheme of like
func (a *Adapter) virtual(like, key string) string {
	rel := strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), "/")
	return vfs.Build(vfs.Scheme(like), "/"+rel)
}

func (a *Adapter) blob(p string) *blob.Client {
	return a.client.NewBlobClient(a.key(p))
}

// mapAzureError maps Azure errors onto vfs errors
func mapAzureError(op, filePath string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return vfs.NewPathError(op, filePath, vfs.ErrNotExist)
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		return vfs.NewPathError(op, filePath, vfs.ErrFileExists)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return vfs.NewPathError(op, filePath, vfs.ErrNotExist)
	}
	return vfs.NewPathError(op, filePath, err)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return bloberror.HasCode(err, bloberror.BlobNotFound) ||
		(errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound)
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	listPrefix := a.dirKey(dir.Path)

	var files []vfs.File
	pager := a.client.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: &listPrefix,
	})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapAzureError("scandir", dir.Path, err)
		}

		for _, p := range resp.Segment.BlobPrefixes {
			if p.Name == nil || *p.Name == listPrefix {
				continue
			}
			files = append(files, vfs.NewDir(a.virtual(dir.Path, *p.Name)))
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil || *item.Name == listPrefix || strings.HasSuffix(*item.Name, "/") {
				continue
			}
			f := vfs.NewFile(a.virtual(dir.Path, *item.Name))
			if props := item.Properties; props != nil {
				if props.ContentType != nil && *props.ContentType == dirContentType {
					continue
				}
				if props.ContentLength != nil {
					f.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					f.Mtime = *props.LastModified
				}
			}
			files = append(files, f)
		}
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
		return nil, mapAzureError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	resp, err := a.blob(file.Path).DownloadStream(ctx, nil)
	if err != nil {
		return nil, mapAzureError("read", file.Path, err)
	}
	return resp.Body, nil
}

func headers(p, contentType string) *blob.HTTPHeaders {
	if contentType == "" {
		contentType = vfs.GuessMIME(p)
	}
	return &blob.HTTPHeaders{BlobContentType: &contentType}
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	bb := a.client.NewBlockBlobClient(a.key(file.Path))
	_, err := bb.UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		HTTPHeaders: headers(file.Path, file.MIME),
	})
	if err != nil {
		return mapAzureError("write", file.Path, err)
	}
	return nil
}

// Upload implements vfs.Transport by streaming the body in blocks
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	target := vfs.Join(dest.Path, upload.Name)
	bb := a.client.NewBlockBlobClient(a.key(target))
	_, err := bb.UploadStream(ctx, upload.Body, &blockblob.UploadStreamOptions{
		HTTPHeaders: headers(target, upload.MIME),
	})
	if err != nil {
		return mapAzureError("upload", target, err)
	}
	return nil
}

// listAll returns every blob name below prefix
func (a *Adapter) listAll(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := a.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// copyBlob copies within the container through a short-lived read SAS
func (a *Adapter) copyBlob(ctx context.Context, src, dst string) error {
	srcURL, err := a.client.NewBlobClient(src).GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(a.urlExpiry), nil)
	if err != nil {
		return err
	}
	_, err = a.client.NewBlobClient(dst).CopyFromURL(ctx, srcURL, nil)
	return err
}

func (a *Adapter) copyTree(ctx context.Context, op string, src, dest vfs.File) ([]string, error) {
	if !src.IsDir() {
		srcKey := a.key(src.Path)
		if err := a.copyBlob(ctx, srcKey, a.key(dest.Path)); err != nil {
			return nil, mapAzureError(op, src.Path, err)
		}
		return []string{srcKey}, nil
	}

	srcPrefix, dstPrefix := a.dirKey(src.Path), a.dirKey(dest.Path)
	names, err := a.listAll(ctx, srcPrefix)
	if err != nil {
		return nil, mapAzureError(op, src.Path, err)
	}
	if len(names) == 0 {
		return nil, vfs.NewPathError(op, src.Path, vfs.ErrNotExist)
	}
	for _, n := range names {
		if err := a.copyBlob(ctx, n, dstPrefix+strings.TrimPrefix(n, srcPrefix)); err != nil {
			return nil, mapAzureError(op, src.Path, err)
		}
	}
	return names, nil
}

// Copy implements vfs.Transport with server-side copies
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
	for _, n := range names {
		if _, err := a.client.NewBlobClient(n).Delete(ctx, nil); err != nil && !isNotFound(err) {
			return mapAzureError(op, p, err)
		}
	}
	return nil
}

// Unlink implements vfs.Transport. Directories are removed with all blobs
// below them.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	if !file.IsDir() {
		_, err := a.blob(file.Path).Delete(ctx, nil)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return mapAzureError("unlink", file.Path, err)
		}
	}

	names, err := a.listAll(ctx, a.dirKey(file.Path))
	if err != nil {
		return mapAzureError("unlink", file.Path, err)
	}
	if len(names) == 0 {
		return vfs.NewPathError("unlink", file.Path, vfs.ErrNotExist)
	}
	return a.deleteAll(ctx, "unlink", file.Path, names)
}

// Mkdir creates a directory marker blob
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	ct := dirContentType
	bb := a.client.NewBlockBlobClient(a.dirKey(dir.Path))
	_, err := bb.Upload(ctx, streaming.NopCloser(bytes.NewReader(nil)), &blockblob.UploadOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return mapAzureError("mkdir", dir.Path, err)
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

// FileInfo implements vfs.Transport. Prefixes without a marker blob still
// count as directories.
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	if vfs.IsRootPath(file.Path) {
		return vfs.NewDir(file.Path), nil
	}

	props, err := a.blob(file.Path).GetProperties(ctx, nil)
	if err == nil {
		var ct string
		if props.ContentType != nil {
			ct = *props.ContentType
		}
		if ct == dirContentType {
			return vfs.NewDir(file.Path), nil
		}
		info := vfs.NewFile(file.Path, ct)
		if props.ContentLength != nil {
			info.Size = *props.ContentLength
		}
		if props.CreationTime != nil {
			info.Ctime = *props.CreationTime
		}
		if props.LastModified != nil {
			info.Mtime = *props.LastModified
		}
		return info, nil
	}
	if !isNotFound(err) {
		return vfs.File{}, mapAzureError("fileinfo", file.Path, err)
	}

	prefix := a.dirKey(file.Path)
	one := int32(1)
	pager := a.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix, MaxResults: &one})
	if pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return vfs.File{}, mapAzureError("fileinfo", file.Path, err)
		}
		if len(resp.Segment.BlobItems) > 0 {
			return vfs.NewDir(file.Path), nil
		}
	}
	return vfs.File{}, vfs.NewPathError("fileinfo", file.Path, vfs.ErrNotExist)
}

// URL returns a read-only SAS URL
func (a *Adapter) URL(_ context.Context, file vfs.File) (string, error) {
	u, err := a.blob(file.Path).GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(a.urlExpiry), nil)
	if err != nil {
		return "", mapAzureError("url", file.Path, err)
	}
	return u, nil
}

// Find matches blob names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace is unknown for containers
func (a *Adapter) FreeSpace(context.Context, string) (int64, error) {
	return -1, nil
}

// Checksum implements vfs.CanChecksum from the Content-MD5 property Azure
// keeps for single-shot uploads.
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	if algorithm != vfs.ChecksumMD5 {
		return "", vfs.NewPathError("checksum", file.Path, vfs.ErrNotSupported)
	}
	props, err := a.blob(file.Path).GetProperties(ctx, nil)
	if err != nil {
		return "", mapAzureError("checksum", file.Path, err)
	}
	if len(props.ContentMD5) == 0 {
		return "", vfs.NewPathError("checksum", file.Path, vfs.ErrNotSupported)
	}
	return hex.EncodeToString(props.ContentMD5), nil
}

func (a *Adapter) String() string {
	return strings.TrimSuffix(a.client.URL(), "/") + "/" + a.prefix
}

var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
)
