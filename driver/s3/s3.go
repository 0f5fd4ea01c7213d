package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	vfs "github.com/os-js/OS.js-sub002"
)

// dirContentType marks the empty objects standing in for directories
const dirContentType = "application/x-directory"

// API is the subset of *s3.Client the adapter uses
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner signs GET requests for URL
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Adapter is a Transport over one S3 bucket. Trash is not supported.
type Adapter struct {
	vfs.Unsupported

	client    API
	presigner Presigner
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

// WithPresigner sets the signer used by URL
func WithPresigner(p Presigner) AdapterOption {
	return func(a *Adapter) {
		a.presigner = p
	}
}

// WithURLExpiry sets how long URLs returned by URL stay valid
func WithURLExpiry(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.urlExpiry = d
	}
}

// New creates an S3 transport. A *s3.Client also becomes the presigner.
func New(client API, bucket string, options ...AdapterOption) *Adapter {
	a := &Adapter{
		client:    client,
		bucket:    bucket,
		urlExpiry: 15 * time.Minute,
	}
	if c, ok := client.(*s3.Client); ok {
		a.presigner = s3.NewPresignClient(c)
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// key maps a virtual path to an object key
func (a *Adapter) key(p string) string {
	return a.prefix + strings.TrimPrefix(vfs.Rel(p), "/")
}

// dirKey is the key prefix of the directory p
func (a *Adapter) dirKey(p string) string {
	k := a.key(p)
	if k == "" || strings.HasSuffix(k, "/") {
		return k
	}
	return k + "/"
}

// virtual maps an object key back into the scheme of like
func (a *Adapter) virtual(like, key string) string {
	rel := strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), "/")
	return vfs.Build(vfs.Scheme(like), "/"+rel)
}

// mapS3Error maps S3 errors onto vfs errors
func mapS3Error(op, filePath string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return vfs.NewPathError(op, filePath, vfs.ErrNotExist)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return vfs.NewPathError(op, filePath, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &notFound)
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	listPrefix := a.dirKey(dir.Path)

	var files []vfs.File
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(a.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("scandir", dir.Path, err)
		}

		for _, p := range page.CommonPrefixes {
			files = append(files, vfs.NewDir(a.virtual(dir.Path, aws.ToString(p.Prefix))))
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if k == listPrefix || strings.HasSuffix(k, "/") {
				continue
			}
			f := vfs.NewFile(a.virtual(dir.Path, k))
			f.Size = aws.ToInt64(obj.Size)
			f.Mtime = aws.ToTime(obj.LastModified)
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
		return nil, mapS3Error("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(file.Path)),
	})
	if err != nil {
		return nil, mapS3Error("read", file.Path, err)
	}
	return resp.Body, nil
}

func (a *Adapter) put(ctx context.Context, op, p string, body io.Reader, size int64, contentType string) error {
	if size < 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return vfs.NewPathError(op, p, err)
		}
		body, size = bytes.NewReader(data), int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(a.key(p)),
		Body:              body,
		ContentLength:     aws.Int64(size),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return mapS3Error(op, p, err)
	}
	return nil
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.put(ctx, "write", file.Path, bytes.NewReader(data), int64(len(data)), file.MIME)
}

// Upload implements vfs.Transport
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	target := vfs.Join(dest.Path, upload.Name)
	return a.put(ctx, "upload", target, upload.Body, upload.Size, upload.MIME)
}

// listAll returns every key below prefix
func (a *Adapter) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (a *Adapter) copyKey(ctx context.Context, src, dst string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		CopySource: aws.String(path.Join(a.bucket, src)),
		Key:        aws.String(dst),
	})
	return err
}

// Copy implements vfs.Transport with CopyObject. Directories are copied
// object by object.
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	_, err := a.copyTree(ctx, "copy", src, dest)
	return err
}

func (a *Adapter) copyTree(ctx context.Context, op string, src, dest vfs.File) ([]string, error) {
	if !src.IsDir() {
		srcKey := a.key(src.Path)
		if err := a.copyKey(ctx, srcKey, a.key(dest.Path)); err != nil {
			return nil, mapS3Error(op, src.Path, err)
		}
		return []string{srcKey}, nil
	}

	srcPrefix, dstPrefix := a.dirKey(src.Path), a.dirKey(dest.Path)
	keys, err := a.listAll(ctx, srcPrefix)
	if err != nil {
		return nil, mapS3Error(op, src.Path, err)
	}
	if len(keys) == 0 {
		return nil, vfs.NewPathError(op, src.Path, vfs.ErrNotExist)
	}
	for _, k := range keys {
		if err := a.copyKey(ctx, k, dstPrefix+strings.TrimPrefix(k, srcPrefix)); err != nil {
			return nil, mapS3Error(op, src.Path, err)
		}
	}
	return keys, nil
}

// Move implements vfs.Transport as copy followed by delete
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	keys, err := a.copyTree(ctx, "move", src, dest)
	if err != nil {
		return err
	}
	return a.deleteKeys(ctx, "move", src.Path, keys)
}

func (a *Adapter) deleteKeys(ctx context.Context, op, p string, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), 1000)
		objects := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapS3Error(op, p, err)
		}
		keys = keys[n:]
	}
	return nil
}

// Unlink implements vfs.Transport. Directories are removed with all
// objects below them.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	if !file.IsDir() {
		_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.key(file.Path)),
		})
		if err == nil {
			_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    aws.String(a.key(file.Path)),
			})
			if err != nil {
				return mapS3Error("unlink", file.Path, err)
			}
			return nil
		}
		if !isNotFound(err) {
			return mapS3Error("unlink", file.Path, err)
		}
	}

	keys, err := a.listAll(ctx, a.dirKey(file.Path))
	if err != nil {
		return mapS3Error("unlink", file.Path, err)
	}
	if len(keys) == 0 {
		return vfs.NewPathError("unlink", file.Path, vfs.ErrNotExist)
	}
	return a.deleteKeys(ctx, "unlink", file.Path, keys)
}

// Mkdir creates a directory marker object
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.dirKey(dir.Path)),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(dirContentType),
	})
	if err != nil {
		return mapS3Error("mkdir", dir.Path, err)
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
	if vfs.IsRootPath(file.Path) {
		return vfs.NewDir(file.Path), nil
	}

	resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(file.Path)),
	})
	if err == nil {
		info := vfs.NewFile(file.Path, aws.ToString(resp.ContentType))
		info.Size = aws.ToInt64(resp.ContentLength)
		info.Mtime = aws.ToTime(resp.LastModified)
		return info, nil
	}
	if !isNotFound(err) {
		return vfs.File{}, mapS3Error("fileinfo", file.Path, err)
	}

	resp2, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.dirKey(file.Path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return vfs.File{}, mapS3Error("fileinfo", file.Path, err)
	}
	if len(resp2.Contents) == 0 && len(resp2.CommonPrefixes) == 0 {
		return vfs.File{}, vfs.NewPathError("fileinfo", file.Path, vfs.ErrNotExist)
	}
	return vfs.NewDir(file.Path), nil
}

// URL returns a presigned GET URL
func (a *Adapter) URL(ctx context.Context, file vfs.File) (string, error) {
	if a.presigner == nil {
		return "", vfs.NewPathError("url", file.Path, vfs.ErrNotSupported)
	}
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(file.Path)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = a.urlExpiry
	})
	if err != nil {
		return "", mapS3Error("url", file.Path, err)
	}
	return req.URL, nil
}

// Find matches object names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace is unknown for buckets
func (a *Adapter) FreeSpace(context.Context, string) (int64, error) {
	return -1, nil
}

// Checksum implements vfs.CanChecksum by reading and hashing the object
func (a *Adapter) Checksum(ctx context.Context, file vfs.File, algorithm vfs.ChecksumAlgorithm) (string, error) {
	if algorithm == vfs.ChecksumMD5 {
		resp, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.key(file.Path)),
		})
		if err != nil {
			return "", mapS3Error("checksum", file.Path, err)
		}
		if sum, ok := etagMD5(aws.ToString(resp.ETag)); ok {
			return sum, nil
		}
	}

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

// etagMD5 returns the MD5 a single-part ETag carries. Multipart ETags
// have a part-count suffix and fail the length check.
func etagMD5(etag string) (string, bool) {
	etag = strings.ToLower(strings.Trim(etag, `"`))
	if len(etag) != 32 {
		return "", false
	}
	if _, err := hex.DecodeString(etag); err != nil {
		return "", false
	}
	return etag, true
}

func (a *Adapter) String() string {
	return fmt.Sprintf("s3://%s/%s", a.bucket, a.prefix)
}

// Ensure Adapter implements interfaces
var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.CanChecksum = (*Adapter)(nil)
)
