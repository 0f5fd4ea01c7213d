// Package webdav is a transport for WebDAV collections such as ownCloud or
// Nextcloud. Every file operation maps onto one WebDAV method.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// Config holds the server settings
type Config struct {
	// Host is the collection URL the mount is rooted at, e.g.
	// https://cloud.example.com/remote.php/webdav/
	Host     string
	Username string
	Password string

	Timeout    time.Duration
	MaxRetries uint64
	// Client replaces the default http.Client
	Client *http.Client
}

// Adapter is a Transport over a WebDAV server. Retries cover network
// errors, 5xx and 429 responses.
type Adapter struct {
	vfs.Unsupported

	base       *url.URL
	username   string
	password   string
	client     *http.Client
	maxRetries uint64
	logger     *zap.Logger
}

// AdapterOption configures Adapter
type AdapterOption func(*Adapter)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a transport for the collection at cfg.Host
func New(cfg Config, opts ...AdapterOption) (*Adapter, error) {
	base, err := url.Parse(cfg.Host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: webdav host %q is not an absolute URL", vfs.ErrInvalidArgument, cfg.Host)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawPath = ""
	if base.User != nil && cfg.Username == "" {
		cfg.Username = base.User.Username()
		cfg.Password, _ = base.User.Password()
	}
	base.User = nil

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	a := &Adapter{
		base:       base,
		username:   cfg.Username,
		password:   cfg.Password,
		client:     client,
		maxRetries: cfg.MaxRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// resource returns the server URL of a virtual path
func (a *Adapter) resource(p string) string {
	u := *a.base
	u.Path = path.Join(a.base.Path, vfs.Rel(p))
	return u.String()
}

// target is resource with the trailing slash servers expect on
// collections
func (a *Adapter) target(f vfs.File) string {
	u := a.resource(f.Path)
	if f.IsDir() && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// StatusError is a response status the operation did not expect
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned %d %s", e.Method, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap classifies the status
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound, http.StatusConflict:
		return vfs.ErrNotExist
	case http.StatusUnauthorized, http.StatusForbidden:
		return vfs.ErrNotAuthorized
	case http.StatusPreconditionFailed:
		return vfs.ErrFileExists
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return vfs.ErrNotSupported
	default:
		return vfs.ErrBackendFailure
	}
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code != http.StatusNotImplemented && code != http.StatusInsufficientStorage)
}

type request struct {
	method  string
	target  string
	header  http.Header
	body    func() (io.Reader, error)
	retries uint64
}

// do sends r, retrying transient failures. The response is returned open
// on a 2xx status.
func (a *Adapter) do(ctx context.Context, r request) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		var body io.Reader
		if r.body != nil {
			b, err := r.body()
			if err != nil {
				return backoff.Permanent(err)
			}
			body = b
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.target, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range r.header {
			req.Header[k] = v
		}
		if a.username != "" || a.password != "" {
			req.SetBasicAuth(a.username, a.password)
		}

		res, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			resp = res
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		res.Body.Close()
		statusErr := &StatusError{Method: r.method, Code: res.StatusCode, Body: strings.TrimSpace(string(msg))}
		if retryable(res.StatusCode) {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.retries), ctx)
	notify := func(err error, wait time.Duration) {
		a.logger.Debug("webdav request retried",
			zap.String("method", r.method),
			zap.String("url", r.target),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// exec runs a request whose response body is not needed
func (a *Adapter) exec(ctx context.Context, op, p string, r request) error {
	resp, err := a.do(ctx, r)
	if err != nil {
		return mapError(op, p, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func mapError(op, p string, err error) error {
	if vfs.IsCanceled(err) {
		return err
	}
	return vfs.NewPathError(op, p, err)
}

func bytesBody(data []byte) func() (io.Reader, error) {
	return func() (io.Reader, error) {
		return bytes.NewReader(data), nil
	}
}

// Scandir implements vfs.Transport with a depth 1 PROPFIND
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	entries, err := a.propfind(ctx, "scandir", a.target(dir), dir.Path, "1", propfindBody)
	if err != nil {
		return nil, err
	}

	self := path.Join("/", a.base.Path, vfs.Rel(dir.Path))
	files := make([]vfs.File, 0, len(entries))
	for _, e := range entries {
		if e.path == self {
			continue
		}
		files = append(files, e.file(vfs.Join(dir.Path, path.Base(e.path))))
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
		return nil, mapError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	resp, err := a.do(ctx, request{method: http.MethodGet, target: a.resource(file.Path), retries: a.maxRetries})
	if err != nil {
		return nil, mapError("read", file.Path, err)
	}
	return resp.Body, nil
}

func contentHeader(mime string) http.Header {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return http.Header{"Content-Type": {mime}}
}

// Write implements vfs.Transport with PUT
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.exec(ctx, "write", file.Path, request{
		method:  http.MethodPut,
		target:  a.resource(file.Path),
		header:  contentHeader(file.MIME),
		body:    bytesBody(data),
		retries: a.maxRetries,
	})
}

// Upload implements vfs.Transport. Bodies that can seek are retried; other
// bodies are streamed in a single attempt.
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	p := vfs.Join(dest.Path, upload.Name)
	r := request{
		method: http.MethodPut,
		target: a.resource(p),
		header: contentHeader(upload.MIME),
		body: func() (io.Reader, error) {
			return upload.Body, nil
		},
	}
	if seeker, ok := upload.Body.(io.Seeker); ok {
		r.retries = a.maxRetries
		r.body = func() (io.Reader, error) {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return upload.Body, nil
		}
	}
	return a.exec(ctx, "upload", p, r)
}

func (a *Adapter) transfer(ctx context.Context, op, method string, src, dest vfs.File) error {
	dest.Type = src.Type
	return a.exec(ctx, op, src.Path, request{
		method: method,
		target: a.target(src),
		header: http.Header{
			"Destination": {a.target(dest)},
			"Depth":       {"infinity"},
			"Overwrite":   {"T"},
		},
		retries: a.maxRetries,
	})
}

// Copy implements vfs.Transport with a server-side COPY. Like Write, an
// existing destination is replaced.
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	return a.transfer(ctx, "copy", "COPY", src, dest)
}

// Move implements vfs.Transport with a server-side MOVE
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	return a.transfer(ctx, "move", "MOVE", src, dest)
}

// Unlink implements vfs.Transport. Collections are removed with their
// members.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	return a.exec(ctx, "unlink", file.Path, request{
		method:  http.MethodDelete,
		target:  a.target(file),
		retries: a.maxRetries,
	})
}

// Mkdir implements vfs.Transport. MKCOL only creates one level, so missing
// parents are created first.
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	dir = vfs.NewDir(dir.Path)
	err := a.mkcol(ctx, dir)
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusMethodNotAllowed:
			return vfs.NewPathError("mkdir", dir.Path, vfs.ErrFileExists)
		case se.Code == http.StatusConflict && !vfs.IsRootPath(dir.Path):
			if perr := a.Mkdir(ctx, vfs.NewDir(vfs.Dirname(dir.Path))); perr != nil && !vfs.IsExist(perr) {
				return perr
			}
			err = a.mkcol(ctx, dir)
		}
	}
	if err != nil {
		return mapError("mkdir", dir.Path, err)
	}
	return nil
}

func (a *Adapter) mkcol(ctx context.Context, dir vfs.File) error {
	resp, err := a.do(ctx, request{method: "MKCOL", target: a.target(dir), retries: a.maxRetries})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Exists implements vfs.Transport with a depth 0 PROPFIND
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	_, err := a.FileInfo(ctx, file)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	entries, err := a.propfind(ctx, "fileinfo", a.target(file), file.Path, "0", propfindBody)
	if err != nil {
		return vfs.File{}, err
	}
	if len(entries) == 0 {
		return vfs.File{}, vfs.NewPathError("fileinfo", file.Path, vfs.ErrNotExist)
	}
	return entries[0].file(file.Path), nil
}

// URL implements vfs.Transport. Credentials are never part of the address.
func (a *Adapter) URL(_ context.Context, file vfs.File) (string, error) {
	return a.resource(file.Path), nil
}

// FreeSpace implements vfs.Transport through the RFC 4331 quota property.
// Servers without quota support report -1.
func (a *Adapter) FreeSpace(ctx context.Context, root string) (int64, error) {
	entries, err := a.propfind(ctx, "freespace", a.target(vfs.NewDir(root)), root, "0", quotaBody)
	if err != nil {
		return -1, err
	}
	if len(entries) == 0 || entries[0].prop.QuotaAvailable == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(entries[0].prop.QuotaAvailable), 10, 64)
	if err != nil || n < 0 {
		return -1, nil
	}
	return n, nil
}

// ============================================================================
// PROPFIND
// ============================================================================

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:"><D:prop>
<D:resourcetype/><D:getcontentlength/><D:getcontenttype/><D:getetag/><D:getlastmodified/><D:creationdate/>
</D:prop></D:propfind>`

const quotaBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:"><D:prop><D:quota-available-bytes/></D:prop></D:propfind>`

type multistatus struct {
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ResourceType   resourceType `xml:"DAV: resourcetype"`
	ContentLength  string       `xml:"DAV: getcontentlength"`
	ContentType    string       `xml:"DAV: getcontenttype"`
	ETag           string       `xml:"DAV: getetag"`
	LastModified   string       `xml:"DAV: getlastmodified"`
	CreationDate   string       `xml:"DAV: creationdate"`
	QuotaAvailable string       `xml:"DAV: quota-available-bytes"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// entry is one member of a multistatus response
type entry struct {
	// path is the decoded, cleaned server path
	path string
	dir  bool
	prop prop
}

func (e entry) file(p string) vfs.File {
	var f vfs.File
	if e.dir {
		f = vfs.NewDir(p)
	} else {
		f = vfs.NewFile(p, e.prop.ContentType)
		if n, err := strconv.ParseInt(strings.TrimSpace(e.prop.ContentLength), 10, 64); err == nil {
			f.Size = n
		}
	}
	f.ID = strings.Trim(e.prop.ETag, `"`)
	if t, err := http.ParseTime(e.prop.LastModified); err == nil {
		f.Mtime = t
	}
	if t, err := time.Parse(time.RFC3339, e.prop.CreationDate); err == nil {
		f.Ctime = t
	}
	return f
}

func (a *Adapter) propfind(ctx context.Context, op, target, p, depth, body string) ([]entry, error) {
	resp, err := a.do(ctx, request{
		method: "PROPFIND",
		target: target,
		header: http.Header{
			"Depth":        {depth},
			"Content-Type": {"application/xml; charset=utf-8"},
		},
		body:    bytesBody([]byte(body)),
		retries: a.maxRetries,
	})
	if err != nil {
		return nil, mapError(op, p, err)
	}
	defer resp.Body.Close()

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, vfs.NewPathError(op, p, fmt.Errorf("%w: decode multistatus: %w", vfs.ErrBackendFailure, err))
	}

	entries := make([]entry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		e, ok := parseResponse(r)
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// parseResponse merges the properties of every 200 propstat. Hrefs may be
// absolute URLs or absolute paths.
func parseResponse(r response) (entry, bool) {
	u, err := url.Parse(strings.TrimSpace(r.Href))
	if err != nil {
		return entry{}, false
	}
	e := entry{
		path: path.Join("/", u.Path),
		dir:  strings.HasSuffix(u.Path, "/"),
	}
	for _, ps := range r.Propstats {
		if ps.Status != "" && !strings.Contains(ps.Status, " 200 ") {
			continue
		}
		pr := ps.Prop
		if pr.ResourceType.Collection != nil {
			e.dir = true
		}
		merge(&e.prop.ContentLength, pr.ContentLength)
		merge(&e.prop.ContentType, pr.ContentType)
		merge(&e.prop.ETag, pr.ETag)
		merge(&e.prop.LastModified, pr.LastModified)
		merge(&e.prop.CreationDate, pr.CreationDate)
		merge(&e.prop.QuotaAvailable, pr.QuotaAvailable)
	}
	return e, true
}

func merge(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

var _ vfs.Transport = (*Adapter)(nil)
