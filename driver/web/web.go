// Package web mounts a static HTTP site read-only. A directory is listed
// by fetching the _scandir.json file inside it.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// ListingFile is fetched from a directory to list it. It holds a JSON
// array of file objects whose paths are relative to the site root.
const ListingFile = "_scandir.json"

// Config holds the site settings
type Config struct {
	// URL is the site root the mount maps onto
	URL        string
	Timeout    time.Duration
	MaxRetries uint64
	// Client replaces the default http.Client
	Client *http.Client
}

// Adapter serves reads from a static site. Every mutating call returns
// ErrNotSupported; mount tables wrap it in vfs.ReadOnlyTransport.
type Adapter struct {
	vfs.Unsupported

	base       *url.URL
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

// New creates a transport for the site at cfg.URL
func New(cfg Config, opts ...AdapterOption) (*Adapter, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: web url %q is not an http(s) URL", vfs.ErrInvalidArgument, cfg.URL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawPath = ""

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	a := &Adapter{base: base, client: client, maxRetries: cfg.MaxRetries, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) resource(p string) string {
	u := *a.base
	u.Path = path.Join(a.base.Path, vfs.Rel(p))
	return u.String()
}

// fetch sends method to target and returns the open response on a 2xx
// status. Network errors, 5xx and 429 are retried.
func (a *Adapter) fetch(ctx context.Context, op, p, method, target string) (*http.Response, error) {
	var resp *http.Response
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
		r.Body.Close()

		statusErr := fmt.Errorf("%s %s returned %d", method, target, r.StatusCode)
		switch {
		case r.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %w", vfs.ErrNotExist, statusErr))
		case r.StatusCode == http.StatusUnauthorized, r.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: %w", vfs.ErrNotAuthorized, statusErr))
		case r.StatusCode == http.StatusTooManyRequests, r.StatusCode >= 500:
			return fmt.Errorf("%w: %w", vfs.ErrBackendFailure, statusErr)
		default:
			return backoff.Permanent(fmt.Errorf("%w: %w", vfs.ErrBackendFailure, statusErr))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, a.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		a.logger.Debug("web request retried", zap.String("url", target), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		if vfs.IsCanceled(err) {
			return nil, err
		}
		return nil, vfs.NewPathError(op, p, err)
	}
	return resp, nil
}

// Scandir implements vfs.Transport from the directory's listing file
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	target := strings.TrimRight(a.resource(dir.Path), "/") + "/" + ListingFile
	resp, err := a.fetch(ctx, "scandir", dir.Path, http.MethodGet, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, vfs.NewPathError("scandir", dir.Path, fmt.Errorf("%w: parse %s: %w", vfs.ErrBackendFailure, ListingFile, err))
	}

	scheme := vfs.Scheme(dir.Path)
	files := make([]vfs.File, 0, len(raw))
	for _, m := range raw {
		f := vfs.FileFromMap(m)
		switch {
		case f.Path != "":
			f = f.WithPath(vfs.Build(scheme, f.Path))
		case f.Filename != "":
			f = f.WithPath(vfs.Join(dir.Path, f.Filename))
		default:
			continue
		}
		if f.IsBacklink() {
			continue
		}
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
		return nil, vfs.NewPathError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	resp, err := a.fetch(ctx, "read", file.Path, http.MethodGet, a.resource(file.Path))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Exists implements vfs.Transport with a HEAD request
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	_, err := a.FileInfo(ctx, file)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport from the response headers of a HEAD
// request
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	resp, err := a.fetch(ctx, "fileinfo", file.Path, http.MethodHead, a.resource(file.Path))
	if err != nil {
		return vfs.File{}, err
	}
	resp.Body.Close()

	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	info := vfs.NewFile(file.Path, strings.TrimSpace(mime))
	if resp.ContentLength >= 0 {
		info.Size = resp.ContentLength
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.Mtime = t
	}
	info.ID = strings.Trim(resp.Header.Get("ETag"), `"`)
	return info, nil
}

// URL implements vfs.Transport
func (a *Adapter) URL(_ context.Context, file vfs.File) (string, error) {
	return a.resource(file.Path), nil
}

var _ vfs.Transport = (*Adapter)(nil)
