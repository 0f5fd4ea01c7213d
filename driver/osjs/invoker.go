package osjs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	vfs "github.com/os-js/OS.js-sub002"
)

// Invoker performs calls against the server file API
type Invoker interface {
	// Call posts args to FS:<method> and decodes the result into out.
	Call(ctx context.Context, method string, args any, out any) error

	// Fetch streams the raw content of p.
	Fetch(ctx context.Context, p string) (io.ReadCloser, error)

	// Upload sends one file into dir as a multipart form.
	Upload(ctx context.Context, dir string, upload vfs.UploadFile, overwrite bool) error

	// URL returns the address the content of p is served at.
	URL(p string) string
}

// ServerError is an error reported in the response envelope
type ServerError struct {
	Method  string
	Message string
}

func (e *ServerError) Error() string {
	return "FS:" + e.Method + ": " + e.Message
}

// Unwrap classifies the server message
func (e *ServerError) Unwrap() error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "enoent"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return vfs.ErrNotExist
	case strings.Contains(msg, "eexist"), strings.Contains(msg, "already exists"):
		return vfs.ErrFileExists
	case strings.Contains(msg, "read-only"), strings.Contains(msg, "readonly"), strings.Contains(msg, "erofs"):
		return vfs.ErrReadOnly
	case strings.Contains(msg, "eacces"), strings.Contains(msg, "permission denied"):
		return vfs.ErrNotAuthorized
	default:
		return vfs.ErrBackendFailure
	}
}

// errEmptyResponse is returned when the server answers without a result
// and without an error.
var errEmptyResponse = fmt.Errorf("%w: empty response from file API", vfs.ErrBackendFailure)

// envelope is the {result, error} body of every FS call
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// errorMessage extracts the error of an envelope. null, false and empty
// strings mean success.
func (e envelope) errorMessage() string {
	raw := bytes.TrimSpace(e.Error)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// HTTPConfig configures HTTPInvoker
type HTTPConfig struct {
	// Endpoint is the server base URL, e.g. http://localhost:8000
	Endpoint   string
	Timeout    time.Duration
	MaxRetries uint64
	// Client replaces the default http.Client
	Client *http.Client
}

// HTTPInvoker talks to the server file API over HTTP. Calls are retried
// with exponential backoff on network errors, 5xx and 429 responses.
type HTTPInvoker struct {
	endpoint   string
	client     *http.Client
	maxRetries uint64
}

// NewHTTPInvoker creates an invoker for cfg.Endpoint
func NewHTTPInvoker(cfg HTTPConfig) *HTTPInvoker {
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
	return &HTTPInvoker{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		client:     client,
		maxRetries: cfg.MaxRetries,
	}
}

func policy(ctx context.Context, retries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// do sends the request built by build, retrying transient failures up to
// retries times. The response is returned open on a 2xx status.
func (h *HTTPInvoker) do(ctx context.Context, retries uint64, build func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := h.client.Do(req)
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

		body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		r.Body.Close()
		statusErr := fmt.Errorf("server returned %d: %s", r.StatusCode, strings.TrimSpace(string(body)))
		switch {
		case r.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %w", vfs.ErrNotExist, statusErr))
		case r.StatusCode == http.StatusUnauthorized, r.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: %w", vfs.ErrNotAuthorized, statusErr))
		case r.StatusCode == http.StatusTooManyRequests, r.StatusCode >= 500:
			return statusErr
		default:
			return backoff.Permanent(statusErr)
		}
	}
	if err := backoff.Retry(op, policy(ctx, retries)); err != nil {
		return nil, err
	}
	return resp, nil
}

// Call implements Invoker
func (h *HTTPInvoker) Call(ctx context.Context, method string, args any, out any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: encode FS:%s arguments: %w", vfs.ErrInvalidArgument, method, err)
	}

	resp, err := h.do(ctx, h.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/FS/"+method, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode FS:%s response: %w", vfs.ErrBackendFailure, method, err)
	}
	if msg := env.errorMessage(); msg != "" {
		return &ServerError{Method: method, Message: msg}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return errEmptyResponse
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode FS:%s result: %w", vfs.ErrBackendFailure, method, err)
	}
	return nil
}

// Fetch implements Invoker
func (h *HTTPInvoker) Fetch(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := h.do(ctx, h.maxRetries, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, h.URL(p), nil)
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Upload implements Invoker. Bodies that can seek are buffered and
// retried; other bodies are streamed in a single attempt.
func (h *HTTPInvoker) Upload(ctx context.Context, dir string, upload vfs.UploadFile, overwrite bool) error {
	uploadURL := h.endpoint + "/FS/upload"

	if seeker, ok := upload.Body.(io.Seeker); ok {
		resp, err := h.do(ctx, h.maxRetries, func() (*http.Request, error) {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			if err := writeUploadForm(mw, dir, upload, overwrite); err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req, nil
		})
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	resp, err := h.do(ctx, 0, func() (*http.Request, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeUploadForm(mw, dir, upload, overwrite))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
		if err != nil {
			pr.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func writeUploadForm(mw *multipart.Writer, dir string, upload vfs.UploadFile, overwrite bool) error {
	fields := [][2]string{
		{"upload", "1"},
		{"path", dir},
		{"overwrite", strconv.FormatBool(overwrite)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("upload", upload.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.Body); err != nil {
		return err
	}
	return mw.Close()
}

// URL implements Invoker. The whole virtual path is one escaped segment,
// so "#", "?" and "%" in names reach the server intact.
func (h *HTTPInvoker) URL(p string) string {
	return h.endpoint + "/FS/get/" + url.PathEscape(p)
}

var _ Invoker = (*HTTPInvoker)(nil)
