package webdav

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	vfs "github.com/os-js/OS.js-sub002"
	"golang.org/x/net/webdav"
)

// newTestServer serves an in-memory WebDAV collection below /dav behind
// basic auth.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "osjs" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a, err := New(Config{Host: srv.URL + "/dav/", Username: "osjs", Password: "secret", MaxRetries: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func paths(files []vfs.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

func TestAdapter(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv)
	ctx := context.Background()

	if err := a.Mkdir(ctx, vfs.NewDir("webdav:///docs/deep")); err != nil {
		t.Fatalf("Mkdir() with a missing parent error = %v", err)
	}
	if err := a.Mkdir(ctx, vfs.NewDir("webdav:///docs")); !vfs.IsExist(err) {
		t.Errorf("second Mkdir() error = %v, want exists", err)
	}
	if err := a.Write(ctx, vfs.NewFile("webdav:///docs/a.txt"), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	err := a.Upload(ctx, vfs.NewDir("webdav:///docs"), vfs.UploadFile{Name: "b.txt", Size: 6, Body: strings.NewReader("upload")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	list, err := a.Scandir(ctx, vfs.NewDir("webdav:///docs"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"webdav:///docs/a.txt", "webdav:///docs/b.txt", "webdav:///docs/deep"}
	if got := paths(list); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Scandir() = %v, want %v", got, want)
	}
	for _, f := range list {
		if f.Filename == "deep" && !f.IsDir() {
			t.Errorf("deep listed as %s", f.Type)
		}
	}

	data, err := a.Read(ctx, vfs.NewFile("webdav:///docs/a.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("Read() = %q, %v", data, err)
	}
	info, err := a.FileInfo(ctx, vfs.NewFile("webdav:///docs/a.txt"))
	if err != nil || info.Size != 5 || info.IsDir() || !strings.HasPrefix(info.MIME, "text/plain") || info.Mtime.IsZero() {
		t.Errorf("FileInfo() = %+v, %v", info, err)
	}
	if ok, err := a.Exists(ctx, vfs.NewFile("webdav:///docs/a.txt")); !ok || err != nil {
		t.Errorf("Exists(a.txt) = %v, %v", ok, err)
	}
	if ok, err := a.Exists(ctx, vfs.NewFile("webdav:///docs/none.txt")); ok || err != nil {
		t.Errorf("Exists(none.txt) = %v, %v", ok, err)
	}

	if err := a.Copy(ctx, vfs.NewFile("webdav:///docs/a.txt"), vfs.NewFile("webdav:///docs/c.txt")); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if err := a.Move(ctx, vfs.NewFile("webdav:///docs/b.txt"), vfs.NewFile("webdav:///docs/deep/b.txt")); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if data, _ := a.Read(ctx, vfs.NewFile("webdav:///docs/deep/b.txt")); string(data) != "upload" {
		t.Errorf("moved content = %q", data)
	}
	if _, err := a.Read(ctx, vfs.NewFile("webdav:///docs/b.txt")); !vfs.IsNotExist(err) {
		t.Errorf("Read(moved source) error = %v, want not exist", err)
	}
	err = a.Move(ctx, vfs.NewFile("webdav:///docs/c.txt"), vfs.NewFile("webdav:///nowhere/c.txt"))
	if !vfs.IsNotExist(err) {
		t.Errorf("Move() into a missing directory error = %v, want not exist", err)
	}

	if err := a.Unlink(ctx, vfs.NewDir("webdav:///docs/deep")); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if ok, _ := a.Exists(ctx, vfs.NewFile("webdav:///docs/deep/b.txt")); ok {
		t.Error("Unlink() left the directory contents behind")
	}

	if n, err := a.FreeSpace(ctx, "webdav:///"); err != nil || n != -1 {
		t.Errorf("FreeSpace() = %d, %v, want -1 without quota support", n, err)
	}
	if _, err := a.Find(ctx, vfs.NewDir("webdav:///"), vfs.FindQuery{Query: "a"}); !vfs.IsNotSupported(err) {
		t.Errorf("Find() error = %v, want not supported", err)
	}
}

func TestSpecialNames(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv)
	ctx := context.Background()

	names := []string{"notes#1.txt", "100%.txt", "what?.txt", "a b&c.txt"}
	for _, name := range names {
		if err := a.Write(ctx, vfs.NewFile("webdav:///"+name), []byte(name)); err != nil {
			t.Fatalf("Write(%q) error = %v", name, err)
		}
		data, err := a.Read(ctx, vfs.NewFile("webdav:///"+name))
		if err != nil || string(data) != name {
			t.Errorf("Read(%q) = %q, %v", name, data, err)
		}
	}

	list, err := a.Scandir(ctx, vfs.NewDir("webdav:///"))
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool)
	for _, f := range list {
		got[f.Filename] = true
	}
	for _, name := range names {
		if !got[name] {
			t.Errorf("Scandir() misses %q: %v", name, paths(list))
		}
	}
}

func TestURLHidesCredentials(t *testing.T) {
	srv := newTestServer(t)
	a, err := New(Config{Host: strings.Replace(srv.URL, "http://", "http://osjs:secret@", 1) + "/dav"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := a.Write(ctx, vfs.NewFile("webdav:///a.txt"), []byte("a")); err != nil {
		t.Fatalf("Write() with URL credentials error = %v", err)
	}
	u, err := a.URL(ctx, vfs.NewFile("webdav:///dir/a b.txt"))
	if err != nil || u != srv.URL+"/dav/dir/a%20b.txt" {
		t.Errorf("URL() = %q, %v", u, err)
	}
}

func TestStatusErrors(t *testing.T) {
	srv := newTestServer(t)
	a, err := New(Config{Host: srv.URL + "/dav", Username: "osjs", Password: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = a.Read(ctx, vfs.NewFile("webdav:///a.txt"))
	if !errors.Is(err, vfs.ErrNotAuthorized) {
		t.Errorf("Read() with bad credentials error = %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("Read() error = %#v, want a 401 StatusError", err)
	}

	if _, err := New(Config{Host: "/relative"}); !errors.Is(err, vfs.ErrInvalidArgument) {
		t.Errorf("New(relative) error = %v", err)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	h := &webdav.Handler{FileSystem: webdav.NewMemFS(), LockSystem: webdav.NewMemLS()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	a, err := New(Config{Host: srv.URL, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Write(context.Background(), vfs.NewFile("webdav:///a.txt"), []byte("a")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestCreateTransport(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	if _, err := createTransport(ctx, vfs.MountConfig{Name: "webdav"}, &vfs.Config{}); !errors.Is(err, vfs.ErrInvalidArgument) {
		t.Errorf("createTransport() without host error = %v", err)
	}

	mc := vfs.MountConfig{Name: "webdav", Options: map[string]any{"host": srv.URL + "/dav", "maxRetries": "1"}}
	tr, err := createTransport(ctx, mc, &vfs.Config{WebDAVUsername: "osjs", WebDAVPassword: "secret"})
	if err != nil {
		t.Fatalf("createTransport() error = %v", err)
	}
	if err := tr.Mkdir(ctx, vfs.NewDir("webdav:///docs")); err != nil {
		t.Errorf("Mkdir() through the registered transport error = %v", err)
	}
}
