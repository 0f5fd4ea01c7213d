package sftp

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"strings"
	"testing"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/pkg/sftp"
)

// newTestAdapter connects to an in-memory SFTP server over a pipe
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("NewClientPipe() error = %v", err)
	}
	a := NewWithClient(client)
	t.Cleanup(func() {
		_ = a.Close()
		_ = server.Close()
	})
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
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init() with an open session error = %v", err)
	}
	if err := a.Mkdir(ctx, vfs.NewDir("sftp:///docs")); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := a.Mkdir(ctx, vfs.NewDir("sftp:///docs")); !vfs.IsExist(err) {
		t.Errorf("second Mkdir() error = %v, want exists", err)
	}
	if err := a.Write(ctx, vfs.NewFile("sftp:///docs/a.txt"), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	err := a.Upload(ctx, vfs.NewDir("sftp:///docs"), vfs.UploadFile{Name: "b.txt", Body: strings.NewReader("upload")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	list, err := a.Scandir(ctx, vfs.NewDir("sftp:///docs"))
	if err != nil {
		t.Fatal(err)
	}
	if got := paths(list); len(got) != 2 || got[0] != "sftp:///docs/a.txt" || got[1] != "sftp:///docs/b.txt" {
		t.Errorf("Scandir() = %v", got)
	}

	data, err := a.Read(ctx, vfs.NewFile("sftp:///docs/a.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("Read() = %q, %v", data, err)
	}
	info, err := a.FileInfo(ctx, vfs.NewFile("sftp:///docs/a.txt"))
	if err != nil || info.Size != 5 || info.IsDir() {
		t.Errorf("FileInfo() = %+v, %v", info, err)
	}

	if err := a.Copy(ctx, vfs.NewDir("sftp:///docs"), vfs.NewDir("sftp:///backup")); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	rc, err := a.Download(ctx, vfs.NewFile("sftp:///backup/b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	copied, _ := io.ReadAll(rc)
	rc.Close()
	if string(copied) != "upload" {
		t.Errorf("copied content = %q", copied)
	}

	if err := a.Move(ctx, vfs.NewFile("sftp:///docs/a.txt"), vfs.NewFile("sftp:///docs/c.txt")); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if ok, _ := a.Exists(ctx, vfs.NewFile("sftp:///docs/a.txt")); ok {
		t.Error("moved source still exists")
	}

	if err := a.Unlink(ctx, vfs.NewDir("sftp:///backup")); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if ok, err := a.Exists(ctx, vfs.NewDir("sftp:///backup")); ok || err != nil {
		t.Errorf("Exists(removed dir) = %v, %v", ok, err)
	}
	if _, err := a.Read(ctx, vfs.NewFile("sftp:///missing")); !vfs.IsNotExist(err) {
		t.Errorf("missing file error = %v", err)
	}

	found, err := a.Find(ctx, vfs.NewDir("sftp:///"), vfs.FindQuery{Query: "*.txt", Recursive: true})
	if err != nil || len(found) != 2 {
		t.Errorf("Find() = %v, %v", paths(found), err)
	}
}

func TestRemotePathsStayBelowBase(t *testing.T) {
	a := New(Config{}, WithBasePath("srv/files"))

	tests := map[string]string{
		"sftp:///":             "/srv/files",
		"sftp:///a.txt":        "/srv/files/a.txt",
		"sftp:///../../etc":    "/srv/files/etc",
		"sftp:///docs/../x.md": "/srv/files/x.md",
	}
	for in, want := range tests {
		if got := a.remote(in); got != want {
			t.Errorf("remote(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestNotMounted(t *testing.T) {
	a := New(Config{Host: "localhost"})
	ctx := context.Background()

	if _, err := a.Scandir(ctx, vfs.NewDir("sftp:///")); !errors.Is(err, vfs.ErrNotMounted) {
		t.Errorf("Scandir() before Init error = %v", err)
	}
	if err := a.Init(ctx); !errors.Is(err, vfs.ErrInvalidArgument) {
		t.Errorf("Init() without credentials error = %v", err)
	}
}
