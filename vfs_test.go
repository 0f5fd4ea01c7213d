package vfs

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestWriteToUnknownMountMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.vfs.Write(ctx, "invalid:///x", "data")
	if !IsMountNotFound(err) {
		t.Fatalf("Write() error = %v, want mount not found", err)
	}

	var oe *OpError
	if !errors.As(err, &oe) || oe.Op != "write" {
		t.Errorf("expected OpError for write, got %#v", err)
	}
	if got := f.journal.list(); len(got) != 0 {
		t.Errorf("expected no transport calls, got %v", got)
	}
}

func TestUnqualifiedPathsUseDefaultMount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.vfs.Write(ctx, "/notes.txt", "hello"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !f.home.has("home:///notes.txt") {
		t.Error("expected write to land on the default mount")
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("binary", func(t *testing.T) {
		f := newFixture(t)
		data := []byte{0x00, 0x01, 0x7f, 0xff}
		if err := f.vfs.Write(ctx, "home:///blob.bin", data); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, err := f.vfs.ReadBytes(ctx, "home:///blob.bin")
		if err != nil {
			t.Fatalf("ReadBytes() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("ReadBytes() = %v, want %v", got, data)
		}
	})

	t.Run("text", func(t *testing.T) {
		f := newFixture(t)
		text := "héllo wörld"
		if err := f.vfs.Write(ctx, "home:///t.txt", text); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, err := f.vfs.ReadString(ctx, "home:///t.txt")
		if err != nil {
			t.Fatalf("ReadString() error = %v", err)
		}
		if got != text {
			t.Errorf("ReadString() = %q, want %q", got, text)
		}
	})

	t.Run("datasource", func(t *testing.T) {
		f := newFixture(t)
		src := DataURL{MIME: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
		if err := f.vfs.Write(ctx, "home:///img.png", src); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		res, err := f.vfs.Read(ctx, "home:///img.png", As(ReadDataSource))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got, err := ParseDataURL(res.(string))
		if err != nil {
			t.Fatalf("ParseDataURL() error = %v", err)
		}
		if !bytes.Equal(got.Data, src.Data) || got.MIME != "image/png" {
			t.Errorf("datasource round trip = %+v, want %+v", got, src)
		}
	})

	t.Run("charset", func(t *testing.T) {
		f := newFixture(t)
		latin1 := "text/plain; charset=iso-8859-1"
		if err := f.vfs.Write(ctx, "home:///l.txt", "héllo", WithMIME(latin1)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if raw := f.home.content("home:///l.txt"); len(raw) != 5 || raw[1] != 0xe9 {
			t.Errorf("stored bytes = %x, want latin-1 encoding", raw)
		}
		got, err := f.vfs.Read(ctx, NewFile("home:///l.txt", latin1), As(ReadText))
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got != "héllo" {
			t.Errorf("Read() = %q, want héllo", got)
		}
	})
}

func TestReadJSON(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.home.put("home:///ok.json", `{"a":1}`)
	f.home.put("home:///bad.json", `{"a":`)

	got, err := f.vfs.Read(ctx, "home:///ok.json", As(ReadJSON))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": float64(1)}) {
		t.Errorf("Read() = %#v", got)
	}

	got, err = f.vfs.Read(ctx, "home:///bad.json", As(ReadJSON))
	if err != nil || got != nil {
		t.Errorf("lenient Read() = %v, %v; want nil, nil", got, err)
	}

	_, err = f.vfs.Read(ctx, "home:///bad.json", As(ReadJSON), WithStrictJSON())
	if !errors.Is(err, ErrConversionFailure) {
		t.Errorf("strict Read() error = %v, want conversion failure", err)
	}
}

func TestScandir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.home.put("home:///docs/a.txt", "abc")
	f.home.put("home:///docs/b.png", "0123456789")
	f.home.put("home:///docs/.hidden", "x")
	f.home.dirs["home:///docs"] = true
	f.home.dirs["home:///docs/sub"] = true

	names := func(list []File) []string {
		out := make([]string, len(list))
		for i, e := range list {
			out[i] = e.Filename
		}
		return out
	}

	tests := []struct {
		name string
		dir  string
		opts []ScandirOption
		want []string
	}{
		{
			name: "defaults list directories first",
			dir:  "home:///docs",
			want: []string{"..", "sub", ".hidden", "a.txt", "b.png"},
		},
		{
			name: "root has no backlink",
			dir:  "home:///",
			want: []string{"docs"},
		},
		{
			name: "hidden files",
			dir:  "home:///docs",
			opts: []ScandirOption{ShowHiddenFiles(false)},
			want: []string{"..", "sub", "a.txt", "b.png"},
		},
		{
			name: "no backlink",
			dir:  "home:///docs",
			opts: []ScandirOption{WithBacklink(false), ShowHiddenFiles(false)},
			want: []string{"sub", "a.txt", "b.png"},
		},
		{
			name: "sort by size descending",
			dir:  "home:///docs",
			opts: []ScandirOption{ShowHiddenFiles(false), SortBy(SortSize, SortDesc)},
			want: []string{"..", "b.png", "a.txt", "sub"},
		},
		{
			name: "type filter keeps backlink",
			dir:  "home:///docs",
			opts: []ScandirOption{WithTypeFilter(TypeDir)},
			want: []string{"..", "sub"},
		},
		{
			name: "mime filter",
			dir:  "home:///docs",
			opts: []ScandirOption{WithMIMEFilter("image/*"), ShowHiddenFiles(false)},
			want: []string{"..", "sub", "b.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := f.vfs.Scandir(ctx, tt.dir, tt.opts...)
			if err != nil {
				t.Fatalf("Scandir() error = %v", err)
			}
			if got := names(list); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scandir() = %v, want %v", got, tt.want)
			}
		})
	}

	list, err := f.vfs.Scandir(ctx, "home:///docs")
	if err != nil {
		t.Fatal(err)
	}
	if list[0].Path != "home:///" || !list[0].IsDir() {
		t.Errorf("backlink = %+v, want directory home:///", list[0])
	}
}

func TestScandirIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.home.put("home:///docs/a.txt", "abc")
	f.home.put("home:///docs/b.txt", "de")

	first, err := f.vfs.Scandir(ctx, "home:///docs")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.vfs.Scandir(ctx, "home:///docs")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("scandir not idempotent:\n%v\n%v", first, second)
	}
	if got := f.eventPaths(EventScandir); len(got) != 2 {
		t.Errorf("scandir events = %v, want 2", got)
	}
}

func TestAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.osjs.put("osjs:///packages/foo/app.js", "console.log(1)")
	f.osjs.dirs["osjs:///packages/foo"] = true

	got, err := f.vfs.ReadString(ctx, "apps:///foo/app.js")
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if got != "console.log(1)" {
		t.Errorf("ReadString() = %q", got)
	}
	if f.journal.index("osjs:read:osjs:///packages/foo/app.js") < 0 {
		t.Errorf("expected literal read, journal = %v", f.journal.list())
	}

	want := []string{"apps:///foo/app.js", "osjs:///packages/foo/app.js"}
	if got := f.eventPaths(EventRead); !reflect.DeepEqual(got, want) {
		t.Errorf("read events = %v, want %v", got, want)
	}

	list, err := f.vfs.Scandir(ctx, "apps:///foo")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Path != "apps:///" || list[1].Path != "apps:///foo/app.js" {
		t.Errorf("Scandir(apps:///foo) = %+v", list)
	}

	list, err = f.vfs.Scandir(ctx, "apps:///")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Path != "apps:///foo" {
		t.Errorf("Scandir(apps:///) = %+v", list)
	}

	info, err := f.vfs.FileInfo(ctx, "apps:///foo/app.js")
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != "apps:///foo/app.js" {
		t.Errorf("FileInfo().Path = %q", info.Path)
	}
}

func TestLiteralPathNotifiesAliasName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.osjs.put("osjs:///packages/foo/app.js", "x")
	if _, err := f.vfs.ReadBytes(ctx, "osjs:///packages/foo/app.js"); err != nil {
		t.Fatal(err)
	}

	want := []string{"osjs:///packages/foo/app.js", "apps:///foo/app.js"}
	if got := f.eventPaths(EventRead); !reflect.DeepEqual(got, want) {
		t.Errorf("read events = %v, want %v", got, want)
	}
}

func TestCrossTransportCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home.put("home:///a.txt", "data")

	var progress []int64
	err := f.vfs.Copy(ctx, "home:///a.txt", "cloud:///a.txt", WithProgress(func(done, total int64) {
		progress = append(progress, done)
	}))
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	if got := f.home.count("read"); got != 1 {
		t.Errorf("source reads = %d, want 1", got)
	}
	if got := f.cloud.count("write"); got != 1 {
		t.Errorf("destination writes = %d, want 1", got)
	}
	if f.home.count("copy")+f.cloud.count("copy") != 0 {
		t.Error("cross-transport copy must not call Copy")
	}
	if string(f.cloud.content("cloud:///a.txt")) != "data" {
		t.Error("destination content mismatch")
	}
	if !f.home.has("home:///a.txt") {
		t.Error("copy removed the source")
	}
	if !reflect.DeepEqual(progress, []int64{50, 100}) {
		t.Errorf("progress = %v", progress)
	}

	var copied *Event
	for i, e := range *f.events {
		if e.Name == EventCopy {
			copied = &(*f.events)[i]
		}
	}
	if copied == nil || copied.Source.Path != "home:///a.txt" || copied.Destination.Path != "cloud:///a.txt" {
		t.Errorf("copy event = %+v", copied)
	}
}

func TestCrossTransportMove(t *testing.T) {
	ctx := context.Background()

	t.Run("success unlinks after write", func(t *testing.T) {
		f := newFixture(t)
		f.home.put("home:///a.txt", "data")

		if err := f.vfs.Move(ctx, "home:///a.txt", "cloud:///b.txt"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		write := f.journal.index("cloud:write:cloud:///b.txt")
		unlink := f.journal.index("home:unlink:home:///a.txt")
		if write < 0 || unlink < 0 || write > unlink {
			t.Errorf("expected write before unlink, journal = %v", f.journal.list())
		}
		if f.home.has("home:///a.txt") {
			t.Error("source still present after move")
		}
		if f.home.count("move")+f.cloud.count("move") != 0 {
			t.Error("cross-transport move must not call Move")
		}
	})

	t.Run("failed write keeps source", func(t *testing.T) {
		f := newFixture(t)
		f.home.put("home:///a.txt", "data")
		f.cloud.failOn("write", errors.New("quota exceeded"))

		err := f.vfs.Move(ctx, "home:///a.txt", "cloud:///b.txt")
		if !errors.Is(err, ErrBackendFailure) {
			t.Fatalf("Move() error = %v, want backend failure", err)
		}
		if !strings.Contains(err.Error(), "quota exceeded") {
			t.Errorf("cause lost: %v", err)
		}
		if !f.home.has("home:///a.txt") {
			t.Error("source removed although write failed")
		}
		if f.home.count("unlink") != 0 {
			t.Error("unlink called after failed write")
		}
		for _, e := range *f.events {
			if e.Name == EventMove {
				t.Error("move broadcast after failure")
			}
		}
	})
}

func TestSameTransportCopyIsSingleCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home.put("home:///a.txt", "data")
	f.osjs.put("osjs:///readme.txt", "hi")

	if err := f.vfs.Copy(ctx, "home:///a.txt", "home:///b.txt"); err != nil {
		t.Fatal(err)
	}
	if f.home.count("copy") != 1 || f.home.count("read") != 0 {
		t.Errorf("same mount copy calls: copy=%d read=%d", f.home.count("copy"), f.home.count("read"))
	}

	// internal mounts share the server transport
	if err := f.vfs.Copy(ctx, "osjs:///readme.txt", "home:///readme.txt"); err != nil {
		t.Fatal(err)
	}
	if f.osjs.count("copy") != 1 || f.home.count("write") != 0 {
		t.Errorf("internal copy calls: copy=%d write=%d", f.osjs.count("copy"), f.home.count("write"))
	}
}

func TestReadOnlyMountsMakeNoCalls(t *testing.T) {
	ctx := context.Background()
	upload := []UploadFile{{Name: "x.txt", Size: 1, Body: strings.NewReader("x")}}

	ops := []struct {
		name string
		run  func(v *VFS) error
	}{
		{"write", func(v *VFS) error { return v.Write(ctx, "dist:///x.txt", "x") }},
		{"mkdir", func(v *VFS) error { return v.Mkdir(ctx, "dist:///d") }},
		{"unlink", func(v *VFS) error { return v.Unlink(ctx, "dist:///x.txt") }},
		{"trash", func(v *VFS) error { return v.Trash(ctx, "dist:///x.txt") }},
		{"untrash", func(v *VFS) error { return v.Untrash(ctx, "dist:///x.txt") }},
		{"emptyTrash", func(v *VFS) error { return v.EmptyTrash(ctx, "dist:///") }},
		{"upload", func(v *VFS) error { _, err := v.Upload(ctx, "dist:///", upload); return err }},
		{"copy into", func(v *VFS) error { return v.Copy(ctx, "home:///a.txt", "dist:///a.txt") }},
		{"move out of", func(v *VFS) error { return v.Move(ctx, "dist:///a.txt", "home:///a.txt") }},
		{"write through alias", func(v *VFS) error { return v.Write(ctx, "apps:///foo/app.js", "x") }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			f := newFixture(t)
			f.home.put("home:///a.txt", "data")

			err := op.run(f.vfs)
			if !IsReadOnly(err) {
				t.Fatalf("error = %v, want read-only", err)
			}
			if got := f.journal.list(); len(got) != 0 {
				t.Errorf("expected no backend calls, got %v", got)
			}
		})
	}
}

func TestDestinationExistenceCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home.put("home:///a.txt", "a")
	f.home.put("home:///b.txt", "b")

	if err := f.vfs.Copy(ctx, "home:///a.txt", "home:///b.txt"); !IsExist(err) {
		t.Errorf("Copy() error = %v, want exists", err)
	}
	if f.home.count("copy") != 0 {
		t.Error("copy reached the transport")
	}
	if err := f.vfs.Copy(ctx, "home:///a.txt", "home:///b.txt", WithOverwrite()); err != nil {
		t.Errorf("Copy(overwrite) error = %v", err)
	}
	if err := f.vfs.Mkdir(ctx, "home:///a.txt"); !IsExist(err) {
		t.Errorf("Mkdir() error = %v, want exists", err)
	}
}

func TestExistenceProbeFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.home.failOn("exists", errors.New("probe down"))
	if err := f.vfs.Mkdir(ctx, "home:///new"); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if f.home.count("mkdir") != 1 {
		t.Error("mkdir not called")
	}

	f.home.failOn("exists", context.Canceled)
	if err := f.vfs.Mkdir(ctx, "home:///other"); !IsCanceled(err) {
		t.Errorf("Mkdir() error = %v, want canceled", err)
	}
}

func TestErrorKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		kind error
		op   string
	}{
		{"missing file", func() error { _, err := f.vfs.ReadBytes(ctx, "home:///missing.txt"); return err }, ErrBackendFailure, "read"},
		{"unsupported", func() error { return f.vfs.Trash(ctx, "home:///a.txt") }, ErrNotSupported, "trash"},
		{"bad argument", func() error { _, err := f.vfs.Read(ctx, 42); return err }, ErrInvalidArgument, "read"},
		{"empty path", func() error { return f.vfs.Unlink(ctx, "") }, ErrInvalidArgument, "unlink"},
		{"empty query", func() error { _, err := f.vfs.Find(ctx, "home:///", FindQuery{}); return err }, ErrInvalidArgument, "find"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var oe *OpError
			if !errors.As(err, &oe) {
				t.Fatalf("error = %v, want *OpError", err)
			}
			if oe.Op != tt.op || oe.Kind != tt.kind {
				t.Errorf("OpError = {Op:%s Kind:%v}, want {%s %v}", oe.Op, oe.Kind, tt.op, tt.kind)
			}
			if !strings.HasPrefix(err.Error(), tt.op+" failed") {
				t.Errorf("message %q does not name the operation", err)
			}
		})
	}

	_, err := f.vfs.ReadBytes(ctx, "home:///missing.txt")
	if !IsNotExist(err) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestPassthroughs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home.put("home:///docs/a.txt", "hello")
	f.home.dirs["home:///docs"] = true

	exists, err := f.vfs.Exists(ctx, "home:///docs/a.txt")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v", exists, err)
	}

	u, err := f.vfs.URL(ctx, "home:///docs/a.txt")
	if err != nil || u != "https://files.example.com/docs/a.txt" {
		t.Errorf("URL() = %q, %v", u, err)
	}

	rc, err := f.vfs.Download(ctx, "home:///docs/a.txt")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(rc)
	rc.Close()
	if buf.String() != "hello" {
		t.Errorf("Download() = %q", buf.String())
	}

	free, err := f.vfs.FreeSpace(ctx, "home:///")
	if err != nil || free != 4096 {
		t.Errorf("FreeSpace() = %d, %v", free, err)
	}

	found, err := f.vfs.Find(ctx, "home:///", FindQuery{Query: "a.t", Recursive: true})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(found) != 1 || found[0].Path != "home:///docs/a.txt" {
		t.Errorf("Find() = %+v", found)
	}

	if err := f.vfs.Rename(ctx, "home:///docs/a.txt", "home:///docs/b.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := f.vfs.Delete(ctx, "home:///docs/b.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if f.home.has("home:///docs/b.txt") {
		t.Error("file still present after delete")
	}
}

func TestFindThroughAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.osjs.put("osjs:///packages/foo/app.js", "x")
	f.osjs.dirs["osjs:///packages/foo"] = true

	found, err := f.vfs.Find(ctx, "apps:///", FindQuery{Query: "*.js", Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].Path != "apps:///foo/app.js" {
		t.Errorf("Find() = %+v", found)
	}
}

func TestUnlinkRegeneratesPackageMetadata(t *testing.T) {
	calls := 0
	pm := PackageManagerFunc(func(context.Context) error {
		calls++
		return errors.New("ignored")
	})
	f := newFixture(t, WithUserPackages("home:///.packages", pm))
	ctx := context.Background()

	f.home.dirs["home:///.packages/app"] = true
	f.home.put("home:///.packages/app/metadata.json", "{}")
	f.home.put("home:///notes.txt", "x")

	if err := f.vfs.Unlink(ctx, "home:///.packages/app"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("metadata regenerations = %d, want 1", calls)
	}
	if err := f.vfs.Unlink(ctx, "home:///.packages/app/metadata.json"); err != nil {
		t.Fatal(err)
	}
	if err := f.vfs.Unlink(ctx, "home:///notes.txt"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("regenerated for unrelated paths: %d", calls)
	}
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.home.put("home:///x.txt", "x")

	var dirHits, fileHits []string
	dirID, err := f.vfs.Watch(NewDir("home:///docs"), func(e Event) {
		dirHits = append(dirHits, e.Name)
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if _, err := f.vfs.Watch("home:///f.txt", func(e Event) {
		fileHits = append(fileHits, e.Name)
	}); err != nil {
		t.Fatal(err)
	}

	_ = f.vfs.Write(ctx, "home:///docs/a.txt", "a")
	_ = f.vfs.Write(ctx, "home:///elsewhere.txt", "b")
	_, _ = f.vfs.ReadBytes(ctx, "home:///docs/a.txt")
	_ = f.vfs.Copy(ctx, "home:///x.txt", "home:///docs/x.txt")

	f.home.failOn("write", errors.New("boom"))
	_ = f.vfs.Write(ctx, "home:///docs/c.txt", "c")
	f.home.failOn("write", nil)

	_ = f.vfs.Write(ctx, "home:///f.txt.bak", "bak")
	_ = f.vfs.Write(ctx, "home:///f.txt", "f")

	if want := []string{EventWrite, EventCopy}; !reflect.DeepEqual(dirHits, want) {
		t.Errorf("dir watch hits = %v, want %v", dirHits, want)
	}
	if want := []string{EventWrite}; !reflect.DeepEqual(fileHits, want) {
		t.Errorf("file watch hits = %v, want %v", fileHits, want)
	}

	if !f.vfs.Unwatch(dirID) {
		t.Error("Unwatch() = false")
	}
	if f.vfs.Unwatch(dirID) {
		t.Error("second Unwatch() = true")
	}
	_ = f.vfs.Write(ctx, "home:///docs/d.txt", "d")
	if len(dirHits) != 2 {
		t.Errorf("removed watch still called: %v", dirHits)
	}

	if _, err := f.vfs.Watch("home:///a", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Watch(nil) error = %v", err)
	}
	if _, err := f.vfs.Watch("invalid:///a", func(Event) {}); !IsMountNotFound(err) {
		t.Errorf("Watch(invalid) error = %v", err)
	}
}

func TestMountLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	count := func(name, mount string) int {
		n := 0
		for _, e := range *f.events {
			if e.Name == name && e.Mount == mount {
				n++
			}
		}
		return n
	}

	if err := f.vfs.Mount(ctx, "cloud"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if err := f.vfs.Mount(ctx, "cloud"); err != nil {
		t.Fatal(err)
	}
	if f.cloud.inits != 2 {
		t.Errorf("inits = %d, want 2", f.cloud.inits)
	}
	if count(EventMount, "cloud") != 1 {
		t.Errorf("mount events = %d, want 1", count(EventMount, "cloud"))
	}
	m, _ := f.vfs.Mounts().Get("cloud")
	if !m.Mounted() {
		t.Error("cloud not mounted")
	}

	if err := f.vfs.Mount(ctx, "osjs"); err != nil {
		t.Fatal(err)
	}
	if count(EventMount, "osjs") != 0 {
		t.Error("special mount announced")
	}

	if err := f.vfs.Unmount(ctx, "cloud"); err != nil {
		t.Fatal(err)
	}
	_ = f.vfs.Unmount(ctx, "cloud")
	if count(EventUnmount, "cloud") != 1 {
		t.Errorf("unmount events = %d, want 1", count(EventUnmount, "cloud"))
	}

	if err := f.vfs.Mount(ctx, "nope"); !IsMountNotFound(err) {
		t.Errorf("Mount(nope) error = %v", err)
	}

	f.dist.failOn("init", errors.New("auth"))
	if err := f.vfs.Mount(ctx, "dist"); err == nil {
		t.Error("expected init failure")
	}
	if d, _ := f.vfs.Mounts().Get("dist"); d.Mounted() {
		t.Error("failed mount marked mounted")
	}
}

// notifyingTransport replays changes and blocks until cancelled
type notifyingTransport struct {
	*mockTransport
	changes []Change
}

func (n *notifyingTransport) Notify(ctx context.Context, fn func(Change)) error {
	for _, c := range n.changes {
		fn(c)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestListen(t *testing.T) {
	tr := &notifyingTransport{
		mockTransport: newMockTransport("osjs", nil),
		changes:       []Change{{Method: EventWrite, File: NewFile("osjs:///packages/foo/app.js")}},
	}

	mm := NewMountManager("osjs")
	osjs, _ := NewMountpoint("osjs", tr, AsInternal())
	apps, _ := NewMountpoint("apps", NullTransport{}, WithAlias("osjs:///packages"))
	_ = mm.Add(osjs)
	_ = mm.Add(apps)
	v := New(mm)

	hits := make(chan string, 4)
	_, _ = v.Watch(NewDir("apps:///foo"), func(e Event) { hits <- e.File.Path })
	_, _ = v.Watch(NewDir("osjs:///packages"), func(e Event) { hits <- e.File.Path })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Listen(ctx) }()

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case p := <-hits:
			got[p] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if !got["apps:///foo/app.js"] || !got["osjs:///packages/foo/app.js"] {
		t.Errorf("watch hits = %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListenWithoutNotifiers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := f.vfs.Listen(ctx); err != nil {
		t.Errorf("Listen() error = %v", err)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := 0
	unsubscribe := f.vfs.Subscribe(func(Event) { n++ })
	_ = f.vfs.Write(ctx, "home:///a.txt", "a")
	unsubscribe()
	_ = f.vfs.Write(ctx, "home:///b.txt", "b")

	if n != 1 {
		t.Errorf("subscriber calls = %d, want 1", n)
	}
}

type recordingBroadcaster struct {
	names []string
}

func (r *recordingBroadcaster) Broadcast(e Event) {
	r.names = append(r.names, e.Name)
}

func TestExternalBroadcaster(t *testing.T) {
	b := &recordingBroadcaster{}
	f := newFixture(t, WithBroadcaster(b))
	ctx := context.Background()

	_ = f.vfs.Write(ctx, "home:///a.txt", "a")
	_ = f.vfs.Unlink(ctx, "home:///a.txt")

	if want := []string{EventWrite, EventUnlink}; !reflect.DeepEqual(b.names, want) {
		t.Errorf("broadcasts = %v, want %v", b.names, want)
	}
	if len(f.eventPaths(EventWrite)) != 1 {
		t.Error("local subscribers not notified")
	}
}
