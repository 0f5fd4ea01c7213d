package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	vfs "github.com/os-js/OS.js-sub002"
)

func TestNew(t *testing.T) {
	t.Run("creates adapter with default config", func(t *testing.T) {
		a := New()
		if a == nil {
			t.Fatal("expected adapter to be created")
		}
		if a.maxSize != 0 {
			t.Errorf("expected maxSize=0, got %d", a.maxSize)
		}
	})

	t.Run("creates adapter with max size", func(t *testing.T) {
		a := New(Config{MaxSize: 1024})
		if a.maxSize != 1024 {
			t.Errorf("expected maxSize=1024, got %d", a.maxSize)
		}
	})
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips content", func(t *testing.T) {
		a := New()
		f := vfs.NewFile("mem:///docs/test.txt")

		if err := a.Write(ctx, f, []byte("hello world")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := a.Read(ctx, f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != "hello world" {
			t.Errorf("expected 'hello world', got %q", got)
		}
		if a.Size() != 11 {
			t.Errorf("expected size=11, got %d", a.Size())
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		a := New()
		if err := a.Write(ctx, vfs.NewFile("mem:///a/b/c.txt"), []byte("x")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, dir := range []string{"mem:///a", "mem:///a/b"} {
			ok, _ := a.Exists(ctx, vfs.NewDir(dir))
			if !ok {
				t.Errorf("expected %s to exist", dir)
			}
		}
	})

	t.Run("overwrite updates size", func(t *testing.T) {
		a := New()
		f := vfs.NewFile("mem:///a.txt")
		_ = a.Write(ctx, f, []byte("12345"))
		_ = a.Write(ctx, f, []byte("12"))
		if a.Size() != 2 {
			t.Errorf("expected size=2, got %d", a.Size())
		}
	})

	t.Run("respects max size limit", func(t *testing.T) {
		a := New(Config{MaxSize: 10})
		err := a.Write(ctx, vfs.NewFile("mem:///large.txt"), []byte("this is too large"))
		if !errors.Is(err, vfs.ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("read missing file", func(t *testing.T) {
		a := New()
		_, err := a.Read(ctx, vfs.NewFile("mem:///missing.txt"))
		if !vfs.IsNotExist(err) {
			t.Errorf("expected not exist, got %v", err)
		}
	})

	t.Run("read directory", func(t *testing.T) {
		a := New()
		_ = a.Mkdir(ctx, vfs.NewDir("mem:///dir"))
		_, err := a.Read(ctx, vfs.NewFile("mem:///dir"))
		if !errors.Is(err, vfs.ErrIsDir) {
			t.Errorf("expected ErrIsDir, got %v", err)
		}
	})
}

func TestScandir(t *testing.T) {
	ctx := context.Background()
	a := New()
	_ = a.Write(ctx, vfs.NewFile("mem:///b.txt"), []byte("b"))
	_ = a.Write(ctx, vfs.NewFile("mem:///sub/c.txt"), []byte("c"))
	_ = a.Write(ctx, vfs.NewFile("other:///d.txt"), []byte("d"))

	list, err := a.Scandir(ctx, vfs.NewDir("mem:///"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(list), list)
	}
	if list[0].Path != "mem:///b.txt" || list[0].Type != vfs.TypeFile {
		t.Errorf("unexpected first entry %+v", list[0])
	}
	if list[1].Path != "mem:///sub" || list[1].Type != vfs.TypeDir {
		t.Errorf("unexpected second entry %+v", list[1])
	}

	if _, err := a.Scandir(ctx, vfs.NewDir("mem:///nope")); !vfs.IsNotExist(err) {
		t.Errorf("expected not exist, got %v", err)
	}
	if _, err := a.Scandir(ctx, vfs.NewDir("mem:///b.txt")); !errors.Is(err, vfs.ErrNotDir) {
		t.Errorf("expected ErrNotDir, got %v", err)
	}
}

func TestCopyMove(t *testing.T) {
	ctx := context.Background()

	t.Run("copies a file", func(t *testing.T) {
		a := New()
		_ = a.Write(ctx, vfs.NewFile("mem:///a.txt"), []byte("data"))
		if err := a.Copy(ctx, vfs.NewFile("mem:///a.txt"), vfs.NewFile("mem:///b.txt")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.FileCount() != 2 {
			t.Errorf("expected 2 files, got %d", a.FileCount())
		}
	})

	t.Run("moves a directory tree", func(t *testing.T) {
		a := New()
		_ = a.Write(ctx, vfs.NewFile("mem:///src/x/1.txt"), []byte("1"))
		_ = a.Write(ctx, vfs.NewFile("mem:///src/2.txt"), []byte("2"))

		if err := a.Move(ctx, vfs.NewDir("mem:///src"), vfs.NewDir("mem:///dst")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, p := range []string{"mem:///dst/x/1.txt", "mem:///dst/2.txt"} {
			if ok, _ := a.Exists(ctx, vfs.NewFile(p)); !ok {
				t.Errorf("expected %s after move", p)
			}
		}
		if ok, _ := a.Exists(ctx, vfs.NewDir("mem:///src")); ok {
			t.Error("expected source to be gone")
		}
		if a.Size() != 2 {
			t.Errorf("expected size=2, got %d", a.Size())
		}
	})

	t.Run("refuses to move into itself", func(t *testing.T) {
		a := New()
		_ = a.Mkdir(ctx, vfs.NewDir("mem:///d"))
		err := a.Move(ctx, vfs.NewDir("mem:///d"), vfs.NewDir("mem:///d/e"))
		if !errors.Is(err, vfs.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		a := New()
		err := a.Copy(ctx, vfs.NewFile("mem:///nope"), vfs.NewFile("mem:///b"))
		if !vfs.IsNotExist(err) {
			t.Errorf("expected not exist, got %v", err)
		}
	})
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	a := New()
	_ = a.Write(ctx, vfs.NewFile("mem:///dir/a.txt"), []byte("aaa"))
	_ = a.Write(ctx, vfs.NewFile("mem:///keep.txt"), []byte("k"))

	if err := a.Unlink(ctx, vfs.NewDir("mem:///dir")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.FileCount() != 1 || a.Size() != 1 {
		t.Errorf("expected 1 file of 1 byte, got %d files, %d bytes", a.FileCount(), a.Size())
	}
	if err := a.Unlink(ctx, vfs.NewFile("mem:///dir")); !vfs.IsNotExist(err) {
		t.Errorf("expected not exist on second unlink, got %v", err)
	}
}

func TestTrash(t *testing.T) {
	ctx := context.Background()
	a := New()
	f := vfs.NewFile("mem:///t.txt")
	_ = a.Write(ctx, f, []byte("trash me"))

	if err := a.Trash(ctx, f); err != nil {
		t.Fatalf("trash: %v", err)
	}
	if ok, _ := a.Exists(ctx, f); ok {
		t.Fatal("expected file to be gone after trash")
	}
	if err := a.Untrash(ctx, f); err != nil {
		t.Fatalf("untrash: %v", err)
	}
	got, _ := a.Read(ctx, f)
	if string(got) != "trash me" {
		t.Errorf("expected restored content, got %q", got)
	}

	_ = a.Trash(ctx, f)
	_ = a.EmptyTrash(ctx)
	if err := a.Untrash(ctx, f); !vfs.IsNotExist(err) {
		t.Errorf("expected not exist after empty trash, got %v", err)
	}
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	a := New()

	err := a.Upload(ctx, vfs.NewDir("mem:///up"), vfs.UploadFile{
		Name: "u.txt",
		Size: 3,
		Body: strings.NewReader("abc"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	rc, err := a.Download(ctx, vfs.NewFile("mem:///up/u.txt"))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "abc" {
		t.Errorf("expected abc, got %q", data)
	}
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	a := New()
	_ = a.Write(ctx, vfs.NewFile("mem:///a.txt"), nil)
	_ = a.Write(ctx, vfs.NewFile("mem:///b.json"), nil)
	_ = a.Write(ctx, vfs.NewFile("mem:///sub/c.txt"), nil)

	tests := []struct {
		name  string
		query vfs.FindQuery
		want  int
	}{
		{"top level glob", vfs.FindQuery{Query: "*.txt"}, 1},
		{"recursive glob", vfs.FindQuery{Query: "*.txt", Recursive: true}, 2},
		{"limit", vfs.FindQuery{Query: "*", Recursive: true, Limit: 2}, 2},
		{"substring", vfs.FindQuery{Query: "json", Recursive: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Find(ctx, vfs.NewDir("mem:///"), tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d results, got %d: %v", tt.want, len(got), got)
			}
		})
	}
}

func TestFreeSpaceAndChecksum(t *testing.T) {
	ctx := context.Background()

	unlimited := New()
	if free, _ := unlimited.FreeSpace(ctx, "mem:///"); free != -1 {
		t.Errorf("expected -1 for unlimited, got %d", free)
	}

	a := New(Config{MaxSize: 100})
	f := vfs.NewFile("mem:///x.txt")
	_ = a.Write(ctx, f, []byte("hello"))
	if free, _ := a.FreeSpace(ctx, "mem:///"); free != 95 {
		t.Errorf("expected 95, got %d", free)
	}

	sum, err := a.Checksum(ctx, f, vfs.ChecksumMD5)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if sum != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("unexpected md5 %s", sum)
	}
}

func TestContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New()
	if err := a.Write(ctx, vfs.NewFile("mem:///a"), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
