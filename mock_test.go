package vfs

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
)

// journal is a call log shared by several mock transports, so tests can
// assert ordering across backends.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(entry string) int {
	for i, e := range j.list() {
		if e == entry {
			return i
		}
	}
	return -1
}

// mockTransport is an in-memory Transport that records every call. Trash
// and friends stay unsupported.
type mockTransport struct {
	Unsupported

	name    string
	journal *journal

	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	calls []string
	fail  map[string]error
	inits int
}

func newMockTransport(name string, j *journal) *mockTransport {
	if j == nil {
		j = &journal{}
	}
	return &mockTransport{
		name:    name,
		journal: j,
		files:   make(map[string][]byte),
		dirs:    make(map[string]bool),
		fail:    make(map[string]error),
	}
}

func (m *mockTransport) record(op, p string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	err := m.fail[op]
	m.mu.Unlock()
	m.journal.add(m.name + ":" + op + ":" + p)
	return err
}

func (m *mockTransport) failOn(op string, err error) {
	m.mu.Lock()
	m.fail[op] = err
	m.mu.Unlock()
}

func (m *mockTransport) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *mockTransport) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockTransport) put(p string, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[Join(p)] = []byte(data)
}

func (m *mockTransport) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[Join(p)]
	return ok
}

func (m *mockTransport) content(p string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[Join(p)]
}

func (m *mockTransport) Init(ctx context.Context) error {
	if err := m.record("init", ""); err != nil {
		return err
	}
	m.mu.Lock()
	m.inits++
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Scandir(ctx context.Context, dir File) ([]File, error) {
	if err := m.record("scandir", dir.Path); err != nil {
		return nil, err
	}
	key := Join(dir.Path)

	m.mu.Lock()
	defer m.mu.Unlock()

	var list []File
	for p := range m.dirs {
		if p != key && Dirname(p) == key {
			list = append(list, NewDir(p))
		}
	}
	for p, data := range m.files {
		if Dirname(p) == key {
			f := NewFile(p)
			f.Size = int64(len(data))
			list = append(list, f)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list, nil
}

func (m *mockTransport) Read(ctx context.Context, file File) ([]byte, error) {
	if err := m.record("read", file.Path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[Join(file.Path)]
	if !ok {
		return nil, NewPathError("read", file.Path, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *mockTransport) Write(ctx context.Context, file File, data []byte) error {
	if err := m.record("write", file.Path); err != nil {
		return err
	}
	m.mu.Lock()
	m.files[Join(file.Path)] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Copy(ctx context.Context, src, dest File) error {
	if err := m.record("copy", src.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[Join(src.Path)]
	if !ok {
		return NewPathError("copy", src.Path, ErrNotExist)
	}
	m.files[Join(dest.Path)] = data
	return nil
}

func (m *mockTransport) Move(ctx context.Context, src, dest File) error {
	if err := m.record("move", src.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[Join(src.Path)]
	if !ok {
		return NewPathError("move", src.Path, ErrNotExist)
	}
	m.files[Join(dest.Path)] = data
	delete(m.files, Join(src.Path))
	return nil
}

func (m *mockTransport) Unlink(ctx context.Context, file File) error {
	if err := m.record("unlink", file.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Join(file.Path)
	if _, ok := m.files[key]; ok {
		delete(m.files, key)
		return nil
	}
	if m.dirs[key] {
		delete(m.dirs, key)
		return nil
	}
	return NewPathError("unlink", file.Path, ErrNotExist)
}

func (m *mockTransport) Mkdir(ctx context.Context, dir File) error {
	if err := m.record("mkdir", dir.Path); err != nil {
		return err
	}
	m.mu.Lock()
	m.dirs[Join(dir.Path)] = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Exists(ctx context.Context, file File) (bool, error) {
	if err := m.record("exists", file.Path); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Join(file.Path)
	_, ok := m.files[key]
	return ok || m.dirs[key], nil
}

func (m *mockTransport) FileInfo(ctx context.Context, file File) (File, error) {
	if err := m.record("fileinfo", file.Path); err != nil {
		return File{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Join(file.Path)
	if data, ok := m.files[key]; ok {
		f := NewFile(key)
		f.Size = int64(len(data))
		return f, nil
	}
	if m.dirs[key] {
		return NewDir(key), nil
	}
	return File{}, NewPathError("fileinfo", file.Path, ErrNotExist)
}

func (m *mockTransport) URL(ctx context.Context, file File) (string, error) {
	if err := m.record("url", file.Path); err != nil {
		return "", err
	}
	return "https://files.example.com/" + strings.TrimPrefix(Rel(file.Path), "/"), nil
}

func (m *mockTransport) Upload(ctx context.Context, dest File, upload UploadFile) error {
	if err := m.record("upload", Join(dest.Path, upload.Name)); err != nil {
		return err
	}
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[Join(dest.Path, upload.Name)] = data
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Download(ctx context.Context, file File) (io.ReadCloser, error) {
	if err := m.record("download", file.Path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[Join(file.Path)]
	if !ok {
		return nil, NewPathError("download", file.Path, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockTransport) Find(ctx context.Context, dir File, query FindQuery) ([]File, error) {
	if err := m.record("find", dir.Path); err != nil {
		return nil, err
	}
	return Select(ctx, m, dir, Glob(query.Query), query.Recursive, query.Limit)
}

func (m *mockTransport) FreeSpace(ctx context.Context, root string) (int64, error) {
	if err := m.record("freeSpace", root); err != nil {
		return 0, err
	}
	return 4096, nil
}

var (
	_ Transport   = (*mockTransport)(nil)
	_ Initializer = (*mockTransport)(nil)
)

// fixture is the standard mount table of the façade tests:
//
//	osjs   internal, read-only, special (distribution store)
//	home   internal (default mount)
//	apps   alias onto osjs:///packages, read-only
//	cloud  external backend
//	dist   read-only external backend
type fixture struct {
	vfs     *VFS
	journal *journal
	osjs    *mockTransport
	home    *mockTransport
	cloud   *mockTransport
	dist    *mockTransport
	events  *[]Event
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	j := &journal{}
	f := &fixture{
		journal: j,
		osjs:    newMockTransport("osjs", j),
		home:    newMockTransport("home", j),
		cloud:   newMockTransport("cloud", j),
		dist:    newMockTransport("dist", j),
	}

	mm := NewMountManager("home")
	add := func(name string, tr Transport, mopts ...MountOption) {
		m, err := NewMountpoint(name, tr, mopts...)
		if err != nil {
			t.Fatalf("NewMountpoint(%s) error = %v", name, err)
		}
		if err := mm.Add(m); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	add("osjs", f.osjs, AsInternal(), AsReadOnly(), AsSpecial())
	add("home", f.home, AsInternal())
	add("apps", NullTransport{}, WithAlias("osjs:///packages"), AsReadOnly(), AsSpecial())
	add("cloud", f.cloud)
	add("dist", f.dist, AsReadOnly())

	f.vfs = New(mm, opts...)

	var mu sync.Mutex
	events := []Event{}
	f.events = &events
	f.vfs.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	return f
}

// eventPaths returns "<name> <path>" for every single-file event seen
func (f *fixture) eventPaths(name string) []string {
	var out []string
	for _, e := range *f.events {
		if e.Name == name && e.File != nil {
			out = append(out, e.File.Path)
		}
	}
	return out
}
