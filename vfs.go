package vfs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VFS is the operation surface callers use. It validates arguments,
// rewrites aliases, resolves mountpoints, bridges operations between
// transports and broadcasts notifications. It holds no per-call state.
type VFS struct {
	mounts      *MountManager
	watches     *WatchRegistry
	bus         *EventBus
	broadcaster Broadcaster
	logger      *zap.Logger
	metrics     *Metrics

	scandirDefaults   ScandirOptions
	userPackagesDir   string
	packages          PackageManager
	maxUploadSize     int64
	uploadConcurrency int
}

// New creates a VFS over mounts
func New(mounts *MountManager, opts ...Option) *VFS {
	bus := NewEventBus()
	v := &VFS{
		mounts:          mounts,
		watches:         NewWatchRegistry(),
		bus:             bus,
		broadcaster:     bus,
		logger:          zap.NewNop(),
		scandirDefaults: DefaultScandirOptions(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mounts returns the mount registry
func (v *VFS) Mounts() *MountManager {
	return v.mounts
}

// Subscribe registers fn for every notification
func (v *VFS) Subscribe(fn func(Event)) (unsubscribe func()) {
	return v.bus.Subscribe(fn)
}

// ============================================================================
// Request preparation
// ============================================================================

// target is a prepared operation argument
type target struct {
	// Orig is the descriptor as the caller addressed it
	Orig File
	// File is the descriptor handed to the transport
	File File
	// Mount owns File.Path
	Mount *Mountpoint
	// Alias is the aliased mount Orig.Path belongs to, if any
	Alias *Mountpoint
}

func (t *target) mountName() string {
	if t.Mount == nil {
		return ""
	}
	return t.Mount.Name
}

func (t *target) readOnly() bool {
	return t.Mount.ReadOnly || (t.Alias != nil && t.Alias.ReadOnly)
}

// toFile normalizes an operation argument into a validated descriptor
func toFile(item any) (File, error) {
	var f File
	switch it := item.(type) {
	case string:
		f = NewFile(it)
	case File:
		f = it
	case *File:
		if it == nil {
			return File{}, fmt.Errorf("%w: nil file", ErrInvalidArgument)
		}
		f = *it
	case map[string]any:
		f = FileFromMap(it)
	default:
		return File{}, fmt.Errorf("%w: expected a path or a file, got %T", ErrInvalidArgument, item)
	}
	if f.Filename == "" {
		f.Filename = Basename(f.Path)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// prepare runs the shared front half of every operation: normalize,
// qualify, rewrite the alias and resolve the owning mount.
func (v *VFS) prepare(item any) (target, error) {
	f, err := toFile(item)
	if err != nil {
		return target{}, err
	}
	t := target{Orig: f}

	p, err := v.mounts.Qualify(f.Path)
	if err != nil {
		return t, err
	}
	t.Orig = f.WithPath(p)
	t.File = t.Orig

	if literal, alias, ok := v.mounts.ResolveAlias(p); ok {
		t.File = t.Orig.WithPath(literal)
		t.Alias = alias
	}

	m, err := v.mounts.Resolve(t.File.Path)
	if err != nil {
		return t, err
	}
	t.Mount = m
	return t, nil
}

func (v *VFS) prepareDir(item any) (target, error) {
	if s, ok := item.(string); ok {
		item = NewDir(s)
	}
	return v.prepare(item)
}

// writable fails with ErrReadOnly before any backend call
func (v *VFS) writable(op string, t *target) error {
	if t.readOnly() {
		return &PathError{Op: op, Path: t.Orig.Path, Err: ErrReadOnly}
	}
	return nil
}

// ensureAbsent fails with ErrFileExists when t exists. A failing existence
// probe does not block the operation.
func (v *VFS) ensureAbsent(ctx context.Context, t *target) error {
	exists, err := t.Mount.Transport.Exists(ctx, t.File)
	if err != nil {
		if IsCanceled(err) {
			return err
		}
		v.logger.Warn("existence check failed",
			zap.String("path", t.Orig.Path),
			zap.String("mount", t.mountName()),
			zap.Error(err),
		)
		return nil
	}
	if exists {
		return &PathError{Op: "exists", Path: t.Orig.Path, Err: ErrFileExists}
	}
	return nil
}

// sameTransport reports whether one backend call can serve src and dest
func sameTransport(src, dest *target) bool {
	if src.Mount == dest.Mount {
		return true
	}
	return src.Mount.Internal && dest.Mount.Internal
}

// track is deferred by every operation. It wraps the error, logs and
// records metrics.
func (v *VFS) track(op string, t *target, start time.Time, errp *error) {
	if *errp != nil {
		*errp = wrapOp(op, t.Orig.Path, *errp)
	}
	v.metrics.observe(op, t.mountName(), start, *errp)
	if ce := v.logger.Check(zap.DebugLevel, "vfs request"); ce != nil {
		ce.Write(
			zap.String("op", op),
			zap.String("path", t.Orig.Path),
			zap.String("mount", t.mountName()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(*errp),
		)
	}
}

// ============================================================================
// Notifications
// ============================================================================

var mutating = map[string]bool{
	EventWrite:      true,
	EventCopy:       true,
	EventMove:       true,
	EventUnlink:     true,
	EventMkdir:      true,
	EventUpload:     true,
	EventTrash:      true,
	EventUntrash:    true,
	EventEmptyTrash: true,
}

func (v *VFS) emit(e Event) {
	v.bus.Broadcast(e)
	if v.broadcaster != Broadcaster(v.bus) {
		v.broadcaster.Broadcast(e)
	}
	if mutating[e.Name] {
		v.watches.Dispatch(e)
	}
}

// counterpart returns the other name of t: the literal path when the
// caller used an alias, or the alias-facing path when the caller used a
// literal path lying under some alias.
func (v *VFS) counterpart(t *target) (File, bool) {
	if t.Alias != nil {
		return t.File, true
	}
	if p, _, ok := v.mounts.ReverseAlias(t.Orig.Path); ok {
		return t.Orig.WithPath(p), true
	}
	return File{}, false
}

// notifyFile broadcasts a single-file event under both of the file's names
func (v *VFS) notifyFile(name string, t *target) {
	f := t.Orig
	v.emit(Event{Name: name, File: &f})
	if other, ok := v.counterpart(t); ok {
		v.emit(Event{Name: name, File: &other})
	}
}

// notifyPair broadcasts a source/destination event under both names
func (v *VFS) notifyPair(name string, src, dest *target) {
	s, d := src.Orig, dest.Orig
	v.emit(Event{Name: name, Source: &s, Destination: &d})

	so, sok := v.counterpart(src)
	do, dok := v.counterpart(dest)
	if !sok && !dok {
		return
	}
	if !sok {
		so = s
	}
	if !dok {
		do = d
	}
	v.emit(Event{Name: name, Source: &so, Destination: &do})
}

// ============================================================================
// Operations
// ============================================================================

// Scandir lists a directory. Results are filtered and ordered according to
// the scandir defaults overridden by options, carry caller-facing paths and
// start with a ".." entry unless dir is the top of its mount.
func (v *VFS) Scandir(ctx context.Context, dir any, options ...ScandirOption) (list []File, err error) {
	var t target
	defer v.track("scandir", &t, time.Now(), &err)

	if t, err = v.prepareDir(dir); err != nil {
		return nil, err
	}

	opts := v.scandirDefaults
	for _, o := range options {
		o(&opts)
	}

	list, err = t.Mount.Transport.Scandir(ctx, t.File)
	if err != nil {
		return nil, err
	}

	backlinkMount := t.Mount
	if t.Alias != nil {
		backlinkMount = t.Alias
		if t.Alias.IsRoot(t.Orig.Path) {
			list = dropBacklinks(list)
		}
		for i := range list {
			list[i].Path = unalias(t.Alias, list[i].Path)
		}
	}

	if opts.Backlink {
		list = withBacklink(list, t.Orig.Path, backlinkMount)
	} else {
		list = dropBacklinks(list)
	}

	list = filterScandir(list, opts)
	v.notifyFile(EventScandir, &t)
	return list, nil
}

// Read returns the content of item converted according to As(...):
// []byte by default, string for ReadText and ReadDataSource, the decoded
// value for ReadJSON.
func (v *VFS) Read(ctx context.Context, item any, options ...OpOption) (result any, err error) {
	var t target
	defer v.track("read", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return nil, err
	}
	opts := processOptions(options...)

	data, err := t.Mount.Transport.Read(ctx, t.File)
	if err != nil {
		return nil, err
	}
	v.metrics.transferred("read", t.Mount.Name, len(data))

	result, err = convertRead(data, t.Orig, opts.ReadAs, opts.StrictJSON)
	if err != nil {
		return nil, err
	}
	if opts.ReadAs == ReadJSON && result == nil && len(data) > 0 {
		v.logger.Warn("json read returned unparsable content", zap.String("path", t.Orig.Path))
	}

	v.notifyFile(EventRead, &t)
	return result, nil
}

// ReadBytes reads item as binary
func (v *VFS) ReadBytes(ctx context.Context, item any) ([]byte, error) {
	res, err := v.Read(ctx, item)
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// ReadString reads item as text
func (v *VFS) ReadString(ctx context.Context, item any) (string, error) {
	res, err := v.Read(ctx, item, As(ReadText))
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Write stores data at item. data may be []byte, string (encoded with
// the charset of the descriptor's MIME type), DataURL or io.Reader.
func (v *VFS) Write(ctx context.Context, item any, data any, options ...OpOption) (err error) {
	var t target
	defer v.track("write", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return err
	}
	if err = v.writable("write", &t); err != nil {
		return err
	}

	opts := processOptions(options...)
	file := t.File
	if opts.MIME != "" {
		file.MIME = opts.MIME
	}
	if d, ok := data.(DataURL); ok && opts.MIME == "" && d.MIME != "" {
		file.MIME = d.MIME
	}

	b, err := toBytes(data, file.MIME)
	if err != nil {
		return err
	}
	if err = t.Mount.Transport.Write(ctx, file, b); err != nil {
		return err
	}
	v.metrics.transferred("write", t.Mount.Name, len(b))

	v.notifyFile(EventWrite, &t)
	return nil
}

// Copy duplicates src at dest. Within one transport this is a single
// backend call; across transports it is a read followed by a write, which
// is not atomic.
func (v *VFS) Copy(ctx context.Context, src, dest any, options ...OpOption) error {
	return v.transfer(ctx, "copy", src, dest, options)
}

// Move renames src to dest. Across transports the source is unlinked only
// after the destination was written.
func (v *VFS) Move(ctx context.Context, src, dest any, options ...OpOption) error {
	return v.transfer(ctx, "move", src, dest, options)
}

// Rename is Move
func (v *VFS) Rename(ctx context.Context, src, dest any, options ...OpOption) error {
	return v.Move(ctx, src, dest, options...)
}

func (v *VFS) transfer(ctx context.Context, op string, srcItem, destItem any, options []OpOption) (err error) {
	var src target
	defer v.track(op, &src, time.Now(), &err)

	if src, err = v.prepare(srcItem); err != nil {
		return err
	}
	dest, err := v.prepare(destItem)
	if err != nil {
		return err
	}
	if err = v.writable(op, &dest); err != nil {
		return err
	}
	if op == "move" {
		if err = v.writable(op, &src); err != nil {
			return err
		}
	}

	opts := processOptions(options...)
	if !opts.Overwrite {
		if err = v.ensureAbsent(ctx, &dest); err != nil {
			return err
		}
	}

	if sameTransport(&src, &dest) {
		if op == "move" {
			err = src.Mount.Transport.Move(ctx, src.File, dest.File)
		} else {
			err = src.Mount.Transport.Copy(ctx, src.File, dest.File)
		}
		if err != nil {
			return err
		}
		opts.progress(100, 100)
	} else {
		v.metrics.bridged(op, src.Mount.Name, dest.Mount.Name)

		data, err := src.Mount.Transport.Read(ctx, src.File)
		if err != nil {
			return err
		}
		v.metrics.transferred("read", src.Mount.Name, len(data))
		opts.progress(50, 100)

		destFile := dest.File
		if destFile.MIME == "" || destFile.MIME == MIMEOctetStream {
			destFile.MIME = src.File.MIME
		}
		if err := dest.Mount.Transport.Write(ctx, destFile, data); err != nil {
			return err
		}
		v.metrics.transferred("write", dest.Mount.Name, len(data))

		if op == "move" {
			if err := src.Mount.Transport.Unlink(ctx, src.File); err != nil {
				return fmt.Errorf("unlink source after move: %w", err)
			}
		}
		opts.progress(100, 100)
	}

	name := EventCopy
	if op == "move" {
		name = EventMove
	}
	v.notifyPair(name, &src, &dest)
	return nil
}

// Unlink removes item. Removing an entry directly inside the user packages
// directory regenerates package metadata.
func (v *VFS) Unlink(ctx context.Context, item any) (err error) {
	var t target
	defer v.track("unlink", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return err
	}
	if err = v.writable("unlink", &t); err != nil {
		return err
	}
	if err = t.Mount.Transport.Unlink(ctx, t.File); err != nil {
		return err
	}

	v.afterUnlink(ctx, &t)
	v.notifyFile(EventUnlink, &t)
	return nil
}

// Delete is Unlink
func (v *VFS) Delete(ctx context.Context, item any) error {
	return v.Unlink(ctx, item)
}

func (v *VFS) afterUnlink(ctx context.Context, t *target) {
	if v.userPackagesDir == "" || v.packages == nil {
		return
	}
	pkgdir, err := v.mounts.Qualify(v.userPackagesDir)
	if err != nil {
		return
	}
	pkgdir = Join(pkgdir)
	if Dirname(t.Orig.Path) != pkgdir && Dirname(t.File.Path) != pkgdir {
		return
	}
	if err := v.packages.GenerateUserMetadata(ctx); err != nil {
		v.logger.Warn("package metadata regeneration failed",
			zap.String("path", t.Orig.Path),
			zap.Error(err),
		)
	}
}

// Mkdir creates a directory
func (v *VFS) Mkdir(ctx context.Context, item any, options ...OpOption) (err error) {
	var t target
	defer v.track("mkdir", &t, time.Now(), &err)

	if t, err = v.prepareDir(item); err != nil {
		return err
	}
	if err = v.writable("mkdir", &t); err != nil {
		return err
	}
	if !processOptions(options...).Overwrite {
		if err = v.ensureAbsent(ctx, &t); err != nil {
			return err
		}
	}
	if err = t.Mount.Transport.Mkdir(ctx, t.File); err != nil {
		return err
	}

	v.notifyFile(EventMkdir, &t)
	return nil
}

// Exists reports whether item exists
func (v *VFS) Exists(ctx context.Context, item any) (exists bool, err error) {
	var t target
	defer v.track("exists", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return false, err
	}
	return t.Mount.Transport.Exists(ctx, t.File)
}

// FileInfo returns the backend's description of item, addressed by the
// caller-facing path.
func (v *VFS) FileInfo(ctx context.Context, item any) (info File, err error) {
	var t target
	defer v.track("fileinfo", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return File{}, err
	}
	info, err = t.Mount.Transport.FileInfo(ctx, t.File)
	if err != nil {
		return File{}, err
	}
	if t.Alias != nil {
		info = info.WithPath(unalias(t.Alias, info.Path))
	}
	return info, nil
}

// URL returns an address item can be fetched from
func (v *VFS) URL(ctx context.Context, item any) (u string, err error) {
	var t target
	defer v.track("url", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return "", err
	}
	return t.Mount.Transport.URL(ctx, t.File)
}

// Download opens item for streaming. The caller closes the reader.
func (v *VFS) Download(ctx context.Context, item any) (rc io.ReadCloser, err error) {
	var t target
	defer v.track("download", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return nil, err
	}
	return t.Mount.Transport.Download(ctx, t.File)
}

// Find searches below dir
func (v *VFS) Find(ctx context.Context, dir any, query FindQuery) (list []File, err error) {
	var t target
	defer v.track("find", &t, time.Now(), &err)

	if t, err = v.prepareDir(dir); err != nil {
		return nil, err
	}
	if query.Query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidArgument)
	}
	list, err = t.Mount.Transport.Find(ctx, t.File, query)
	if err != nil {
		return nil, err
	}
	if t.Alias != nil {
		for i := range list {
			list[i].Path = unalias(t.Alias, list[i].Path)
		}
	}
	return list, nil
}

// Trash moves item to its backend's trash
func (v *VFS) Trash(ctx context.Context, item any) (err error) {
	var t target
	defer v.track("trash", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return err
	}
	if err = v.writable("trash", &t); err != nil {
		return err
	}
	if err = t.Mount.Transport.Trash(ctx, t.File); err != nil {
		return err
	}
	v.notifyFile(EventTrash, &t)
	return nil
}

// Untrash restores item from its backend's trash
func (v *VFS) Untrash(ctx context.Context, item any) (err error) {
	var t target
	defer v.track("untrash", &t, time.Now(), &err)

	if t, err = v.prepare(item); err != nil {
		return err
	}
	if err = v.writable("untrash", &t); err != nil {
		return err
	}
	if err = t.Mount.Transport.Untrash(ctx, t.File); err != nil {
		return err
	}
	v.notifyFile(EventUntrash, &t)
	return nil
}

// EmptyTrash purges the trash of the mount owning root
func (v *VFS) EmptyTrash(ctx context.Context, root any) (err error) {
	var t target
	defer v.track("emptyTrash", &t, time.Now(), &err)

	if t, err = v.prepareDir(root); err != nil {
		return err
	}
	if err = v.writable("emptyTrash", &t); err != nil {
		return err
	}
	if err = t.Mount.Transport.EmptyTrash(ctx); err != nil {
		return err
	}
	v.notifyFile(EventEmptyTrash, &t)
	return nil
}

// FreeSpace returns the free bytes of the mount owning root, or -1 when
// the backend cannot tell.
func (v *VFS) FreeSpace(ctx context.Context, root any) (free int64, err error) {
	var t target
	defer v.track("freeSpace", &t, time.Now(), &err)

	if t, err = v.prepareDir(root); err != nil {
		return 0, err
	}
	return t.Mount.Transport.FreeSpace(ctx, t.File.Path)
}

// ============================================================================
// Watches
// ============================================================================

// Watch calls callback after every successful mutation touching item:
// anything below it for directories, the path itself for files.
func (v *VFS) Watch(item any, callback WatchFunc) (uuid.UUID, error) {
	if callback == nil {
		return uuid.Nil, wrapOp("watch", "", fmt.Errorf("%w: nil callback", ErrInvalidArgument))
	}
	t, err := v.prepare(item)
	if err != nil {
		return uuid.Nil, wrapOp("watch", t.Orig.Path, err)
	}
	id := v.watches.Add(t.Orig, callback)
	v.metrics.setWatches(v.watches.Len())
	return id, nil
}

// Unwatch removes a watch. Unknown handles are ignored.
func (v *VFS) Unwatch(id uuid.UUID) bool {
	removed := v.watches.Remove(id)
	v.metrics.setWatches(v.watches.Len())
	return removed
}

// ============================================================================
// Mount lifecycle
// ============================================================================

// Mount initializes the transport of the mount called name and marks it
// mounted. Special mounts are not announced.
func (v *VFS) Mount(ctx context.Context, name string) error {
	m, ok := v.mounts.Get(name)
	if !ok {
		return wrapOp("mount", name, fmt.Errorf("%w: %s", ErrMountNotFound, name))
	}
	if init, ok := capability[Initializer](m.Transport); ok {
		if err := init.Init(ctx); err != nil {
			return wrapOp("mount", m.Root, err)
		}
	}
	_, changed, err := v.mounts.setMounted(name, true)
	if err != nil {
		return wrapOp("mount", name, err)
	}
	if changed && !m.Special {
		v.emit(Event{Name: EventMount, Mount: m.Name})
	}
	v.logger.Info("mounted", zap.String("mount", m.Name), zap.String("root", m.Root))
	return nil
}

// Unmount marks the mount called name unmounted
func (v *VFS) Unmount(ctx context.Context, name string) error {
	m, changed, err := v.mounts.setMounted(name, false)
	if err != nil {
		return wrapOp("unmount", name, err)
	}
	if closer, ok := capability[io.Closer](m.Transport); ok && changed {
		if err := closer.Close(); err != nil {
			v.logger.Warn("transport close failed", zap.String("mount", name), zap.Error(err))
		}
	}
	if changed && !m.Special {
		v.emit(Event{Name: EventUnmount, Mount: m.Name})
	}
	return nil
}

// Listen forwards out-of-band changes observed by mounts whose transport
// implements Notifier to broadcasts and watches. It blocks until ctx is
// done.
func (v *VFS) Listen(ctx context.Context) error {
	done := make(chan error)
	count := 0
	for _, m := range v.mounts.List(ListFilter{}) {
		n, ok := capability[Notifier](m.Transport)
		if !ok {
			continue
		}
		count++
		go func(m *Mountpoint, n Notifier) {
			done <- n.Notify(ctx, func(c Change) {
				t := target{Orig: c.File, File: c.File, Mount: m}
				if p, alias, ok := v.mounts.ReverseAlias(c.File.Path); ok {
					t.Orig = c.File.WithPath(p)
					t.Alias = alias
				}
				v.notifyFile(c.Method, &t)
			})
		}(m, n)
	}

	var first error
	for i := 0; i < count; i++ {
		if err := <-done; err != nil && first == nil && !IsCanceled(err) && !IsNotSupported(err) {
			first = err
		}
	}
	if count == 0 {
		<-ctx.Done()
	}
	return first
}
