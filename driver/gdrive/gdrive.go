// Package gdrive is a Google Drive transport. Drive addresses items by ID,
// so paths are resolved against a graph of every item that is fetched once
// and kept until it has been idle for a few seconds or something changes.
package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// DefaultGraphExpiry is how long an unused graph is kept
const DefaultGraphExpiry = 7 * time.Second

// graph indexes the drive by ID and by parent
type graph struct {
	nodes    map[string]Node
	children map[string][]string
}

func newGraph(nodes []Node) *graph {
	g := &graph{
		nodes:    make(map[string]Node, len(nodes)),
		children: make(map[string][]string),
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
		for _, p := range n.Parents {
			g.children[p] = append(g.children[p], n.ID)
		}
	}
	return g
}

// child finds the entry called name below parent
func (g *graph) child(parent, name string, trashed bool) (Node, bool) {
	for _, id := range g.children[parent] {
		n := g.nodes[id]
		if n.Name == name && n.Trashed == trashed {
			return n, true
		}
	}
	return Node{}, false
}

// Adapter is a Transport over one Google Drive
type Adapter struct {
	api     API
	logger  *zap.Logger
	retries uint64

	graph *vfs.ExpiringCache[*graph]

	initMu sync.Mutex
	rootID string
}

// AdapterOption configures Adapter
type AdapterOption func(*Adapter)

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithGraphExpiry sets the idle window of the item graph
func WithGraphExpiry(idle time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.graph = vfs.NewExpiringCache[*graph](idle)
	}
}

// WithMaxRetries sets how often a failed remote call is retried
func WithMaxRetries(n uint64) AdapterOption {
	return func(a *Adapter) {
		a.retries = n
	}
}

// New creates an adapter over api
func New(api API, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		api:     api,
		logger:  zap.NewNop(),
		retries: 3,
		graph:   vfs.NewExpiringCache[*graph](DefaultGraphExpiry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close drops the graph and stops its expiry timer
func (a *Adapter) Close() error {
	a.graph.Close()
	return nil
}

// retry runs fn with exponential backoff while Drive answers 5xx or 429
func retry[T any](ctx context.Context, a *Adapter, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, a.retries), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		code := statusCode(err)
		if code == http.StatusTooManyRequests || code >= 500 {
			a.logger.Debug("retrying drive call", zap.Int("status", code), zap.Error(err))
			return v, err
		}
		return v, backoff.Permanent(err)
	}, policy)
}

func do(ctx context.Context, a *Adapter, fn func() error) error {
	_, err := retry(ctx, a, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// mapError classifies a Drive error for op on p
func mapError(op, p string, err error) error {
	if vfs.IsCanceled(err) {
		return err
	}
	switch statusCode(err) {
	case http.StatusNotFound:
		return vfs.NewPathError(op, p, fmt.Errorf("%w: %w", vfs.ErrNotExist, err))
	case http.StatusUnauthorized, http.StatusForbidden:
		return vfs.NewPathError(op, p, fmt.Errorf("%w: %w", vfs.ErrNotAuthorized, err))
	default:
		return vfs.NewPathError(op, p, err)
	}
}

// Init looks up the root folder. It is safe to call repeatedly; a failed
// attempt is retried on the next call.
func (a *Adapter) Init(ctx context.Context) error {
	_, err := a.root(ctx)
	return err
}

func (a *Adapter) root(ctx context.Context) (string, error) {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.rootID != "" {
		return a.rootID, nil
	}

	id, err := retry(ctx, a, func() (string, error) {
		return a.api.RootFolderID(ctx)
	})
	if err != nil {
		return "", mapError("init", "", err)
	}
	if id == "" {
		return "", vfs.NewPathError("init", "", fmt.Errorf("%w: drive has no root folder", vfs.ErrBackendFailure))
	}
	a.rootID = id
	return id, nil
}

func (a *Adapter) tree(ctx context.Context) (*graph, error) {
	return a.graph.GetOrPopulate(ctx, func(ctx context.Context) (*graph, error) {
		nodes, err := retry(ctx, a, func() ([]Node, error) {
			return a.api.ListAll(ctx)
		})
		if err != nil {
			return nil, err
		}
		a.logger.Debug("drive graph loaded", zap.Int("items", len(nodes)))
		return newGraph(nodes), nil
	})
}

// changed drops the graph after a mutation
func (a *Adapter) changed() {
	a.graph.Invalidate()
}

func segments(p string) []string {
	rel := strings.Trim(vfs.Rel(p), "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

// lookup walks p from the root by parent links
func (a *Adapter) lookup(ctx context.Context, op, p string) (Node, *graph, error) {
	rootID, err := a.root(ctx)
	if err != nil {
		return Node{}, nil, err
	}
	g, err := a.tree(ctx)
	if err != nil {
		return Node{}, nil, mapError(op, p, err)
	}

	current := Node{ID: rootID, MIMEType: FolderMIME}
	for _, seg := range segments(p) {
		next, ok := g.child(current.ID, seg, false)
		if !ok {
			return Node{}, g, vfs.NewPathError(op, p, vfs.ErrNotExist)
		}
		current = next
	}
	return current, g, nil
}

// lookupFolder resolves p and requires a folder
func (a *Adapter) lookupFolder(ctx context.Context, op, p string) (Node, *graph, error) {
	n, g, err := a.lookup(ctx, op, p)
	if err != nil {
		return Node{}, g, err
	}
	if !n.IsFolder() {
		return Node{}, g, vfs.NewPathError(op, p, vfs.ErrNotDir)
	}
	return n, g, nil
}

func describe(p string, n Node) vfs.File {
	if n.IsFolder() {
		f := vfs.NewDir(p)
		f.ID = n.ID
		f.Mtime = n.Modified
		f.Ctime = n.Created
		return f
	}
	f := vfs.NewFile(p, n.MIMEType)
	f.ID = n.ID
	f.Size = n.Size
	f.Mtime = n.Modified
	f.Ctime = n.Created
	return f
}

// Scandir lists the children of dir, with a ".." entry below the root
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	folder, g, err := a.lookupFolder(ctx, "scandir", dir.Path)
	if err != nil {
		return nil, err
	}

	var files []vfs.File
	if !vfs.IsRootPath(dir.Path) {
		back := vfs.NewDir(vfs.Dirname(dir.Path))
		back.Filename = vfs.BacklinkName
		files = append(files, back)
	}
	for _, id := range g.children[folder.ID] {
		n := g.nodes[id]
		if n.Trashed {
			continue
		}
		files = append(files, describe(vfs.Join(dir.Path, n.Name), n))
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
	n, _, err := a.lookup(ctx, "download", file.Path)
	if err != nil {
		return nil, err
	}
	if n.IsFolder() {
		return nil, vfs.NewPathError("download", file.Path, vfs.ErrIsDir)
	}
	rc, err := retry(ctx, a, func() (io.ReadCloser, error) {
		return a.api.Download(ctx, n.ID)
	})
	if err != nil {
		return nil, mapError("download", file.Path, err)
	}
	return rc, nil
}

// put creates p or replaces the content of the existing file
func (a *Adapter) put(ctx context.Context, op, p, mime string, content io.Reader) error {
	parent, g, err := a.lookupFolder(ctx, op, vfs.Dirname(p))
	if err != nil {
		return err
	}
	defer a.changed()

	name := vfs.Basename(p)
	if existing, ok := g.child(parent.ID, name, false); ok {
		if existing.IsFolder() {
			return vfs.NewPathError(op, p, vfs.ErrIsDir)
		}
		_, err := a.api.Update(ctx, existing.ID, content)
		if err != nil {
			return mapError(op, p, err)
		}
		return nil
	}

	_, err = a.api.Create(ctx, Node{Name: name, MIMEType: mime, Parents: []string{parent.ID}}, content)
	if err != nil {
		return mapError(op, p, err)
	}
	return nil
}

// Write creates file or updates it in place
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.put(ctx, "write", file.Path, file.MIME, bytes.NewReader(data))
}

// Upload implements vfs.Transport
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	p := vfs.Join(dest.Path, upload.Name)
	mime := upload.MIME
	if mime == "" {
		mime = vfs.NewFile(p).MIME
	}
	return a.put(ctx, "upload", p, mime, upload.Body)
}

// Copy duplicates src as dest. Folders are copied item by item since Drive
// only copies files.
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	n, g, err := a.lookup(ctx, "copy", src.Path)
	if err != nil {
		return err
	}
	parent, _, err := a.lookupFolder(ctx, "copy", vfs.Dirname(dest.Path))
	if err != nil {
		return err
	}
	defer a.changed()

	if err := a.copyNode(ctx, g, n, vfs.Basename(dest.Path), parent.ID); err != nil {
		return mapError("copy", src.Path, err)
	}
	return nil
}

func (a *Adapter) copyNode(ctx context.Context, g *graph, n Node, name, parentID string) error {
	if !n.IsFolder() {
		return do(ctx, a, func() error {
			_, err := a.api.Copy(ctx, n.ID, name, parentID)
			return err
		})
	}

	folder, err := a.api.Create(ctx, Node{Name: name, MIMEType: FolderMIME, Parents: []string{parentID}}, nil)
	if err != nil {
		return err
	}
	for _, id := range g.children[n.ID] {
		child := g.nodes[id]
		if child.Trashed {
			continue
		}
		if err := a.copyNode(ctx, g, child, child.Name, folder.ID); err != nil {
			return err
		}
	}
	return nil
}

// Move renames src and re-parents it under dest's folder
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	n, _, err := a.lookup(ctx, "move", src.Path)
	if err != nil {
		return err
	}
	if n.ID == a.rootID {
		return vfs.NewPathError("move", src.Path, vfs.ErrInvalidArgument)
	}
	parent, _, err := a.lookupFolder(ctx, "move", vfs.Dirname(dest.Path))
	if err != nil {
		return err
	}
	defer a.changed()

	err = do(ctx, a, func() error {
		_, err := a.api.Move(ctx, n.ID, vfs.Basename(dest.Path), parent.ID, n.Parents)
		return err
	})
	if err != nil {
		return mapError("move", src.Path, err)
	}
	return nil
}

// Unlink deletes file permanently. Folders go with their content.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	n, _, err := a.lookup(ctx, "unlink", file.Path)
	if err != nil {
		return err
	}
	if n.ID == a.rootID {
		return vfs.NewPathError("unlink", file.Path, vfs.ErrInvalidArgument)
	}
	defer a.changed()

	if err := do(ctx, a, func() error { return a.api.Delete(ctx, n.ID) }); err != nil {
		return mapError("unlink", file.Path, err)
	}
	return nil
}

// Mkdir creates dir and any missing parent folders
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	rootID, err := a.root(ctx)
	if err != nil {
		return err
	}
	g, err := a.tree(ctx)
	if err != nil {
		return mapError("mkdir", dir.Path, err)
	}

	created := false
	defer func() {
		if created {
			a.changed()
		}
	}()

	parentID := rootID
	for _, seg := range segments(dir.Path) {
		if existing, ok := g.child(parentID, seg, false); ok {
			if !existing.IsFolder() {
				return vfs.NewPathError("mkdir", dir.Path, vfs.ErrNotDir)
			}
			parentID = existing.ID
			continue
		}
		folder, err := a.api.Create(ctx, Node{Name: seg, MIMEType: FolderMIME, Parents: []string{parentID}}, nil)
		if err != nil {
			return mapError("mkdir", dir.Path, err)
		}
		created = true
		parentID = folder.ID
	}
	return nil
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	_, _, err := a.lookup(ctx, "exists", file.Path)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	n, _, err := a.lookup(ctx, "fileinfo", file.Path)
	if err != nil {
		return vfs.File{}, err
	}
	return describe(file.Path, n), nil
}

// URL returns the web content link of file
func (a *Adapter) URL(ctx context.Context, file vfs.File) (string, error) {
	n, _, err := a.lookup(ctx, "url", file.Path)
	if err != nil {
		return "", err
	}
	if n.Link == "" && n.ID != "" {
		n, err = retry(ctx, a, func() (Node, error) { return a.api.Get(ctx, n.ID) })
		if err != nil {
			return "", mapError("url", file.Path, err)
		}
	}
	if n.Link == "" {
		return "", vfs.NewPathError("url", file.Path, vfs.ErrNotSupported)
	}
	return n.Link, nil
}

// Find matches entry names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// Trash moves file to the Drive trash
func (a *Adapter) Trash(ctx context.Context, file vfs.File) error {
	n, _, err := a.lookup(ctx, "trash", file.Path)
	if err != nil {
		return err
	}
	defer a.changed()

	if err := do(ctx, a, func() error { return a.api.SetTrashed(ctx, n.ID, true) }); err != nil {
		return mapError("trash", file.Path, err)
	}
	return nil
}

// Untrash restores the trashed item at file's path
func (a *Adapter) Untrash(ctx context.Context, file vfs.File) error {
	id := file.ID
	if id == "" {
		parent, g, err := a.lookupFolder(ctx, "untrash", vfs.Dirname(file.Path))
		if err != nil {
			return err
		}
		n, ok := g.child(parent.ID, vfs.Basename(file.Path), true)
		if !ok {
			return vfs.NewPathError("untrash", file.Path, vfs.ErrNotExist)
		}
		id = n.ID
	}
	defer a.changed()

	if err := do(ctx, a, func() error { return a.api.SetTrashed(ctx, id, false) }); err != nil {
		return mapError("untrash", file.Path, err)
	}
	return nil
}

// EmptyTrash implements vfs.Transport
func (a *Adapter) EmptyTrash(ctx context.Context) error {
	defer a.changed()
	if err := do(ctx, a, func() error { return a.api.EmptyTrash(ctx) }); err != nil {
		return mapError("emptyTrash", "", err)
	}
	return nil
}

// FreeSpace is unknown for Drive
func (a *Adapter) FreeSpace(context.Context, string) (int64, error) {
	return -1, nil
}

// Ensure Adapter implements interfaces
var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.Initializer = (*Adapter)(nil)
	_ io.Closer       = (*Adapter)(nil)
)
