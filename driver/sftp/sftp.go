package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sync"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds the SSH connection settings
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded
	// KnownHostsFile verifies the server key. Empty accepts any key.
	KnownHostsFile string
}

// Adapter is a Transport over an SFTP server. The session is opened by
// Init, so a mount stays registered while the server is unreachable.
type Adapter struct {
	vfs.Unsupported

	mu       sync.Mutex
	config   Config
	client   *sftp.Client
	sshConn  *ssh.Client
	basePath string
	logger   *zap.Logger
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithBasePath roots the mount at basePath on the server
func WithBasePath(basePath string) AdapterOption {
	return func(a *Adapter) {
		a.basePath = path.Clean("/" + basePath)
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an SFTP transport that dials cfg on Init
func New(cfg Config, options ...AdapterOption) *Adapter {
	a := &Adapter{config: cfg, basePath: "/", logger: zap.NewNop()}
	for _, option := range options {
		option(a)
	}
	return a
}

// NewWithClient creates a transport over an established session
func NewWithClient(client *sftp.Client, options ...AdapterOption) *Adapter {
	a := New(Config{}, options...)
	a.client = client
	return a
}

func (a *Adapter) sshConfig() (*ssh.ClientConfig, error) {
	conf := &ssh.ClientConfig{
		User:            a.config.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // opt-in through KnownHostsFile
	}
	if a.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(a.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		conf.HostKeyCallback = cb
	}

	if len(a.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(a.config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		conf.Auth = append(conf.Auth, ssh.PublicKeys(signer))
	}
	if a.config.Password != "" {
		conf.Auth = append(conf.Auth, ssh.Password(a.config.Password))
	}
	if len(conf.Auth) == 0 {
		return nil, fmt.Errorf("%w: no sftp authentication method", vfs.ErrInvalidArgument)
	}
	return conf, nil
}

// Init implements vfs.Initializer by opening the SSH session
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	conf, err := a.sshConfig()
	if err != nil {
		return err
	}
	port := a.config.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", a.config.Host, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshConn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return fmt.Errorf("start sftp session: %w", err)
	}
	a.sshConn, a.client = sshConn, client
	a.logger.Info("sftp session opened", zap.String("addr", addr), zap.String("base", a.basePath))
	return nil
}

// Close ends the session. Init may open a new one.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.sshConn != nil {
		errs = append(errs, a.sshConn.Close())
		a.sshConn = nil
	}
	return errors.Join(errs...)
}

// session returns the open client or ErrNotMounted
func (a *Adapter) session(op, p string) (*sftp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, vfs.NewPathError(op, p, vfs.ErrNotMounted)
	}
	return a.client, nil
}

// remote maps a virtual path onto the server. The cleaned relative path
// cannot climb above the base path.
func (a *Adapter) remote(p string) string {
	return path.Join(a.basePath, path.Clean("/"+vfs.Rel(p)))
}

// mapSFTPError maps SFTP errors onto vfs errors
func mapSFTPError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return vfs.NewPathError(op, p, vfs.ErrNotExist)
	case errors.Is(err, fs.ErrExist):
		return vfs.NewPathError(op, p, vfs.ErrFileExists)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return vfs.NewPathError(op, p, err)
}

func toFile(p string, info os.FileInfo) vfs.File {
	var f vfs.File
	if info.IsDir() {
		f = vfs.NewDir(p)
	} else {
		f = vfs.NewFile(p)
		f.Size = info.Size()
	}
	f.Mtime = info.ModTime()
	return f
}

// Scandir implements vfs.Transport
func (a *Adapter) Scandir(ctx context.Context, dir vfs.File) ([]vfs.File, error) {
	c, err := a.session("scandir", dir.Path)
	if err != nil {
		return nil, err
	}
	entries, err := c.ReadDir(a.remote(dir.Path))
	if err != nil {
		return nil, mapSFTPError("scandir", dir.Path, err)
	}

	files := make([]vfs.File, 0, len(entries))
	for _, e := range entries {
		files = append(files, toFile(vfs.Join(dir.Path, e.Name()), e))
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
		return nil, mapSFTPError("read", file.Path, err)
	}
	return data, nil
}

// Download implements vfs.Transport
func (a *Adapter) Download(ctx context.Context, file vfs.File) (io.ReadCloser, error) {
	c, err := a.session("read", file.Path)
	if err != nil {
		return nil, err
	}
	f, err := c.Open(a.remote(file.Path))
	if err != nil {
		return nil, mapSFTPError("read", file.Path, err)
	}
	return f, nil
}

func (a *Adapter) put(ctx context.Context, op, p string, body io.Reader) error {
	c, err := a.session(op, p)
	if err != nil {
		return err
	}
	f, err := c.Create(a.remote(p))
	if err != nil {
		return mapSFTPError(op, p, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return mapSFTPError(op, p, err)
	}
	if err := f.Close(); err != nil {
		return mapSFTPError(op, p, err)
	}
	return nil
}

// Write implements vfs.Transport
func (a *Adapter) Write(ctx context.Context, file vfs.File, data []byte) error {
	return a.put(ctx, "write", file.Path, bytes.NewReader(data))
}

// Upload implements vfs.Transport by streaming the body to the server
func (a *Adapter) Upload(ctx context.Context, dest vfs.File, upload vfs.UploadFile) error {
	return a.put(ctx, "upload", vfs.Join(dest.Path, upload.Name), upload.Body)
}

// Copy implements vfs.Transport. SFTP has no server-side copy, so the
// content passes through this process; directories are copied recursively.
func (a *Adapter) Copy(ctx context.Context, src, dest vfs.File) error {
	c, err := a.session("copy", src.Path)
	if err != nil {
		return err
	}
	if err := a.copyTree(ctx, c, a.remote(src.Path), a.remote(dest.Path)); err != nil {
		return mapSFTPError("copy", src.Path, err)
	}
	return nil
}

func (a *Adapter) copyTree(ctx context.Context, c *sftp.Client, src, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := c.Stat(src)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		in, err := c.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := c.Create(dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	}

	if err := c.Mkdir(dest); err != nil {
		return err
	}
	entries, err := c.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := a.copyTree(ctx, c, path.Join(src, e.Name()), path.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Move implements vfs.Transport with a server-side rename
func (a *Adapter) Move(ctx context.Context, src, dest vfs.File) error {
	c, err := a.session("move", src.Path)
	if err != nil {
		return err
	}
	if err := c.Rename(a.remote(src.Path), a.remote(dest.Path)); err != nil {
		return mapSFTPError("move", src.Path, err)
	}
	return nil
}

// Unlink implements vfs.Transport. Directories are removed recursively.
func (a *Adapter) Unlink(ctx context.Context, file vfs.File) error {
	c, err := a.session("unlink", file.Path)
	if err != nil {
		return err
	}
	if err := a.removeTree(ctx, c, a.remote(file.Path)); err != nil {
		return mapSFTPError("unlink", file.Path, err)
	}
	return nil
}

func (a *Adapter) removeTree(ctx context.Context, c *sftp.Client, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := c.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return c.Remove(p)
	}

	entries, err := c.ReadDir(p)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := a.removeTree(ctx, c, path.Join(p, e.Name())); err != nil {
			return err
		}
	}
	return c.RemoveDirectory(p)
}

// Mkdir implements vfs.Transport
func (a *Adapter) Mkdir(ctx context.Context, dir vfs.File) error {
	c, err := a.session("mkdir", dir.Path)
	if err != nil {
		return err
	}
	if err := c.Mkdir(a.remote(dir.Path)); err != nil {
		if _, serr := c.Stat(a.remote(dir.Path)); serr == nil {
			return vfs.NewPathError("mkdir", dir.Path, vfs.ErrFileExists)
		}
		return mapSFTPError("mkdir", dir.Path, err)
	}
	return nil
}

// Exists implements vfs.Transport
func (a *Adapter) Exists(ctx context.Context, file vfs.File) (bool, error) {
	_, err := a.FileInfo(ctx, file)
	if vfs.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// FileInfo implements vfs.Transport
func (a *Adapter) FileInfo(ctx context.Context, file vfs.File) (vfs.File, error) {
	c, err := a.session("fileinfo", file.Path)
	if err != nil {
		return vfs.File{}, err
	}
	info, err := c.Stat(a.remote(file.Path))
	if err != nil {
		return vfs.File{}, mapSFTPError("fileinfo", file.Path, err)
	}
	return toFile(file.Path, info), nil
}

// Find matches names below dir against a glob pattern
func (a *Adapter) Find(ctx context.Context, dir vfs.File, query vfs.FindQuery) ([]vfs.File, error) {
	return vfs.Select(ctx, a, dir, vfs.Glob(query.Query), query.Recursive, query.Limit)
}

// FreeSpace implements vfs.Transport through the statvfs extension.
// Servers without it report ErrNotSupported.
func (a *Adapter) FreeSpace(ctx context.Context, root string) (int64, error) {
	c, err := a.session("freeSpace", root)
	if err != nil {
		return 0, err
	}
	if _, ok := c.HasExtension("statvfs@openssh.com"); !ok {
		return 0, vfs.NewPathError("freeSpace", root, vfs.ErrNotSupported)
	}
	st, err := c.StatVFS(a.remote(root))
	if err != nil {
		return 0, mapSFTPError("freeSpace", root, err)
	}
	return int64(st.FreeSpace()), nil
}

func (a *Adapter) String() string {
	return fmt.Sprintf("sftp://%s@%s%s", a.config.Username, a.config.Host, a.basePath)
}

var (
	_ vfs.Transport   = (*Adapter)(nil)
	_ vfs.Initializer = (*Adapter)(nil)
	_ io.Closer       = (*Adapter)(nil)
)
