// Package vfs routes virtual file system requests to the backend that owns
// a path. Paths look like "home:///Documents/notes.txt": the scheme names a
// [Mountpoint], and the mountpoint's [Transport] serves everything below it.
//
// # Transports
//
// Every backend implements the full [Transport] interface. Operations a
// backend cannot serve return [ErrNotSupported]; embed [Unsupported] to get
// that behavior for free. Drivers register a factory with
// [RegisterTransport] so mount tables can name them:
//
//   - Local disk (github.com/os-js/OS.js-sub002/driver/disk)
//   - In-memory (github.com/os-js/OS.js-sub002/driver/memory)
//   - Amazon S3 (github.com/os-js/OS.js-sub002/driver/s3)
//   - Google Cloud Storage (github.com/os-js/OS.js-sub002/driver/gcs)
//   - Azure Blob Storage (github.com/os-js/OS.js-sub002/driver/azure)
//   - Google Drive (github.com/os-js/OS.js-sub002/driver/gdrive)
//   - SFTP (github.com/os-js/OS.js-sub002/driver/sftp)
//   - WebDAV (github.com/os-js/OS.js-sub002/driver/webdav)
//   - Static HTTP sites, read-only (github.com/os-js/OS.js-sub002/driver/web)
//   - ZIP archives, read-only (github.com/os-js/OS.js-sub002/driver/zip)
//   - A remote OS.js server (github.com/os-js/OS.js-sub002/driver/osjs)
//
// Optional interfaces extend a transport: [Initializer] for session setup
// on mount, [Notifier] for changes made outside the VFS, and [CanChecksum]
// for hashing without a transfer. Wrappers such as [ReadOnlyTransport],
// [CachingTransport] and [PollingTransport] expose the transport they wrap
// through Unwrap, so capabilities survive wrapping.
//
// # Basic Usage
//
//	mounts := vfs.NewMountManager("home")
//	home, _ := vfs.NewMountpoint("home", memory.New())
//	_ = mounts.Add(home)
//
//	fs := vfs.New(mounts, vfs.WithLogger(logger))
//	if err := fs.Mount(ctx, "home"); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = fs.Write(ctx, "home:///hello.txt", "Hello, World!")
//	text, _ := fs.ReadString(ctx, "home:///hello.txt")
//	list, _ := fs.Scandir(ctx, "home:///", vfs.SortBy(vfs.SortFilename, vfs.SortAsc))
//
// Paths without a scheme resolve against the default mount.
//
// # Mount Tables
//
// [NewFromEnv] and [NewFromConfig] build a ready VFS from a YAML or JSON
// mount table plus BEAVER_VFS_* environment variables:
//
//	fs, err := vfs.NewFromEnv(ctx)
//
// # Cross-Mount Operations
//
// Copy and Move between mounts served by different transports stream the
// source through the VFS. Move then unlinks the source.
//
//	err := fs.Copy(ctx, "home:///report.pdf", "s3:///backup/report.pdf")
//
// # Events and Watches
//
// Operations broadcast [Event] values such as "vfs:write" to subscribers.
// [VFS.Watch] registers a callback for mutations below a directory, and
// [VFS.Listen] feeds out-of-band changes from [Notifier] transports into
// the same pipeline.
//
// # Error Handling
//
// Errors wrap sentinels and can be checked with the helpers:
//
//	if vfs.IsNotExist(err) {
//	    // Handle missing file
//	}
//
//	var pathErr *vfs.PathError
//	if errors.As(err, &pathErr) {
//	    fmt.Println(pathErr.Op, pathErr.Path)
//	}
package vfs
