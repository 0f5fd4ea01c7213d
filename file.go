package vfs

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"
)

// FileType is the kind of entry a File describes
type FileType string

const (
	TypeFile  FileType = "file"
	TypeDir   FileType = "dir"
	TypeTrash FileType = "trash"
)

// BacklinkName is the filename of the synthesized parent entry in listings
const BacklinkName = ".."

// File describes one filesystem entry. Values are passed by copy and are
// treated as immutable once handed to the VFS.
type File struct {
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
	Type     FileType  `json:"type"`
	MIME     string    `json:"mime,omitempty"`
	Size     int64     `json:"size"`
	ID       string    `json:"id,omitempty"`
	Ctime    time.Time `json:"ctime,omitempty"`
	Mtime    time.Time `json:"mtime,omitempty"`
}

// NewFile creates a file descriptor for p. The filename is the last path
// segment and the MIME type is guessed from it unless given.
func NewFile(p string, mime ...string) File {
	f := File{
		Path:     p,
		Filename: Basename(p),
		Type:     TypeFile,
		Size:     -1,
	}
	if len(mime) > 0 && mime[0] != "" {
		f.MIME = mime[0]
	}
	f.applyDefaults()
	return f
}

// NewDir creates a directory descriptor for p
func NewDir(p string) File {
	return File{
		Path:     p,
		Filename: Basename(p),
		Type:     TypeDir,
		Size:     0,
	}
}

// FileFromMap builds a descriptor from a loosely typed object, copying only
// the fields it recognizes.
func FileFromMap(m map[string]any) File {
	f := File{Type: TypeFile, Size: -1}
	if v, ok := m["path"].(string); ok {
		f.Path = v
	}
	if v, ok := m["filename"].(string); ok {
		f.Filename = v
	}
	if v, ok := m["type"].(string); ok && v != "" {
		f.Type = FileType(v)
	}
	if v, ok := m["mime"].(string); ok {
		f.MIME = v
	}
	if v, ok := m["id"].(string); ok {
		f.ID = v
	}
	switch v := m["size"].(type) {
	case int:
		f.Size = int64(v)
	case int64:
		f.Size = v
	case float64:
		f.Size = int64(v)
	}
	f.Ctime = timeField(m["ctime"])
	f.Mtime = timeField(m["mtime"])
	if f.Filename == "" && f.Path != "" {
		f.Filename = Basename(f.Path)
	}
	f.applyDefaults()
	return f
}

func timeField(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	case float64:
		return time.UnixMilli(int64(t))
	}
	return time.Time{}
}

func (f *File) applyDefaults() {
	if f.Type == "" {
		f.Type = TypeFile
	}
	if f.Type == TypeFile && f.MIME == "" {
		f.MIME = GuessMIME(f.Filename)
	}
}

// IsDir reports whether the entry is a directory
func (f File) IsDir() bool {
	return f.Type == TypeDir
}

// IsBacklink reports whether the entry is the synthesized ".." entry
func (f File) IsBacklink() bool {
	return f.Filename == BacklinkName
}

// Validate checks that the descriptor can be routed
func (f File) Validate() error {
	if strings.TrimSpace(f.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	switch f.Type {
	case TypeFile, TypeDir, TypeTrash:
	default:
		return fmt.Errorf("%w: unknown file type %q", ErrInvalidArgument, f.Type)
	}
	return nil
}

// WithPath returns a copy of f addressed at p
func (f File) WithPath(p string) File {
	f.Path = p
	if !f.IsBacklink() {
		f.Filename = Basename(p)
	}
	return f
}

// ============================================================================
// Virtual path helpers
// ============================================================================
// Virtual paths have the form <scheme>://<absolute path>, e.g. home:///a.txt.

const schemeSep = "://"

// SplitPath splits a virtual path into its scheme and a cleaned absolute
// path. ok is false when p carries no scheme.
func SplitPath(p string) (scheme, rest string, ok bool) {
	i := strings.Index(p, schemeSep)
	if i < 0 {
		return "", cleanRel(p), false
	}
	return p[:i], cleanRel(p[i+len(schemeSep):]), true
}

// HasScheme reports whether p is scheme-qualified
func HasScheme(p string) bool {
	return strings.Contains(p, schemeSep)
}

// Rel returns the absolute path of p inside its mount, always starting with
// a slash.
func Rel(p string) string {
	_, rest, _ := SplitPath(p)
	return rest
}

// Scheme returns the scheme of p or an empty string
func Scheme(p string) string {
	s, _, _ := SplitPath(p)
	return s
}

// Build joins a scheme and an absolute path into a virtual path
func Build(scheme, rest string) string {
	return scheme + schemeSep + cleanRel(rest)
}

// Dirname returns the parent directory of p, keeping the scheme
func Dirname(p string) string {
	scheme, rest, ok := SplitPath(p)
	parent := path.Dir(rest)
	if !ok {
		return parent
	}
	return Build(scheme, parent)
}

// Basename returns the last segment of p
func Basename(p string) string {
	_, rest, _ := SplitPath(p)
	if rest == "/" {
		return ""
	}
	return path.Base(rest)
}

// Join appends name segments to the directory p
func Join(p string, elem ...string) string {
	scheme, rest, ok := SplitPath(p)
	joined := path.Join(append([]string{rest}, elem...)...)
	if !ok {
		return cleanRel(joined)
	}
	return Build(scheme, joined)
}

// IsRootPath reports whether p addresses the top of its scheme
func IsRootPath(p string) bool {
	return Rel(p) == "/"
}

func cleanRel(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// ============================================================================
// Data URLs
// ============================================================================

// DataURL is the self-describing embeddable string form of file content
type DataURL struct {
	MIME string
	Data []byte
}

// String renders the data URL as data:<mime>;base64,<payload>
func (d DataURL) String() string {
	m := d.MIME
	if m == "" {
		m = MIMEOctetStream
	}
	return "data:" + m + ";base64," + base64.StdEncoding.EncodeToString(d.Data)
}

// ParseDataURL decodes a data URL produced by DataURL.String or a browser.
// Non-base64 payloads are taken verbatim.
func ParseDataURL(s string) (DataURL, error) {
	if !strings.HasPrefix(s, "data:") {
		return DataURL{}, fmt.Errorf("%w: not a data URL", ErrConversionFailure)
	}
	header, payload, found := strings.Cut(s[len("data:"):], ",")
	if !found {
		return DataURL{}, fmt.Errorf("%w: data URL has no payload", ErrConversionFailure)
	}
	d := DataURL{MIME: MIMEOctetStream}
	params := strings.Split(header, ";")
	if params[0] != "" {
		d.MIME = params[0]
	}
	isBase64 := false
	for _, p := range params[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		d.Data = []byte(payload)
		return d, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURL{}, fmt.Errorf("%w: %v", ErrConversionFailure, err)
	}
	d.Data = data
	return d, nil
}
