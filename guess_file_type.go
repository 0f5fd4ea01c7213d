package vfs

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// MIME types the VFS itself relies on
const (
	MIMEOctetStream = "application/octet-stream"
	MIMETextPlain   = "text/plain"
	MIMEJSON        = "application/json"
	MIMEXML         = "application/xml"
	MIMEJavaScript  = "application/javascript"
)

// Extensions a desktop client sees often enough that the answer should not
// depend on the host's mime.types.
var extensionToMIME = map[string]string{
	".txt":   MIMETextPlain,
	".log":   MIMETextPlain,
	".md":    "text/markdown",
	".csv":   "text/csv",
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    MIMEJavaScript,
	".json":  MIMEJSON,
	".xml":   MIMEXML,
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".bmp":   "image/bmp",
	".ico":   "image/x-icon",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".wav":   "audio/wav",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".tar":   "application/x-tar",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".odt":   "application/vnd.oasis.opendocument.text",
	".ods":   "application/vnd.oasis.opendocument.spreadsheet",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// GuessMIME returns the MIME type for a filename from its extension alone,
// falling back to application/octet-stream.
func GuessMIME(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return MIMEOctetStream
	}
	if m, ok := extensionToMIME[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		// mime.TypeByExtension appends parameters like charset
		if i := strings.IndexByte(m, ';'); i >= 0 {
			m = strings.TrimSpace(m[:i])
		}
		return m
	}
	return MIMEOctetStream
}

// GuessContentType is GuessMIME with content sniffing when the extension is
// not conclusive.
func GuessContentType(filename string, data []byte) string {
	m := GuessMIME(filename)
	if m != MIMEOctetStream || len(data) == 0 {
		return m
	}
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = strings.TrimSpace(sniffed[:i])
	}
	return sniffed
}

// IsTextMIME reports whether a payload of this type can be decoded as text
func IsTextMIME(contentType string) bool {
	base, _, _ := mime.ParseMediaType(contentType)
	if base == "" {
		base = contentType
	}
	switch {
	case strings.HasPrefix(base, "text/"):
		return true
	case base == MIMEJSON, base == MIMEXML, base == MIMEJavaScript, base == "image/svg+xml":
		return true
	case strings.HasSuffix(base, "+json"), strings.HasSuffix(base, "+xml"):
		return true
	}
	return false
}
