// Package mimeutil centralises content-type inference and the response
// header rules for previews and downloads.
//
// ByFileName infers content types from the filename extension alone.
// BySniff sniffs leading bytes (gabriel-vasile/mimetype) first and falls
// back to the extension when sniffing is inconclusive. Client-supplied
// content types are never trusted for signing or storage.
package mimeutil

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// textExtensions lists extensions treated as the text family: source
// code, configuration, structured text, and logs. Previews of these are
// forced to text/plain so browsers render them instead of interpreting
// them.
var textExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".log": true,
	".json": true, ".xml": true, ".yaml": true, ".yml": true, ".toml": true,
	".csv": true, ".tsv": true, ".ini": true, ".cfg": true, ".conf": true,
	".env": true, ".properties": true,
	".go": true, ".py": true, ".rb": true, ".rs": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".cs": true, ".java": true,
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".php": true,
	".sh": true, ".bash": true, ".zsh": true, ".ps1": true, ".bat": true,
	".sql": true, ".proto": true, ".tf": true, ".dockerfile": true,
	".css": true, ".scss": true, ".less": true,
}

// ByFileName infers a content type from the filename extension. Unknown
// extensions yield application/octet-stream.
func ByFileName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if textExtensions[ext] {
		return "text/plain; charset=UTF-8"
	}
	return "application/octet-stream"
}

// BySniff infers a content type from leading content bytes, falling back
// to filename inference when sniffing is inconclusive.
func BySniff(name string, head []byte) string {
	if len(head) > 0 {
		if mt := mimetype.Detect(head); mt != nil && mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	return ByFileName(name)
}

// IsTextFamily reports whether the filename names a text-class file
// (markdown, source code, configuration, structured text, CSV, log).
func IsTextFamily(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	if textExtensions[ext] {
		return true
	}
	ct := ByFileName(name)
	return strings.HasPrefix(ct, "text/")
}

// ResponseContentType computes the content type to serve a file with.
// For inline previews, text-family files are forced to
// "text/plain; charset=UTF-8", HTML included, so user content is never
// rendered as a document in the gateway's origin. For downloads, the
// inferred type is kept and textual types gain an explicit charset.
func ResponseContentType(name string, inline bool) string {
	if inline && IsTextFamily(name) {
		return "text/plain; charset=UTF-8"
	}

	ct := ByFileName(name)
	if inline && strings.HasPrefix(ct, "text/html") {
		return "text/plain; charset=UTF-8"
	}
	if strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "charset") {
		ct += "; charset=UTF-8"
	}
	return ct
}

// ContentDisposition builds an RFC 6266 disposition header value with the
// UTF-8 percent-encoded filename form.
func ContentDisposition(name string, inline bool) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	if name == "" {
		return kind
	}
	return kind + "; filename*=UTF-8''" + url.PathEscape(name)
}
