// Package mime maps a file extension to a Content-Type for the admin
// server's static file responses (spec.md §4.7's MIME_MAPPING, extended
// with the handful of extra types the management page itself needs —
// see SPEC_FULL.md).
package mime

import "strings"

const defaultType = "application/octet-stream"

var byExtension = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"png":  "image/png",
	"txt":  "text/plain",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

// ForPath returns the Content-Type for path based on its extension, falling
// back to application/octet-stream for anything unrecognised.
func ForPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i == -1 || i == len(path)-1 {
		return defaultType
	}
	ext := strings.ToLower(path[i+1:])
	if ct, ok := byExtension[ext]; ok {
		return ct
	}
	return defaultType
}
