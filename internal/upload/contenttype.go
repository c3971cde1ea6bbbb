package upload

import (
	"path/filepath"
	"strings"
)

// contentTypes maps file extensions to the content type sent on presign.
// Extensions outside this table are rejected before any network call.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
}

// ContentTypeFor resolves the content type from the filename extension.
func ContentTypeFor(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	ct, ok := contentTypes[ext]
	return ct, ok
}
