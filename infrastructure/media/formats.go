package media

import (
	"path/filepath"
	"strings"
)

// supportedExtensions are the formats the decoder chain can read.
// AVIF has no pure Go decoder and is left out.
var supportedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// IsSupportedFormat checks the extension against the decoder chain.
func IsSupportedFormat(filename string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// IsHEIC checks if the file is HEIC/HEIF format (requires special handling)
func IsHEIC(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}

func MimeType(filename string) string {
	if mime, ok := supportedExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsHidden reports dotfiles and editor/OS temp files that writers leave behind.
func IsHidden(filename string) bool {
	base := filepath.Base(filename)
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp")
}
